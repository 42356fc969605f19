package modbusdevices

import (
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
)

var (
	ErrPoolClosed = errors.New("modbus pool is closed")
	ErrFactoryNil = errors.New("factory cannot be nil")
)

// ErrorKind classifies engine errors.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindProtocol
	KindConnectionLost
	KindOutOfRange
	KindInvalidOption
	KindConfig
	KindNotWritable
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol error"
	case KindConnectionLost:
		return "connection lost"
	case KindOutOfRange:
		return "out of range"
	case KindInvalidOption:
		return "invalid option"
	case KindConfig:
		return "configuration error"
	case KindNotWritable:
		return "not writable"
	case KindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Error is returned by transports, writes and device loading.
// Compare with errors.Is against the Err* kind sentinels.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Kind sentinels, for use with errors.Is.
var (
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrProtocol       = &Error{Kind: KindProtocol}
	ErrConnectionLost = &Error{Kind: KindConnectionLost}
	ErrOutOfRange     = &Error{Kind: KindOutOfRange}
	ErrInvalidOption  = &Error{Kind: KindInvalidOption}
	ErrConfig         = &Error{Kind: KindConfig}
	ErrNotWritable    = &Error{Kind: KindNotWritable}
	ErrNotFound       = &Error{Kind: KindNotFound}
)

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels, i.e. errors without Op and Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// classify maps a raw client error to Timeout, ProtocolError or ConnectionLost.
func classify(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return newError(KindProtocol, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, op, err)
	}
	if isConnectionLost(err) {
		return newError(KindConnectionLost, op, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return newError(KindTimeout, op, err)
	}
	return newError(KindProtocol, op, err)
}

func isConnectionLost(err error) bool {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return true
	}
	msg := err.Error()
	for _, s := range []string{"EOF", "connection refused", "connection reset", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func configError(format string, args ...any) error {
	return newError(KindConfig, "load", fmt.Errorf(format, args...))
}
