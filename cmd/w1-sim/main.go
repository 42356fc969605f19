// Command w1-sim serves a Swegon Conductor W1 register image over Modbus TCP.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
	"github.com/tbrandon/mbserver"
)

func main() {
	listen := flag.String("listen", "0.0.0.0:1502", "listen address")
	alarms := flag.Duration("alarms", time.Minute, "toggle an AC Overload alarm with this period, 0 disables")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if err := run(*listen, *alarms, logger); err != nil {
		logger.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func run(listen string, alarms time.Duration, logger zerolog.Logger) error {
	serv := mbserver.NewServer()
	seed(serv)

	boot := time.Now()
	serv.RegisterFunctionHandler(modbus.FuncCodeReadInputRegisters, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		uptime(s, time.Since(boot))
		return mbserver.ReadInputRegisters(s, frame)
	})
	serv.RegisterFunctionHandler(modbus.FuncCodeReadDiscreteInputs, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		if alarms > 0 {
			on := (time.Since(boot)/alarms)%2 == 1
			setBit(s.DiscreteInputs, 21, on)
			setBit(s.DiscreteInputs, 5, !on)
		}
		return mbserver.ReadDiscreteInputs(s, frame)
	})
	serv.RegisterFunctionHandler(modbus.FuncCodeWriteSingleRegister, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) >= 4 {
			logger.Info().Uint16("register", binary.BigEndian.Uint16(data[0:2])).Uint16("value", binary.BigEndian.Uint16(data[2:4])).Msg("write")
		}
		return mbserver.WriteHoldingRegister(s, frame)
	})

	if err := serv.ListenTCP(listen); err != nil {
		return err
	}
	defer serv.Close()
	logger.Info().Str("listen", listen).Msg("w1 simulator listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	return nil
}

// seed writes a plausible image of a W1 in normal operation.
func seed(s *mbserver.Server) {
	// status
	setBit(s.DiscreteInputs, 1, true)
	setBit(s.DiscreteInputs, 5, true)

	// device info
	s.InputRegisters[0] = 1
	putString(s.InputRegisters[1:17], "W1")
	s.InputRegisters[17] = 4
	s.InputRegisters[18] = 20315
	s.InputRegisters[19] = 112

	// sensors
	s.InputRegisters[21] = 1
	s.InputRegisters[27] = 218
	s.InputRegisters[28] = 214
	s.InputRegisters[30] = 22
	s.InputRegisters[32] = 29
	s.InputRegisters[48] = 35
	s.InputRegisters[53] = 35
	s.InputRegisters[59] = 21
	s.InputRegisters[60] = 18

	// commands
	s.HoldingRegisters[0] = 2
	s.HoldingRegisters[1] = 1
	s.HoldingRegisters[2] = 101

	// config
	s.HoldingRegisters[3] = 24
	s.HoldingRegisters[4] = 10
	for i := 5; i <= 7; i++ {
		s.HoldingRegisters[i] = 30
	}
	s.HoldingRegisters[13] = 3
	s.HoldingRegisters[14] = 1
	s.HoldingRegisters[15] = 1
	s.HoldingRegisters[16] = 2
	s.HoldingRegisters[17] = 2
	s.HoldingRegisters[18] = 2
	s.HoldingRegisters[28] = 18
	s.HoldingRegisters[29] = 28
	s.HoldingRegisters[34] = 120
	for i := 47; i <= 52; i++ {
		s.HoldingRegisters[i] = 1000
	}

	// setpoints
	s.HoldingRegisters[22] = 8
	s.HoldingRegisters[23] = 24
	s.HoldingRegisters[24] = 21
	s.HoldingRegisters[25] = 26
	s.HoldingRegisters[26] = 18
	s.HoldingRegisters[27] = 16
	s.HoldingRegisters[62] = 21
}

func uptime(s *mbserver.Server, d time.Duration) {
	minutes := int(d.Minutes())
	s.InputRegisters[24] = uint16(minutes / (365 * 24 * 60))
	s.InputRegisters[25] = uint16(minutes / 60 % (365 * 24))
	s.InputRegisters[26] = uint16(minutes % 60)
}

func setBit(bits []byte, address int, on bool) {
	if on {
		bits[address] = 1
	} else {
		bits[address] = 0
	}
}

func putString(regs []uint16, text string) {
	b := []byte(text)
	for i := 0; i < len(regs) && 2*i < len(b); i++ {
		hi := b[2*i]
		var lo byte
		if 2*i+1 < len(b) {
			lo = b[2*i+1]
		}
		regs[i] = uint16(hi)<<8 | uint16(lo)
	}
}
