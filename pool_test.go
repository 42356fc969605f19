package modbusdevices

import (
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	modbus.Client
	created time.Time
	broken  bool
	closed  int
	slave   byte
}

func (c *fakeClient) Connect() error        { return nil }
func (c *fakeClient) Close() error          { c.closed++; return nil }
func (c *fakeClient) IsAlive() bool         { return !c.broken }
func (c *fakeClient) CreateTime() time.Time { return c.created }
func (c *fakeClient) SetSlaveID(id byte)    { c.slave = id }
func (c *fakeClient) MarkBroken()           { c.broken = true }

func TestModbusTCPPool(t *testing.T) {
	_, err := NewModbusTCPPool(ModbusTCPPoolConfig{}, nil)
	assert.Equal(t, ErrFactoryNil, err)

	dialed := 0
	pool, err := NewModbusTCPPool(ModbusTCPPoolConfig{MaxOpenConns: 1, ConnMaxLifetime: time.Hour}, func() (Client, error) {
		dialed++
		return &fakeClient{created: time.Now()}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dialed, "nothing is dialed up front")

	c1, err := pool.Get()
	require.NoError(t, err)
	require.NoError(t, pool.Put(c1))
	c2, err := pool.Get()
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, dialed)

	// a second connection does not fit
	c3, err := pool.Get()
	require.NoError(t, err)
	require.NoError(t, pool.Put(c2))
	require.NoError(t, pool.Put(c3))
	assert.Equal(t, 1, c3.(*fakeClient).closed)

	// broken ones are dropped
	c4, err := pool.Get()
	require.NoError(t, err)
	c4.MarkBroken()
	require.NoError(t, pool.Put(c4))
	assert.Equal(t, 1, c4.(*fakeClient).closed)

	// and so are expired ones
	old := &fakeClient{created: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, pool.Put(old))
	assert.Equal(t, 1, old.closed)

	require.NoError(t, pool.Close())
	_, err = pool.Get()
	assert.True(t, errors.Is(err, ErrPoolClosed))
	assert.Equal(t, ErrPoolClosed, pool.Close())
}

func TestModbusRTUPool(t *testing.T) {
	_, err := NewModbusRTUPool(nil)
	assert.Equal(t, ErrFactoryNil, err)

	c := &fakeClient{}
	pool, err := NewModbusRTUPool(c)
	require.NoError(t, err)

	got, err := pool.Get()
	require.NoError(t, err)
	assert.Same(t, c, got)

	require.NoError(t, pool.Put(got))
	assert.Equal(t, 0, c.closed)

	got.MarkBroken()
	require.NoError(t, pool.Put(got))
	assert.Equal(t, 1, c.closed)

	require.NoError(t, pool.Close())
	assert.Equal(t, 2, c.closed)
	_, err = pool.Get()
	assert.True(t, errors.Is(err, ErrPoolClosed), "the port is not reopened once the line is gone")
	assert.Equal(t, ErrPoolClosed, pool.Close())
}

func TestModbusTCPPoolCloseWhileInUse(t *testing.T) {
	pool, err := NewModbusTCPPool(ModbusTCPPoolConfig{MaxOpenConns: 2}, func() (Client, error) {
		return &fakeClient{created: time.Now()}, nil
	})
	require.NoError(t, err)

	idle, err := pool.Get()
	require.NoError(t, err)
	busy, err := pool.Get()
	require.NoError(t, err)
	require.NoError(t, pool.Put(idle))

	require.NoError(t, pool.Close())
	assert.Equal(t, 1, idle.(*fakeClient).closed)

	// a connection handed out before Close is closed when it comes back
	require.NoError(t, pool.Put(busy))
	assert.Equal(t, 1, busy.(*fakeClient).closed)
}
