package gatt_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
	"github.com/mlsorensen/goam43/pkg/blinds/mock"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

const addr = "02:AA:BB:CC:DD:01"

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newManager(motors ...*mock.Motor) (*gatt.Manager, *mock.Adapter) {
	a := mock.NewAdapter(motors...)
	m := gatt.NewManager(a, comms.Profile,
		gatt.WithLogger(quietLogger()),
		gatt.WithObserveTimeout(50*time.Millisecond))
	return m, a
}

func TestConnectIsIdempotent(t *testing.T) {
	motor := mock.NewMotor(addr, "Bedroom")
	m, _ := newManager(motor)

	first, err := m.Connect(context.Background(), addr)
	require.NoError(t, err)
	second, err := m.Connect(context.Background(), "02:aa:bb:cc:dd:01 ")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, motor.Connects())
}

func TestConnectRelinksDroppedPeripheral(t *testing.T) {
	motor := mock.NewMotor(addr, "Bedroom")
	m, _ := newManager(motor)
	ctx := context.Background()

	_, _, err := m.ResolveServiceAndCharacteristic(ctx, addr)
	require.NoError(t, err)
	require.NoError(t, motor.Disconnect())

	rec, err := m.Connect(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 2, motor.Connects())
	assert.Equal(t, mock.ServiceUUID, rec.ServiceUUID)
	assert.Equal(t, mock.CharacteristicUUID, rec.CharacteristicUUID)
}

func TestConcurrentConnectsShareOneLink(t *testing.T) {
	motor := mock.NewMotor(addr, "Bedroom")
	m, _ := newManager(motor)

	var wg sync.WaitGroup
	recs := make([]*gatt.Record, 8)
	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := m.Connect(context.Background(), addr)
			assert.NoError(t, err)
			recs[i] = rec
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, motor.Connects())
	for _, rec := range recs[1:] {
		assert.Same(t, recs[0], rec)
	}
}

func TestConnectUnseenDevice(t *testing.T) {
	m, _ := newManager()

	_, err := m.Connect(context.Background(), addr)
	var connErr *gatt.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, addr, connErr.Device)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveServiceAndCharacteristic(t *testing.T) {
	m, _ := newManager(mock.NewMotor(addr, "Bedroom"))

	svc, char, err := m.ResolveServiceAndCharacteristic(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, mock.ServiceUUID, svc)
	assert.Equal(t, mock.CharacteristicUUID, char)
}

func TestResolveMissingService(t *testing.T) {
	m, _ := newManager(mock.NewMotor(addr, "Bedroom").WithoutControlService())

	_, _, err := m.ResolveServiceAndCharacteristic(context.Background(), addr)
	var discErr *gatt.DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, "service", discErr.What)
	assert.Equal(t, "0000fe50", discErr.UUID)
}

func TestWriteReadsBack(t *testing.T) {
	motor := mock.NewMotor(addr, "Bedroom")
	m, _ := newManager(motor)
	ctx := context.Background()

	frame := comms.BuildMoveCommand(comms.MoveStop)
	require.NoError(t, m.Write(ctx, addr, mock.ServiceUUID, mock.CharacteristicUUID, frame))

	assert.Equal(t, [][]byte{frame}, motor.Writes())
	assert.Equal(t, 1, motor.Reads())

	buf, err := m.Read(ctx, addr, mock.ServiceUUID, mock.CharacteristicUUID)
	require.NoError(t, err)
	assert.Equal(t, frame, buf)
}

func TestWriteUnknownCharacteristic(t *testing.T) {
	m, _ := newManager(mock.NewMotor(addr, "Bedroom"))

	err := m.Write(context.Background(), addr, mock.ServiceUUID, "0000ffff-0000-1000-8000-00805f9b34fb", []byte{0x01})
	var discErr *gatt.DiscoveryError
	assert.ErrorAs(t, err, &discErr)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	motor := mock.NewMotor(addr, "Bedroom")
	m, _ := newManager(motor)
	ctx := context.Background()

	var mu sync.Mutex
	var first, second [][]byte

	sub, err := m.Subscribe(ctx, addr, mock.ServiceUUID, mock.CharacteristicUUID, func(b []byte) {
		mu.Lock()
		first = append(first, b)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, addr, sub.Device())

	motor.Push(comms.NotifyPositionFrame(10))
	require.NoError(t, m.Unsubscribe(sub))
	require.NoError(t, m.Unsubscribe(sub))
	motor.Push(comms.NotifyPositionFrame(20))
	assert.False(t, motor.Notifying())

	_, err = m.Subscribe(ctx, addr, mock.ServiceUUID, mock.CharacteristicUUID, func(b []byte) {
		mu.Lock()
		second = append(second, b)
		mu.Unlock()
	})
	require.NoError(t, err)
	motor.Push(comms.NotifyPositionFrame(30))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]byte{comms.NotifyPositionFrame(10)}, first)
	assert.Equal(t, [][]byte{comms.NotifyPositionFrame(30)}, second)
}

func TestUnsubscribeNil(t *testing.T) {
	m, _ := newManager()
	assert.NoError(t, m.Unsubscribe(nil))
}

func TestDisconnectForgetsRecord(t *testing.T) {
	motor := mock.NewMotor(addr, "Bedroom")
	m, _ := newManager(motor)
	ctx := context.Background()

	_, err := m.Connect(ctx, addr)
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(addr))
	assert.False(t, motor.Connected())
	assert.NoError(t, m.Disconnect(addr))

	_, err = m.Connect(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 2, motor.Connects())
}

func TestDiscover(t *testing.T) {
	m, _ := newManager(
		mock.NewMotor("02:aa:bb:cc:dd:02", "Kitchen"),
		mock.NewMotor(addr, "Bedroom"),
	)

	ids, err := m.Discover(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{addr, "02:AA:BB:CC:DD:02"}, ids)
}

func TestDestroyClosesAdapter(t *testing.T) {
	motor := mock.NewMotor(addr, "Bedroom")
	m, a := newManager(motor)

	_, err := m.Connect(context.Background(), addr)
	require.NoError(t, err)
	require.NoError(t, m.Destroy())

	assert.True(t, a.Closed())
	assert.False(t, motor.Connected())
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("link lost")
	err := error(&gatt.WriteError{Device: addr, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), addr)
}
