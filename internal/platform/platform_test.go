package platform

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/goam43/internal/config"
	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
	"github.com/mlsorensen/goam43/pkg/blinds/mock"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

const (
	blindAddr = "02:AA:BB:CC:DD:01"
	tiltAddr  = "02:AA:BB:CC:DD:02"
	otherAddr = "02:AA:BB:CC:DD:03"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func parse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func newPlatform(t *testing.T, cfg *config.Config, motors ...*mock.Motor) (*Platform, *mock.Adapter) {
	t.Helper()
	a := mock.NewAdapter(motors...)
	m := gatt.NewManager(a, comms.Profile,
		gatt.WithLogger(quietLogger()),
		gatt.WithObserveTimeout(50*time.Millisecond))
	return New(cfg, m, WithLogger(quietLogger())), a
}

const tiltConfig = `
poll_interval: 0
allowed_devices:
  - name: Bedroom
    address: 02:aa:bb:cc:dd:01
    has_tilt: true
    tilt_motor:
      address: 02:aa:bb:cc:dd:02
      orientation: horizontal
`

func TestNewBuildsSessions(t *testing.T) {
	p, _ := newPlatform(t, parse(t, tiltConfig))

	devices := p.Devices()
	require.Len(t, devices, 1)
	d := devices[0]
	assert.Equal(t, blindAddr, d.Blind.ID())
	require.NotNil(t, d.Tilt)
	assert.Equal(t, tiltAddr, d.Tilt.ID())
	assert.Same(t, d.Tilt, d.Blind.TiltMotor())
	assert.Equal(t, "Bedroom", d.Blind.Name())
	require.NotNil(t, d.Blind.Config().TiltMotor)
	assert.EqualValues(t, "horizontal", d.Blind.Config().TiltMotor.Orientation)

	sessions := p.Sessions()
	require.Len(t, sessions, 2)
	assert.Same(t, d.Blind, sessions[0])
	assert.Same(t, d.Tilt, sessions[1])
}

func TestStartConnectsAndRefreshes(t *testing.T) {
	blind := mock.NewMotor(blindAddr, "Bedroom")
	blind.SetPosition(20)
	tilt := mock.NewMotor(tiltAddr, "Bedroom tilt")
	tilt.SetPosition(100)
	p, _ := newPlatform(t, parse(t, tiltConfig), blind, tilt)

	require.NoError(t, p.Start(context.Background()))
	d := p.Devices()[0]
	assert.True(t, d.Blind.HasRunFirstConnect())
	assert.True(t, d.Tilt.HasRunFirstConnect())
	assert.Equal(t, 20, d.Blind.Position())
	angle, ok := d.Blind.Tilt()
	assert.True(t, ok)
	assert.Equal(t, 90, angle)

	require.NoError(t, p.Shutdown())
}

func TestStartReportsUnreachableMotors(t *testing.T) {
	cfg := parse(t, `
poll_interval: 0
allowed_devices:
  - address: 02:aa:bb:cc:dd:01
  - address: 02:aa:bb:cc:dd:03
`)
	p, _ := newPlatform(t, cfg, mock.NewMotor(blindAddr, "Bedroom"))

	err := p.Start(context.Background())
	var connErr *gatt.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, otherAddr, connErr.Device)

	devices := p.Devices()
	assert.True(t, devices[0].Blind.HasRunFirstConnect())
	assert.False(t, devices[1].Blind.HasRunFirstConnect())
}

func TestPollRefreshesState(t *testing.T) {
	blind := mock.NewMotor(blindAddr, "Bedroom")
	tilt := mock.NewMotor(tiltAddr, "Bedroom tilt")
	p, _ := newPlatform(t, parse(t, tiltConfig), blind, tilt)
	require.NoError(t, p.Start(context.Background()))

	blind.SetPosition(70)
	blind.SetBattery(33)
	tilt.SetPosition(0)
	p.Poll()

	d := p.Devices()[0]
	assert.Equal(t, 70, d.Blind.Position())
	assert.Equal(t, 33, d.Blind.BatteryPercentage())
	angle, _ := d.Blind.Tilt()
	assert.Equal(t, -90, angle)
}

func TestPollingLoop(t *testing.T) {
	blind := mock.NewMotor(blindAddr, "Bedroom")
	cfg := parse(t, `
poll_interval: 0
allowed_devices:
  - address: 02:aa:bb:cc:dd:01
`)
	p, _ := newPlatform(t, cfg, blind)
	// Faster than any configurable interval.
	require.NoError(t, p.Start(context.Background()))
	p.startPolling(10 * time.Millisecond)

	blind.SetBattery(12)
	d := p.Devices()[0]
	assert.Eventually(t, func() bool { return d.Blind.BatteryPercentage() == 12 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Shutdown())
}

func TestLowBatteryIsWarned(t *testing.T) {
	blind := mock.NewMotor(blindAddr, "Bedroom")
	blind.SetBattery(LowBattery)
	a := mock.NewAdapter(blind)
	m := gatt.NewManager(a, comms.Profile, gatt.WithLogger(quietLogger()))
	logger, hook := test.NewNullLogger()

	p := New(parse(t, "poll_interval: 0\nallowed_devices:\n  - address: 02:aa:bb:cc:dd:01\n"), m, WithLogger(logger))
	require.NoError(t, p.Start(context.Background()))
	p.Poll()

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Bedroom battery low: 10%" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestShutdownDisconnectsThenDestroys(t *testing.T) {
	blind := mock.NewMotor(blindAddr, "Bedroom")
	tilt := mock.NewMotor(tiltAddr, "Bedroom tilt")
	p, a := newPlatform(t, parse(t, tiltConfig), blind, tilt)
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Shutdown())
	assert.False(t, blind.Connected())
	assert.False(t, tilt.Connected())
	assert.False(t, blind.Notifying())
	assert.True(t, a.Closed())

	assert.NoError(t, p.Shutdown())
}
