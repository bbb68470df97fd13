package goam43_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/goam43"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

func ptr(v int) *int { return &v }

func TestDirectionWithoutTarget(t *testing.T) {
	for p := 0; p <= 100; p++ {
		assert.Equal(t, goam43.DirectionStop, goam43.DirectionFor(p, nil), "position %d", p)
	}
}

func TestDirectionForTarget(t *testing.T) {
	for p := 0; p <= 100; p++ {
		for target := 0; target <= 100; target++ {
			got := goam43.DirectionFor(p, ptr(target))
			switch {
			case p-target < 2 && target-p < 2:
				assert.Equal(t, goam43.DirectionStop, got, "p=%d t=%d", p, target)
			case target < p:
				assert.Equal(t, goam43.DirectionOpen, got, "p=%d t=%d", p, target)
			default:
				assert.Equal(t, goam43.DirectionClose, got, "p=%d t=%d", p, target)
			}
		}
	}
}

func TestDirectionTargetZero(t *testing.T) {
	assert.Equal(t, goam43.DirectionOpen, goam43.DirectionFor(50, ptr(0)))
	assert.Equal(t, goam43.DirectionStop, goam43.DirectionFor(1, ptr(0)))
}

func TestDirectionValues(t *testing.T) {
	assert.Equal(t, 0, int(goam43.DirectionClose))
	assert.Equal(t, 1, int(goam43.DirectionOpen))
	assert.Equal(t, 2, int(goam43.DirectionStop))
	assert.Equal(t, "open", goam43.DirectionOpen.String())
}

func TestTiltFromPosition(t *testing.T) {
	assert.Equal(t, -90, goam43.TiltFromPosition(0))
	assert.Equal(t, 0, goam43.TiltFromPosition(50))
	assert.Equal(t, 90, goam43.TiltFromPosition(100))
	assert.Equal(t, 45, goam43.TiltFromPosition(75))

	prev := goam43.TiltFromPosition(0)
	for p := 1; p <= 100; p++ {
		tilt := goam43.TiltFromPosition(p)
		assert.GreaterOrEqual(t, tilt, prev, "position %d", p)
		prev = tilt
	}
}

func TestPositionFromTiltRoundTrip(t *testing.T) {
	assert.Equal(t, 75, goam43.PositionFromTilt(45))
	for p := 0; p <= 100; p++ {
		back := goam43.PositionFromTilt(goam43.TiltFromPosition(p))
		assert.InDelta(t, p, back, 1, "position %d", p)
	}
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "position(50)", goam43.Event{Kind: goam43.EventPosition, Value: 50}.String())
	assert.Equal(t, "auth(true)", goam43.Event{Kind: goam43.EventAuth, OK: true}.String())
	assert.Equal(t, "limit-saved", goam43.Event{Kind: goam43.EventLimitSaved}.String())
}

type fakeScanner []gatt.Advertisement

func (f fakeScanner) Scan(ctx context.Context, wait time.Duration, found func(gatt.Advertisement)) error {
	for _, a := range f {
		found(a)
	}
	return nil
}

func TestScanMergesAdvertisements(t *testing.T) {
	s := fakeScanner{
		{Address: "02:aa:00:00:00:01", RSSI: -80},
		{Address: "02:AA:00:00:00:01", Name: "Bedroom", RSSI: -70},
		{Address: "02:AA:00:00:00:02", Name: "Kitchen", RSSI: -40},
	}

	found, err := goam43.Scan(context.Background(), s, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []goam43.FoundDevice{
		{Name: "Kitchen", ID: "02:AA:00:00:00:02", RSSI: -40},
		{Name: "Bedroom", ID: "02:AA:00:00:00:01", RSSI: -70},
	}, found)
}

func TestScanStreamReportsEachDeviceOnce(t *testing.T) {
	s := fakeScanner{
		{Address: "02:AA:00:00:00:01", Name: "Bedroom"},
		{Address: "02:AA:00:00:00:01", Name: "Bedroom"},
		{Address: "02:AA:00:00:00:02", Name: "Kitchen"},
	}

	ch, err := goam43.ScanStream(context.Background(), s, time.Millisecond)
	require.NoError(t, err)

	var ids []string
	for d := range ch {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"02:AA:00:00:00:01", "02:AA:00:00:00:02"}, ids)
}
