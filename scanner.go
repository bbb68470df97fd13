package goam43

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43/pkg/gatt"
)

// DefaultScanDuration is how long a discovery scan runs when none is configured.
const DefaultScanDuration = 8 * time.Second

// FoundDevice is a motor observed while scanning.
type FoundDevice struct {
	Name string
	ID   string
	RSSI int
}

// Scanner reports advertisements of the motor family's service.
// *gatt.Manager satisfies it.
type Scanner interface {
	Scan(ctx context.Context, wait time.Duration, found func(gatt.Advertisement)) error
}

// ScanStream returns a channel that streams each FoundDevice the first time it is
// seen and is closed when wait elapses or the context is canceled.
func ScanStream(ctx context.Context, s Scanner, wait time.Duration) (<-chan FoundDevice, error) {
	if s == nil {
		return nil, errors.New("no scanner")
	}
	deviceChan := make(chan FoundDevice)

	go func() {
		defer close(deviceChan)

		var mu sync.Mutex
		seen := make(map[string]struct{})

		handler := func(a gatt.Advertisement) {
			id := gatt.NormalizeID(a.Address)

			mu.Lock()
			_, dup := seen[id]
			seen[id] = struct{}{}
			mu.Unlock()
			if dup {
				return
			}

			select {
			case deviceChan <- FoundDevice{Name: a.Name, ID: id, RSSI: a.RSSI}:
			case <-ctx.Done():
			}
		}

		if err := s.Scan(ctx, wait, handler); err != nil {
			logrus.WithError(err).Error("scan failed")
		}
	}()

	return deviceChan, nil
}

// Scan finds motors advertising the AM43 service, blocking for duration. Devices
// are sorted by descending signal strength.
func Scan(ctx context.Context, s Scanner, duration time.Duration) ([]FoundDevice, error) {
	var mu sync.Mutex
	foundDevices := make(map[string]FoundDevice)

	handler := func(a gatt.Advertisement) {
		id := gatt.NormalizeID(a.Address)
		mu.Lock()
		defer mu.Unlock()

		d, ok := foundDevices[id]
		if !ok {
			logrus.WithField("device", id).Debugf("found a match: %s", a.Name)
		}
		// Later advertisements may carry a name the first one lacked.
		if a.Name != "" {
			d.Name = a.Name
		}
		d.ID = id
		d.RSSI = a.RSSI
		foundDevices[id] = d
	}

	if err := s.Scan(ctx, duration, handler); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	results := make([]FoundDevice, 0, len(foundDevices))
	for _, device := range foundDevices {
		results = append(results, device)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RSSI != results[j].RSSI {
			return results[i].RSSI > results[j].RSSI
		}
		return results[i].ID < results[j].ID
	})

	logrus.Infof("scan finished, found %d unique matching device(s)", len(results))
	return results, nil
}
