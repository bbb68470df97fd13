package am43

import (
	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

// NewManager creates a connection manager for AM43 motors on the host's default
// bluetooth adapter.
func NewManager(log logrus.FieldLogger, opts ...gatt.Option) *gatt.Manager {
	opts = append([]gatt.Option{gatt.WithLogger(log)}, opts...)
	return gatt.NewManager(gatt.NewBluetoothAdapter(log), comms.Profile, opts...)
}
