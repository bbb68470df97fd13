package gatt

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

var (
	_ Peripheral     = (*btPeripheral)(nil)
	_ Server         = (*btServer)(nil)
	_ Service        = (*btService)(nil)
	_ Characteristic = btCharacteristic{}
)

func offlineAdapter() *BluetoothAdapter {
	return &BluetoothAdapter{
		adapter:     bluetooth.DefaultAdapter,
		log:         logrus.New(),
		peripherals: make(map[string]*btPeripheral),
	}
}

func TestObserveKeepsLatestAdvertisedName(t *testing.T) {
	a := offlineAdapter()
	a.observe("02:00:00:00:00:01", bluetooth.Address{}, "")
	a.observe("02:00:00:00:00:01", bluetooth.Address{}, "Kitchen")
	a.observe("02:00:00:00:00:01", bluetooth.Address{}, "")

	p := a.lookup("02:00:00:00:00:01")
	require.NotNil(t, p)
	name, err := p.Name()
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", name)
	assert.Nil(t, a.lookup("02:00:00:00:00:02"))
}

func TestPeripheralWithoutNameOrLink(t *testing.T) {
	a := offlineAdapter()
	a.observe("02:00:00:00:00:01", bluetooth.Address{}, "")
	p := a.lookup("02:00:00:00:00:01")

	_, err := p.Name()
	assert.Error(t, err)
	assert.False(t, p.Connected())
	assert.Equal(t, "02:00:00:00:00:01", p.Address())
}

func TestCloseWithoutLinks(t *testing.T) {
	a := offlineAdapter()
	a.observe("02:00:00:00:00:01", bluetooth.Address{}, "Kitchen")

	require.NoError(t, a.Close())
	assert.True(t, a.isClosed())
}

func TestBluezDevicePath(t *testing.T) {
	b := &bluezDevices{adapterPath: bluezDefaultAdapter}
	assert.Equal(t, "/org/bluez/hci0/dev_02_00_00_00_00_0A", string(b.devicePath("02:00:00:00:00:0a")))
}
