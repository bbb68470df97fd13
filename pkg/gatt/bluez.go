package gatt

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName         = "org.bluez"
	bluezDeviceInterface = "org.bluez.Device1"
	bluezDefaultAdapter  = "/org/bluez/hci0"
)

// bluezDevices reads org.bluez.Device1 properties over the system bus. It is
// only available on Linux hosts running BlueZ.
type bluezDevices struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

func newBluezDevices() (*bluezDevices, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return &bluezDevices{conn: conn, adapterPath: bluezDefaultAdapter}, nil
}

func (b *bluezDevices) devicePath(address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", b.adapterPath, strings.ReplaceAll(NormalizeID(address), ":", "_")))
}

func (b *bluezDevices) properties(address string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	obj := b.conn.Object(bluezBusName, b.devicePath(address))
	if err := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, bluezDeviceInterface).Store(&props); err != nil {
		return nil, fmt.Errorf("failed to get device properties: %w", err)
	}
	return props, nil
}

// connected reports BlueZ's view of the link. ok is false when BlueZ does not
// know the device.
func (b *bluezDevices) connected(address string) (connected bool, ok bool) {
	props, err := b.properties(address)
	if err != nil {
		return false, false
	}
	v, found := props["Connected"]
	if !found {
		return false, false
	}
	connected, ok = v.Value().(bool)
	return connected, ok
}

// name returns the device alias, falling back to the advertised name.
func (b *bluezDevices) name(address string) (string, bool) {
	props, err := b.properties(address)
	if err != nil {
		return "", false
	}
	for _, key := range []string{"Alias", "Name"} {
		if v, found := props[key]; found {
			if s, ok := v.Value().(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
