// Package mock provides an in-memory AM43 motor and radio implementing gatt.Adapter.
// It is intended for development and testing purposes when a physical motor is not available.
package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

const (
	ServiceUUID        = "0000fe50-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000fe51-0000-1000-8000-00805f9b34fb"
	genericAccessUUID  = "00001800-0000-1000-8000-00805f9b34fb"
	deviceNameUUID     = "00002a00-0000-1000-8000-00805f9b34fb"
)

// This line is the compile-time check. It will fail to compile if
// *Adapter ever stops satisfying the gatt.Adapter interface.
var _ gatt.Adapter = (*Adapter)(nil)
var _ gatt.Peripheral = (*Motor)(nil)

// Adapter is a simulated radio that can see a fixed set of motors.
type Adapter struct {
	mu      sync.Mutex
	motors  map[string]*Motor
	enabled bool
	closed  bool
}

// NewAdapter creates a radio that observes the given motors.
func NewAdapter(motors ...*Motor) *Adapter {
	a := &Adapter{motors: make(map[string]*Motor)}
	for _, m := range motors {
		a.Add(m)
	}
	return a
}

// Add makes a motor observable.
func (a *Adapter) Add(m *Motor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.motors[gatt.NormalizeID(m.address)] = m
}

// Closed reports whether Close has been called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("mock adapter closed")
	}
	a.enabled = true
	return nil
}

func (a *Adapter) snapshot() []*Motor {
	a.mu.Lock()
	defer a.mu.Unlock()
	motors := make([]*Motor, 0, len(a.motors))
	for _, m := range a.motors {
		motors = append(motors, m)
	}
	return motors
}

// Scan reports every motor once, then waits for ctx.
func (a *Adapter) Scan(ctx context.Context, service uint16, found func(gatt.Advertisement)) error {
	for _, m := range a.snapshot() {
		if service != 0 && service != comms.Profile.Service {
			continue
		}
		m.mu.Lock()
		adv := gatt.Advertisement{Address: gatt.NormalizeID(m.address), Name: m.name, RSSI: m.rssi}
		m.mu.Unlock()
		found(adv)
	}
	<-ctx.Done()
	return nil
}

func (a *Adapter) WaitDevice(ctx context.Context, address string) (gatt.Peripheral, error) {
	a.mu.Lock()
	m, ok := a.motors[gatt.NormalizeID(address)]
	a.mu.Unlock()
	if ok {
		return m, nil
	}
	<-ctx.Done()
	return nil, fmt.Errorf("device %s not observed: %w", address, ctx.Err())
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	for _, m := range a.snapshot() {
		_ = m.Disconnect()
	}
	return nil
}

// Motor is a simulated AM43 motor.
type Motor struct {
	address string

	mu         sync.Mutex
	name       string
	rssi       int
	position   int
	battery    int
	light      int
	passcode   []byte
	authed     bool
	connected  bool
	noControl  bool
	notify     func([]byte)
	muted      map[byte]bool
	writes     [][]byte
	lastValue  []byte
	connects   int
	discovered int
	reads      int
}

// NewMotor creates a motor at address, half open with a half charged battery.
func NewMotor(address, name string) *Motor {
	return &Motor{
		address:  address,
		name:     name,
		rssi:     -60,
		position: 50,
		battery:  50,
		muted:    make(map[byte]bool),
	}
}

// SetPosition moves the simulated blind without notifying.
func (m *Motor) SetPosition(p int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = p
}

// SetBattery sets the reported battery percentage.
func (m *Motor) SetBattery(p int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.battery = p
}

// SetLightLevel sets the reported light sensor level.
func (m *Motor) SetLightLevel(l int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.light = l
}

// RequirePasscode makes the motor reject commands until authenticated with code.
func (m *Motor) RequirePasscode(code string) error {
	data, err := comms.ParsePasscode(code)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passcode = data
	return nil
}

// WithoutControlService hides the control service from discovery.
func (m *Motor) WithoutControlService() *Motor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noControl = true
	return m
}

// Mute stops the motor from replying to a command id.
func (m *Motor) Mute(cmd byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted[cmd] = true
}

// Unmute restores replies to a command id.
func (m *Motor) Unmute(cmd byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.muted, cmd)
}

// Push delivers a notification frame if notifications are enabled.
func (m *Motor) Push(frame []byte) {
	m.mu.Lock()
	notify := m.notify
	m.mu.Unlock()
	if notify != nil {
		notify(frame)
	}
}

// Notifying reports whether a notification callback is registered.
func (m *Motor) Notifying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify != nil
}

// Writes returns every frame written to the control characteristic.
func (m *Motor) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Commands returns the command id of every well formed frame written.
func (m *Motor) Commands() []byte {
	var cmds []byte
	for _, w := range m.Writes() {
		if cmd, _, err := comms.SplitCommand(w); err == nil {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Connects counts link establishments.
func (m *Motor) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// ServiceDiscoveries counts service enumerations.
func (m *Motor) ServiceDiscoveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discovered
}

// Reads counts characteristic reads.
func (m *Motor) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Position returns the simulated position.
func (m *Motor) Position() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Motor) Address() string { return gatt.NormalizeID(m.address) }

func (m *Motor) Name() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name, nil
}

func (m *Motor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Motor) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.connects++
	return nil
}

func (m *Motor) GATT() (gatt.Server, error) {
	if !m.Connected() {
		return nil, errors.New("not connected")
	}
	return server{m: m}, nil
}

func (m *Motor) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.authed = false
	m.notify = nil
	return nil
}

type server struct{ m *Motor }

func (s server) Services() ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !s.m.connected {
		return nil, errors.New("not connected")
	}
	s.m.discovered++
	if s.m.noControl {
		return []string{genericAccessUUID}, nil
	}
	return []string{genericAccessUUID, ServiceUUID}, nil
}

func (s server) Service(uuid string) (gatt.Service, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	switch {
	case uuid == genericAccessUUID:
		return service{m: s.m, chars: []string{deviceNameUUID}}, nil
	case uuid == ServiceUUID && !s.m.noControl:
		return service{m: s.m, chars: []string{CharacteristicUUID}}, nil
	}
	return nil, fmt.Errorf("service %s not found", uuid)
}

type service struct {
	m     *Motor
	chars []string
}

func (s service) Characteristics() ([]string, error) { return s.chars, nil }

func (s service) Characteristic(uuid string) (gatt.Characteristic, error) {
	if uuid != CharacteristicUUID {
		return nil, fmt.Errorf("characteristic %s not found", uuid)
	}
	return control{m: s.m}, nil
}

type control struct{ m *Motor }

func (c control) UUID() string { return CharacteristicUUID }

func (c control) Read() ([]byte, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if !c.m.connected {
		return nil, errors.New("not connected")
	}
	c.m.reads++
	return bytes.Clone(c.m.lastValue), nil
}

func (c control) StartNotifications(fn func([]byte)) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if !c.m.connected {
		return errors.New("not connected")
	}
	c.m.notify = fn
	return nil
}

func (c control) StopNotifications() error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.notify = nil
	return nil
}

// Write records the frame and answers it the way the firmware does. Replies are
// delivered before Write returns.
func (c control) Write(p []byte) error {
	m := c.m
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return errors.New("not connected")
	}
	m.writes = append(m.writes, bytes.Clone(p))
	m.lastValue = bytes.Clone(p)

	var replies [][]byte
	if cmd, payload, err := comms.SplitCommand(p); err == nil && !m.muted[cmd] {
		replies = m.handle(cmd, payload)
	}
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		for _, r := range replies {
			notify(r)
		}
	}
	return nil
}

// handle runs with m.mu held.
func (m *Motor) handle(cmd byte, payload []byte) [][]byte {
	locked := m.passcode != nil && !m.authed

	switch cmd {
	case comms.CmdPasscode:
		m.authed = m.passcode == nil || bytes.Equal(m.passcode, payload)
		return [][]byte{comms.AckReply(cmd, m.authed)}

	case comms.CmdGetPosition:
		return [][]byte{comms.PositionReply(uint8(m.position))}

	case comms.CmdGetBatteryStatus:
		return [][]byte{comms.BatteryReply(uint8(m.battery))}

	case comms.CmdGetLightSensor:
		return [][]byte{comms.LightLevelReply(uint8(m.light))}

	case comms.CmdSetPosition:
		if locked || len(payload) != 1 || payload[0] > 100 {
			return [][]byte{comms.AckReply(cmd, false)}
		}
		m.position = int(payload[0])
		return [][]byte{comms.AckReply(cmd, true), comms.NotifyPositionFrame(uint8(m.position))}

	case comms.CmdSetMove:
		if locked || len(payload) != 1 {
			return [][]byte{comms.AckReply(cmd, false)}
		}
		switch comms.MoveCommand(payload[0]) {
		case comms.MoveOpen:
			m.position = 0
		case comms.MoveClose:
			m.position = 100
		case comms.MoveStop:
		default:
			return [][]byte{comms.AckReply(cmd, false)}
		}
		return [][]byte{comms.AckReply(cmd, true), comms.NotifyPositionFrame(uint8(m.position))}

	case comms.CmdChangeName:
		if locked {
			return [][]byte{comms.AckReply(cmd, false)}
		}
		m.name = string(payload)
		return [][]byte{comms.AckReply(cmd, true)}

	case comms.CmdSetLimit:
		if locked || len(payload) < 1 {
			return [][]byte{comms.AckReply(cmd, false)}
		}
		status := comms.Ack + byte(payload[0]>>5)
		return [][]byte{{comms.StartMarker, cmd, 0x01, status, 0x31}}
	}
	return nil
}
