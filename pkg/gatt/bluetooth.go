package gatt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

const readBufferSize = 512

// BluetoothAdapter implements Adapter on the host radio.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter
	bluez   *bluezDevices
	log     logrus.FieldLogger

	// the radio runs one scan at a time
	scanMu sync.Mutex

	mu          sync.Mutex
	peripherals map[string]*btPeripheral
	closed      bool
}

var _ Adapter = (*BluetoothAdapter)(nil)

// NewBluetoothAdapter wraps the default adapter. Device properties are read from
// BlueZ when the system bus is reachable.
func NewBluetoothAdapter(log logrus.FieldLogger) *BluetoothAdapter {
	a := &BluetoothAdapter{
		adapter:     bluetooth.DefaultAdapter,
		log:         log,
		peripherals: make(map[string]*btPeripheral),
	}
	bz, err := newBluezDevices()
	if err != nil {
		log.WithError(err).Debug("BlueZ properties unavailable, using advertisement data only")
	} else {
		a.bluez = bz
	}
	return a
}

func (a *BluetoothAdapter) Enable() error {
	return a.adapter.Enable()
}

func (a *BluetoothAdapter) Scan(ctx context.Context, service uint16, found func(Advertisement)) error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	if a.isClosed() {
		return errors.New("adapter closed")
	}

	var filter bluetooth.UUID
	if service != 0 {
		filter = bluetooth.New16BitUUID(service)
	}

	handler := func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := Advertisement{
			Address: NormalizeID(result.Address.String()),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		}
		a.observe(adv.Address, result.Address, adv.Name)

		if service != 0 && !result.HasServiceUUID(filter) {
			return
		}
		found(adv)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	scanErrChan := make(chan error, 1)

	go func() {
		defer wg.Done()
		if err := a.adapter.Scan(handler); err != nil {
			scanErrChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-scanErrChan:
		return err
	}

	a.stopScan()
	wg.Wait()
	close(scanErrChan)

	return <-scanErrChan
}

// stopScan retries briefly, the scan goroutine may not have started yet.
func (a *BluetoothAdapter) stopScan() {
	var err error
	for i := 0; i < 3; i++ {
		if err = a.adapter.StopScan(); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	a.log.WithError(err).Warn("failed to stop scan cleanly")
}

func (a *BluetoothAdapter) observe(id string, address bluetooth.Address, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.peripherals[id]
	if !ok {
		a.peripherals[id] = &btPeripheral{owner: a, id: id, address: address, advName: name}
		return
	}
	if name != "" {
		p.mu.Lock()
		p.advName = name
		p.mu.Unlock()
	}
}

func (a *BluetoothAdapter) lookup(id string) *btPeripheral {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peripherals[id]
}

func (a *BluetoothAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *BluetoothAdapter) WaitDevice(ctx context.Context, address string) (Peripheral, error) {
	id := NormalizeID(address)
	if p := a.lookup(id); p != nil {
		return p, nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := a.Scan(scanCtx, 0, func(adv Advertisement) {
		if adv.Address == id {
			cancel()
		}
	})
	if p := a.lookup(id); p != nil {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("device %s not observed: %w", id, ctx.Err())
}

func (a *BluetoothAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	peripherals := make([]*btPeripheral, 0, len(a.peripherals))
	for _, p := range a.peripherals {
		peripherals = append(peripherals, p)
	}
	a.mu.Unlock()

	var errs []error
	for _, p := range peripherals {
		if p.linked() {
			errs = append(errs, p.Disconnect())
		}
	}
	return errors.Join(errs...)
}

type btPeripheral struct {
	owner   *BluetoothAdapter
	id      string
	address bluetooth.Address

	mu        sync.Mutex
	advName   string
	device    bluetooth.Device
	connected bool
	services  []bluetooth.DeviceService
	byUUID    map[string]*btService
}

func (p *btPeripheral) Address() string { return p.id }

func (p *btPeripheral) Name() (string, error) {
	if p.owner.bluez != nil {
		if name, ok := p.owner.bluez.name(p.id); ok {
			return name, nil
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.advName != "" {
		return p.advName, nil
	}
	return "", fmt.Errorf("no name known for %s", p.id)
}

func (p *btPeripheral) linked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *btPeripheral) Connected() bool {
	if !p.linked() {
		return false
	}
	if p.owner.bluez != nil {
		if connected, ok := p.owner.bluez.connected(p.id); ok {
			return connected
		}
	}
	return true
}

func (p *btPeripheral) Connect() error {
	device, err := p.owner.adapter.Connect(p.address, bluetooth.ConnectionParams{})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.device = device
	p.connected = true
	p.services = nil
	p.byUUID = nil
	p.mu.Unlock()
	return nil
}

func (p *btPeripheral) GATT() (Server, error) {
	if !p.linked() {
		return nil, fmt.Errorf("device %s is not connected", p.id)
	}
	return &btServer{p: p}, nil
}

func (p *btPeripheral) Disconnect() error {
	p.mu.Lock()
	device := p.device
	wasConnected := p.connected
	p.connected = false
	p.services = nil
	p.byUUID = nil
	p.mu.Unlock()

	if !wasConnected {
		return nil
	}
	return device.Disconnect()
}

func (p *btPeripheral) discoverServices() ([]bluetooth.DeviceService, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.services != nil {
		return p.services, nil
	}
	services, err := p.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("could not discover services: %w", err)
	}
	p.services = services
	p.byUUID = make(map[string]*btService, len(services))
	for _, svc := range services {
		p.byUUID[strings.ToLower(svc.UUID().String())] = &btService{service: svc}
	}
	return services, nil
}

type btServer struct {
	p *btPeripheral
}

func (s *btServer) Services() ([]string, error) {
	services, err := s.p.discoverServices()
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(services))
	for _, svc := range services {
		uuids = append(uuids, svc.UUID().String())
	}
	return uuids, nil
}

func (s *btServer) Service(uuid string) (Service, error) {
	if _, err := s.p.discoverServices(); err != nil {
		return nil, err
	}
	s.p.mu.Lock()
	svc, ok := s.p.byUUID[strings.ToLower(uuid)]
	s.p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("service %s not found", uuid)
	}
	return svc, nil
}

type btService struct {
	service bluetooth.DeviceService

	mu    sync.Mutex
	chars []bluetooth.DeviceCharacteristic
}

func (s *btService) discoverCharacteristics() ([]bluetooth.DeviceCharacteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chars != nil {
		return s.chars, nil
	}
	chars, err := s.service.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("could not discover characteristics: %w", err)
	}
	s.chars = chars
	return chars, nil
}

func (s *btService) Characteristics() ([]string, error) {
	chars, err := s.discoverCharacteristics()
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(chars))
	for _, c := range chars {
		uuids = append(uuids, c.UUID().String())
	}
	return uuids, nil
}

func (s *btService) Characteristic(uuid string) (Characteristic, error) {
	chars, err := s.discoverCharacteristics()
	if err != nil {
		return nil, err
	}
	for _, c := range chars {
		if strings.EqualFold(c.UUID().String(), uuid) {
			return btCharacteristic{char: c}, nil
		}
	}
	return nil, fmt.Errorf("characteristic %s not found", uuid)
}

type btCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c btCharacteristic) UUID() string { return c.char.UUID().String() }

func (c btCharacteristic) Write(p []byte) error {
	_, err := c.char.WriteWithoutResponse(p)
	return err
}

func (c btCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c btCharacteristic) StartNotifications(fn func([]byte)) error {
	return c.char.EnableNotifications(fn)
}

func (c btCharacteristic) StopNotifications() error {
	return c.char.EnableNotifications(nil)
}
