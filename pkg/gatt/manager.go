package gatt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultObserveTimeout bounds how long Connect waits for a device to show up.
const DefaultObserveTimeout = 30 * time.Second

// Profile holds the short identifiers of the service and characteristic a device
// family exposes for control.
type Profile struct {
	Service        uint16
	Characteristic uint16
}

// ServicePrefix is the leading part of the long form of the service id.
func (p Profile) ServicePrefix() string { return shortPrefix(p.Service) }

// CharacteristicPrefix is the leading part of the long form of the characteristic id.
func (p Profile) CharacteristicPrefix() string { return shortPrefix(p.Characteristic) }

func shortPrefix(id uint16) string { return fmt.Sprintf("0000%04x", id) }

// Record is the cached connection to one device.
type Record struct {
	Peripheral Peripheral
	Server     Server

	// Filled in by ResolveServiceAndCharacteristic.
	ServiceUUID        string
	CharacteristicUUID string
}

// Subscription associates a notification callback with the characteristic that
// feeds it. The manager keeps no reference to it, dropping the last reference
// releases both.
type Subscription struct {
	device         string
	characteristic Characteristic
	fn             func([]byte)
	active         atomic.Bool
}

// Device returns the device the subscription belongs to.
func (s *Subscription) Device() string { return s.device }

func (s *Subscription) deliver(buf []byte) {
	if s.active.Load() {
		s.fn(buf)
	}
}

type connectCall struct {
	done chan struct{}
	rec  *Record
	err  error
}

// Manager owns one GATT connection per device identifier.
type Manager struct {
	adapter        Adapter
	profile        Profile
	log            logrus.FieldLogger
	observeTimeout time.Duration

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	records  map[string]*Record
	inflight map[string]*connectCall
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithObserveTimeout bounds how long Connect waits for an unseen device.
func WithObserveTimeout(d time.Duration) Option {
	return func(m *Manager) { m.observeTimeout = d }
}

// NewManager creates a manager driving adapter for devices exposing profile.
func NewManager(adapter Adapter, profile Profile, opts ...Option) *Manager {
	m := &Manager{
		adapter:        adapter,
		profile:        profile,
		log:            logrus.StandardLogger(),
		observeTimeout: DefaultObserveTimeout,
		records:        make(map[string]*Record),
		inflight:       make(map[string]*connectCall),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NormalizeID returns the canonical form of a device address.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func (m *Manager) enable() error {
	m.enableOnce.Do(func() {
		m.log.Debug("enabling bluetooth adapter")
		m.enableErr = m.adapter.Enable()
	})
	return m.enableErr
}

// Discover scans for devices advertising the profile's service for wait and
// returns the addresses observed.
func (m *Manager) Discover(ctx context.Context, wait time.Duration) ([]string, error) {
	seen := make(map[string]struct{})
	var mu sync.Mutex
	err := m.Scan(ctx, wait, func(a Advertisement) {
		mu.Lock()
		seen[NormalizeID(a.Address)] = struct{}{}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Scan reports advertisements of the profile's service until wait elapses or
// ctx is done.
func (m *Manager) Scan(ctx context.Context, wait time.Duration, found func(Advertisement)) error {
	if err := m.enable(); err != nil {
		return fmt.Errorf("failed to enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	m.log.WithField("service", fmt.Sprintf("%04x", m.profile.Service)).Debugf("scanning for %s", wait)
	err := m.adapter.Scan(ctx, m.profile.Service, found)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// Connect returns the cached record for id if its link is still up, otherwise it
// waits for the device, links to it and caches the new record. Callers that
// overlap an attempt in progress share its outcome.
func (m *Manager) Connect(ctx context.Context, id string) (*Record, error) {
	id = NormalizeID(id)

	m.mu.Lock()
	rec := m.records[id]
	m.mu.Unlock()
	if rec != nil && rec.Peripheral.Connected() {
		return rec, nil
	}

	m.mu.Lock()
	if call, ok := m.inflight[id]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.rec, call.err
		case <-ctx.Done():
			return nil, &ConnectionError{Device: id, Err: ctx.Err()}
		}
	}
	call := &connectCall{done: make(chan struct{})}
	m.inflight[id] = call
	m.mu.Unlock()

	call.rec, call.err = m.dial(ctx, id)

	m.mu.Lock()
	delete(m.inflight, id)
	if call.err == nil {
		if rec != nil {
			call.rec.ServiceUUID = rec.ServiceUUID
			call.rec.CharacteristicUUID = rec.CharacteristicUUID
		}
		m.records[id] = call.rec
	}
	m.mu.Unlock()
	close(call.done)

	return call.rec, call.err
}

func (m *Manager) dial(ctx context.Context, id string) (*Record, error) {
	if err := m.enable(); err != nil {
		return nil, &ConnectionError{Device: id, Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.observeTimeout)
	defer cancel()

	log := m.log.WithField("device", id)
	log.Debug("waiting for device")
	p, err := m.adapter.WaitDevice(waitCtx, id)
	if err != nil {
		return nil, &ConnectionError{Device: id, Err: err}
	}
	if p == nil {
		return nil, &ConnectionError{Device: id, Err: errors.New("device not observed")}
	}

	if !p.Connected() {
		log.Debug("connecting")
		if err := p.Connect(); err != nil {
			return nil, &ConnectionError{Device: id, Err: err}
		}
	}

	srv, err := p.GATT()
	if err != nil {
		_ = p.Disconnect()
		return nil, &ConnectionError{Device: id, Err: fmt.Errorf("could not get GATT server: %w", err)}
	}

	log.Info("connected")
	return &Record{Peripheral: p, Server: srv}, nil
}

// ResolveServiceAndCharacteristic finds the long UUIDs of the profile's service
// and control characteristic on device id.
func (m *Manager) ResolveServiceAndCharacteristic(ctx context.Context, id string) (string, string, error) {
	rec, err := m.Connect(ctx, id)
	if err != nil {
		return "", "", err
	}
	id = NormalizeID(id)

	services, err := rec.Server.Services()
	if err != nil {
		return "", "", &DiscoveryError{Device: id, What: "service", UUID: m.profile.ServicePrefix(), Err: err}
	}
	serviceUUID := findPrefixed(services, m.profile.ServicePrefix())
	if serviceUUID == "" {
		return "", "", &DiscoveryError{Device: id, What: "service", UUID: m.profile.ServicePrefix()}
	}

	service, err := rec.Server.Service(serviceUUID)
	if err != nil {
		return "", "", &DiscoveryError{Device: id, What: "service", UUID: serviceUUID, Err: err}
	}
	chars, err := service.Characteristics()
	if err != nil {
		return "", "", &DiscoveryError{Device: id, What: "characteristic", UUID: m.profile.CharacteristicPrefix(), Err: err}
	}
	charUUID := findPrefixed(chars, m.profile.CharacteristicPrefix())
	if charUUID == "" {
		return "", "", &DiscoveryError{Device: id, What: "characteristic", UUID: m.profile.CharacteristicPrefix()}
	}

	m.mu.Lock()
	rec.ServiceUUID = serviceUUID
	rec.CharacteristicUUID = charUUID
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"device":         id,
		"service":        serviceUUID,
		"characteristic": charUUID,
	}).Debug("resolved control characteristic")
	return serviceUUID, charUUID, nil
}

func findPrefixed(uuids []string, prefix string) string {
	for _, u := range uuids {
		if strings.HasPrefix(strings.ToLower(u), prefix) {
			return u
		}
	}
	return ""
}

func (m *Manager) characteristic(ctx context.Context, id, serviceUUID, charUUID string) (Characteristic, error) {
	rec, err := m.Connect(ctx, id)
	if err != nil {
		return nil, err
	}
	service, err := rec.Server.Service(serviceUUID)
	if err != nil {
		return nil, &DiscoveryError{Device: NormalizeID(id), What: "service", UUID: serviceUUID, Err: err}
	}
	char, err := service.Characteristic(charUUID)
	if err != nil {
		return nil, &DiscoveryError{Device: NormalizeID(id), What: "characteristic", UUID: charUUID, Err: err}
	}
	return char, nil
}

// Write writes p to the characteristic, then reads it back once. The read only
// confirms the exchange, its failure does not fail the write.
func (m *Manager) Write(ctx context.Context, id, serviceUUID, charUUID string, p []byte) error {
	char, err := m.characteristic(ctx, id, serviceUUID, charUUID)
	if err != nil {
		return err
	}

	log := m.log.WithField("device", NormalizeID(id))
	log.Debugf("write % x", p)
	if err := char.Write(p); err != nil {
		return &WriteError{Device: NormalizeID(id), Err: err}
	}
	if buf, err := char.Read(); err != nil {
		log.WithError(err).Debug("confirming read failed")
	} else {
		log.Debugf("confirming read % x", buf)
	}
	return nil
}

// Read returns the current value of the characteristic.
func (m *Manager) Read(ctx context.Context, id, serviceUUID, charUUID string) ([]byte, error) {
	char, err := m.characteristic(ctx, id, serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	buf, err := char.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read from device %s: %w", NormalizeID(id), err)
	}
	return buf, nil
}

// Subscribe enables notifications on the characteristic and delivers them to fn
// until the returned subscription is passed to Unsubscribe.
func (m *Manager) Subscribe(ctx context.Context, id, serviceUUID, charUUID string, fn func([]byte)) (*Subscription, error) {
	char, err := m.characteristic(ctx, id, serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{device: NormalizeID(id), characteristic: char, fn: fn}
	sub.active.Store(true)
	if err := char.StartNotifications(sub.deliver); err != nil {
		return nil, fmt.Errorf("failed to enable notifications on %s: %w", NormalizeID(id), err)
	}
	m.log.WithField("device", sub.device).Debug("subscribed to notifications")
	return sub, nil
}

// Unsubscribe stops delivery to the subscription's callback and disables
// notifications on its characteristic. Unsubscribing twice is a no-op.
func (m *Manager) Unsubscribe(sub *Subscription) error {
	if sub == nil || !sub.active.Swap(false) {
		return nil
	}
	m.log.WithField("device", sub.device).Debug("unsubscribing from notifications")
	return sub.characteristic.StopNotifications()
}

// Disconnect tears down the link to id and forgets its record.
func (m *Manager) Disconnect(id string) error {
	id = NormalizeID(id)

	m.mu.Lock()
	rec := m.records[id]
	delete(m.records, id)
	m.mu.Unlock()

	if rec == nil {
		return nil
	}
	m.log.WithField("device", id).Info("disconnecting")
	if err := rec.Peripheral.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", id, err)
	}
	return nil
}

// Destroy releases the adapter. It is called once, after every device has been
// disconnected.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	m.records = make(map[string]*Record)
	m.mu.Unlock()

	m.log.Debug("destroying bluetooth adapter")
	return m.adapter.Close()
}
