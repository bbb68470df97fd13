// Package am43 drives AM43 blind motors: connection lifecycle, commands,
// notification dispatch and request/reply correlation.
package am43

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43"
	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

// This line is the compile-time check. It will fail to compile if
// *Session ever stops satisfying the goam43.Blind interface.
var _ goam43.Blind = (*Session)(nil)

// Conn is the part of the connection manager a session uses. *gatt.Manager
// satisfies it.
type Conn interface {
	Connect(ctx context.Context, id string) (*gatt.Record, error)
	ResolveServiceAndCharacteristic(ctx context.Context, id string) (string, string, error)
	Write(ctx context.Context, id, serviceUUID, charUUID string, p []byte) error
	Subscribe(ctx context.Context, id, serviceUUID, charUUID string, fn func([]byte)) (*gatt.Subscription, error)
	Unsubscribe(sub *gatt.Subscription) error
	Disconnect(id string) error
}

const defaultAckTimeout = 1000 * time.Millisecond

// Orientation is the slat direction of a tilt motor.
type Orientation string

const (
	Vertical   Orientation = "vertical"
	Horizontal Orientation = "horizontal"
)

// TiltMotorConfig describes the secondary motor that turns the slats.
type TiltMotorConfig struct {
	Address     string
	PassCode    string
	Orientation Orientation
}

// Config is the per-device configuration.
type Config struct {
	Name     string
	PassCode string
	// HasTilt enables tilt reporting from a linked tilt motor.
	HasTilt   bool
	TiltMotor *TiltMotorConfig
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used by the session.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// Session is the protocol state of one physical motor.
type Session struct {
	conn               Conn
	id                 string
	config             Config
	interactionTimeout time.Duration
	ackTimeout         time.Duration
	log                logrus.FieldLogger

	pending *pendingRequests

	// linkMu serializes connect, reconnect and relink.
	linkMu sync.Mutex

	mu             sync.Mutex
	name           string
	position       int
	target         *int
	tilt           *int
	targetTilt     *int
	battery        int
	light          int
	firstConnected bool
	serviceUUID    string
	charUUID       string
	rec            *gatt.Record
	sub            *gatt.Subscription
	idle           *time.Timer
	tiltMotor      *Session
	tiltCancel     func()
	listeners      map[int]func(goam43.Event)
	nextListener   int
}

// New creates a session for the motor at id. A positive interactionTimeout
// disconnects the motor after that long without a command; the next command
// relinks it.
func New(conn Conn, id string, config Config, interactionTimeout time.Duration, opts ...Option) *Session {
	id = gatt.NormalizeID(id)
	name := config.Name
	if name == "" {
		name = "AM43 Blind: " + id
	}
	s := &Session{
		conn:               conn,
		id:                 id,
		config:             config,
		interactionTimeout: interactionTimeout,
		ackTimeout:         defaultAckTimeout,
		log:                logrus.StandardLogger(),
		pending:            newPendingRequests(),
		name:               name,
		position:           50,
		battery:            50,
		listeners:          make(map[int]func(goam43.Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("device", id)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) Config() Config { return s.config }

func (s *Session) description() string {
	return fmt.Sprintf("%s : %s", s.Name(), s.id)
}

// Position is the last reported position, 0 open to 100 closed.
func (s *Session) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// TargetPosition is the last requested position, if any.
func (s *Session) TargetPosition() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return 0, false
	}
	return *s.target, true
}

// Tilt is the last known slat angle, if any.
func (s *Session) Tilt() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tilt == nil {
		return 0, false
	}
	return *s.tilt, true
}

// TargetTilt is the last requested slat angle, if any.
func (s *Session) TargetTilt() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetTilt == nil {
		return 0, false
	}
	return *s.targetTilt, true
}

func (s *Session) BatteryPercentage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

func (s *Session) LightLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.light
}

func (s *Session) HasRunFirstConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstConnected
}

// TiltMotor returns the linked tilt session, or nil.
func (s *Session) TiltMotor() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiltMotor
}

func (s *Session) Direction() goam43.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return goam43.DirectionFor(s.position, s.target)
}

// OnEvent registers fn for every event the session emits. fn runs on the
// notification goroutine and must not block.
func (s *Session) OnEvent(fn func(goam43.Event)) func() {
	s.mu.Lock()
	key := s.nextListener
	s.nextListener++
	s.listeners[key] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, key)
			s.mu.Unlock()
		})
	}
}

func (s *Session) emit(ev goam43.Event) {
	s.pending.resolve(ev)

	s.mu.Lock()
	fns := make([]func(goam43.Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// AddTiltMotor links tilt as the source of this session's slat angle. Position
// reports from tilt are converted and emitted as tilt events when tilt reporting
// is enabled.
func (s *Session) AddTiltMotor(tilt *Session) {
	s.mu.Lock()
	if s.tiltCancel != nil {
		s.tiltCancel()
	}
	s.tiltMotor = tilt
	s.mu.Unlock()

	cancel := tilt.OnEvent(func(ev goam43.Event) {
		if ev.Kind != goam43.EventPosition || !s.config.HasTilt {
			return
		}
		angle := goam43.TiltFromPosition(ev.Value)
		s.mu.Lock()
		s.tilt = &angle
		s.mu.Unlock()
		s.emit(goam43.Event{Kind: goam43.EventTilt, Value: angle})
	})

	s.mu.Lock()
	s.tiltCancel = cancel
	s.mu.Unlock()
}

// FirstConnect links to the motor, reads its name, resolves the control
// characteristic, subscribes to notifications and authenticates when a passcode
// is configured. The resolved characteristic is kept for the session's lifetime.
func (s *Session) FirstConnect(ctx context.Context) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	rec, err := s.conn.Connect(ctx, s.id)
	if err != nil {
		return err
	}
	if name, err := rec.Peripheral.Name(); err != nil {
		s.log.WithError(err).Warn("could not read device name")
	} else if name != "" {
		s.mu.Lock()
		s.name = name
		s.mu.Unlock()
	}
	s.log.Infof("Connected - %s", s.description())

	serviceUUID, charUUID, err := s.conn.ResolveServiceAndCharacteristic(ctx, s.id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.serviceUUID = serviceUUID
	s.charUUID = charUUID
	s.mu.Unlock()

	if err := s.relink(ctx, rec); err != nil {
		return err
	}

	s.mu.Lock()
	s.firstConnected = true
	s.mu.Unlock()
	s.touch()
	return nil
}

// Reconnect relinks in the background. The characteristic resolved on first
// connect is reused, not resolved again.
func (s *Session) Reconnect() {
	go func() {
		if err := s.reconnect(context.Background()); err != nil {
			s.log.WithError(err).Error("reconnect failed")
		}
	}()
}

func (s *Session) reconnect(ctx context.Context) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	rec, err := s.conn.Connect(ctx, s.id)
	if err != nil {
		return err
	}
	s.log.Infof("Connected - %s", s.description())
	return s.relink(ctx, rec)
}

// relink subscribes on rec and authenticates. linkMu must be held.
func (s *Session) relink(ctx context.Context, rec *gatt.Record) error {
	s.mu.Lock()
	old := s.sub
	s.sub = nil
	s.rec = rec
	serviceUUID, charUUID := s.serviceUUID, s.charUUID
	s.mu.Unlock()

	if old != nil {
		if err := s.conn.Unsubscribe(old); err != nil {
			s.log.WithError(err).Debug("dropping stale subscription failed")
		}
	}

	sub, err := s.conn.Subscribe(ctx, s.id, serviceUUID, charUUID, s.handleNotification)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.authenticate(ctx)
	return nil
}

// ensureLinked relinks when the manager had to re-establish the link since the
// last subscribe, or the session was disconnected after its first connect.
func (s *Session) ensureLinked(ctx context.Context) error {
	if !s.HasRunFirstConnect() {
		return nil
	}
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	rec, err := s.conn.Connect(ctx, s.id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	current := rec == s.rec && s.sub != nil
	s.mu.Unlock()
	if current {
		return nil
	}
	s.log.Info("link was re-established, subscribing again")
	return s.relink(ctx, rec)
}

// authenticate sends the configured passcode. Failures are logged and the
// session carries on unauthenticated.
func (s *Session) authenticate(ctx context.Context) {
	if s.config.PassCode == "" {
		return
	}
	s.log.Info("Authing...")
	ok, err := s.authWithPassCode(ctx, s.config.PassCode)
	switch {
	case err != nil:
		s.log.WithError(err).Errorf("Passcode auth failed for %s", s.description())
	case !ok:
		s.log.Errorf("Passcode rejected by %s", s.description())
	}
}

// Disconnect unsubscribes and tears down the link.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.rec = nil
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.mu.Unlock()

	var errs []error
	if err := s.conn.Unsubscribe(sub); err != nil {
		errs = append(errs, err)
	}
	if err := s.conn.Disconnect(s.id); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// touch restarts the idle disconnect timer. It is a no-op until first connect
// has completed.
func (s *Session) touch() {
	if s.interactionTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.firstConnected {
		return
	}
	if s.idle != nil {
		s.idle.Reset(s.interactionTimeout)
		return
	}
	s.idle = time.AfterFunc(s.interactionTimeout, func() {
		s.log.Infof("no interaction for %s, disconnecting", s.interactionTimeout)
		if err := s.Disconnect(); err != nil {
			s.log.WithError(err).Warn("idle disconnect failed")
		}
	})
}

func (s *Session) characteristic() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceUUID, s.charUUID
}

// request makes sure the link is usable, then writes frame and waits for the
// reply of kind.
func (s *Session) request(kind goam43.EventKind, frame []byte) (goam43.Event, error) {
	ctx := context.Background()
	s.touch()
	if err := s.ensureLinked(ctx); err != nil {
		return goam43.Event{}, err
	}
	return s.exchange(ctx, kind, frame)
}

// exchange writes frame and waits for the reply of kind. The waiter is queued
// before the write so a reply can never beat it.
func (s *Session) exchange(ctx context.Context, kind goam43.EventKind, frame []byte) (goam43.Event, error) {
	serviceUUID, charUUID := s.characteristic()
	w := s.pending.enqueue(kind)
	if err := s.conn.Write(ctx, s.id, serviceUUID, charUUID, frame); err != nil {
		if !s.pending.cancel(w) {
			return <-w.ch, nil
		}
		return goam43.Event{}, err
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		if !s.pending.cancel(w) {
			return <-w.ch, nil
		}
		return goam43.Event{}, &AckTimeoutError{Device: s.id, Kind: kind, Timeout: s.ackTimeout}
	}
}

// poll runs a state query. Before the first connect it returns 0 without I/O.
func (s *Session) poll(kind goam43.EventKind, frame []byte) (int, bool) {
	if !s.HasRunFirstConnect() {
		return 0, true
	}
	ev, err := s.request(kind, frame)
	if err != nil {
		s.log.WithError(err).Debugf("%s query failed", kind)
		return 0, false
	}
	return ev.Value, true
}

// UpdatePosition polls the motor's position.
func (s *Session) UpdatePosition() (int, bool) {
	return s.poll(goam43.EventPosition, comms.BuildGetPositionCommand())
}

// UpdateBatteryStatus polls the battery percentage.
func (s *Session) UpdateBatteryStatus() (int, bool) {
	return s.poll(goam43.EventBattery, comms.BuildGetBatteryStatusCommand())
}

// UpdateLightLevel polls the light sensor.
func (s *Session) UpdateLightLevel() (int, bool) {
	return s.poll(goam43.EventLightLevel, comms.BuildGetLightSensorCommand())
}

// UpdateTilt polls the linked tilt motor and converts its position to an angle.
func (s *Session) UpdateTilt() (int, bool) {
	if !s.HasRunFirstConnect() {
		return 0, true
	}
	tm := s.TiltMotor()
	if tm == nil {
		return 0, false
	}
	position, ok := tm.UpdatePosition()
	if !ok {
		return 0, false
	}
	angle := goam43.TiltFromPosition(position)
	s.mu.Lock()
	s.tilt = &angle
	s.mu.Unlock()
	return angle, true
}

// SetPosition moves the blind to target and reports whether the motor
// acknowledged it. The write is attempted even before the first connect.
func (s *Session) SetPosition(target int) bool {
	if target < 0 || target > 100 {
		s.log.Warnf("position %d out of range", target)
		return false
	}
	s.mu.Lock()
	s.target = &target
	s.mu.Unlock()

	ev, err := s.request(goam43.EventPositionSet, comms.BuildSetPositionCommand(uint8(target)))
	if err != nil {
		s.log.WithError(err).Errorf("set position %d failed", target)
		return false
	}
	return ev.OK
}

// SetTilt turns the slats to angle by moving the linked tilt motor.
func (s *Session) SetTilt(angle int) bool {
	if angle < -90 || angle > 90 {
		s.log.Warnf("tilt %d out of range", angle)
		return false
	}
	s.mu.Lock()
	s.targetTilt = &angle
	tm := s.tiltMotor
	s.mu.Unlock()

	if tm == nil {
		return false
	}
	return tm.SetPosition(goam43.PositionFromTilt(angle))
}

// AuthWithPassCode sends passcode and reports whether the motor accepted it. An
// unanswered attempt returns an AckTimeoutError.
func (s *Session) AuthWithPassCode(passcode string) (bool, error) {
	s.touch()
	ctx := context.Background()
	if err := s.ensureLinked(ctx); err != nil {
		return false, err
	}
	return s.authWithPassCode(ctx, passcode)
}

func (s *Session) authWithPassCode(ctx context.Context, passcode string) (bool, error) {
	frame, err := comms.BuildPasscodeCommand(passcode)
	if err != nil {
		return false, err
	}
	ev, err := s.exchange(ctx, goam43.EventAuth, frame)
	if err != nil {
		return false, err
	}
	return ev.OK, nil
}

// Move starts or stops continuous movement. The motor's acknowledgement is only
// logged.
func (s *Session) Move(m comms.MoveCommand) error {
	var target *int
	switch m {
	case comms.MoveOpen:
		target = new(int)
	case comms.MoveClose:
		closed := 100
		target = &closed
	case comms.MoveStop:
	default:
		return fmt.Errorf("unknown move command 0x%02x", byte(m))
	}
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()

	ctx := context.Background()
	s.touch()
	if err := s.ensureLinked(ctx); err != nil {
		return err
	}
	serviceUUID, charUUID := s.characteristic()
	return s.conn.Write(ctx, s.id, serviceUUID, charUUID, comms.BuildMoveCommand(m))
}

// Rename changes the name the motor advertises and waits for its confirmation.
func (s *Session) Rename(name string) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	if _, err := s.request(goam43.EventNameChanged, comms.BuildChangeNameCommand(name)); err != nil {
		return err
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	return nil
}

// AdjustLimit runs one step of an end stop adjustment and waits for its
// confirmation.
func (s *Session) AdjustLimit(edge comms.LimitEdge, phase comms.LimitPhase) error {
	var kind goam43.EventKind
	switch phase {
	case comms.LimitSet:
		kind = goam43.EventLimitSet
	case comms.LimitSave:
		kind = goam43.EventLimitSaved
	case comms.LimitCancel:
		kind = goam43.EventLimitCancelled
	default:
		return fmt.Errorf("unknown limit phase 0x%02x", byte(phase))
	}
	if edge != comms.LimitOpened && edge != comms.LimitClosed {
		return fmt.Errorf("unknown limit edge 0x%02x", byte(edge))
	}
	_, err := s.request(kind, comms.BuildLimitCommand(edge, phase))
	return err
}
