// Package platform owns the lifecycle of every configured motor: it builds the
// sessions, links tilt motors, connects, polls and shuts everything down.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43"
	"github.com/mlsorensen/goam43/internal/config"
	"github.com/mlsorensen/goam43/pkg/blinds/am43"
)

// LowBattery is the percentage at or below which a battery is reported low.
const LowBattery = 10

// Manager is the connection manager shared by all sessions. *gatt.Manager
// satisfies it.
type Manager interface {
	am43.Conn
	Destroy() error
}

// Device is one configured window covering.
type Device struct {
	Config config.DeviceConfig
	Blind  *am43.Session
	// Tilt is the linked tilt motor, nil without one.
	Tilt *am43.Session
}

type Platform struct {
	cfg  *config.Config
	conn Manager
	log  logrus.FieldLogger

	mu       sync.Mutex
	devices  []*Device
	sessions []*am43.Session
	stop     context.CancelFunc
	wg       sync.WaitGroup
	shutdown bool
}

// Option configures a Platform.
type Option func(*Platform)

// WithLogger sets the logger used by the platform and its sessions.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Platform) { p.log = log }
}

// New builds a session for every allowed device, and one for its tilt motor
// when tilt is enabled. Nothing is connected yet.
func New(cfg *config.Config, conn Manager, opts ...Option) *Platform {
	p := &Platform{
		cfg:  cfg,
		conn: conn,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, w := range config.Warnings(cfg) {
		p.log.Warn(w)
	}

	for _, dc := range cfg.AllowedDevices {
		bc := am43.Config{
			Name:     dc.Name,
			PassCode: dc.PassCode,
			HasTilt:  dc.HasTilt,
		}
		if dc.HasTilt && dc.TiltMotor != nil {
			bc.TiltMotor = &am43.TiltMotorConfig{
				Address:     dc.TiltMotor.Address,
				PassCode:    dc.TiltMotor.PassCode,
				Orientation: am43.Orientation(dc.TiltMotor.Orientation),
			}
		}

		d := &Device{Config: dc, Blind: p.initSession(dc.Address, bc)}
		p.log.Infof("Found AM43 Motor: %s : %s", d.Blind.Name(), d.Blind.ID())

		if tc := bc.TiltMotor; tc != nil {
			d.Tilt = p.initSession(tc.Address, am43.Config{PassCode: tc.PassCode})
			d.Blind.AddTiltMotor(d.Tilt)
			p.log.Infof("Added Motor as Tilt: %s : %s", d.Tilt.Name(), d.Tilt.ID())
		}

		p.observe(d)
		p.devices = append(p.devices, d)
	}
	return p
}

func (p *Platform) initSession(address string, cfg am43.Config) *am43.Session {
	s := am43.New(p.conn, address, cfg, p.cfg.InteractionTimeout(), am43.WithLogger(p.log))
	p.sessions = append(p.sessions, s)
	return s
}

// observe logs what a device reports, the way a bridge would surface it.
func (p *Platform) observe(d *Device) {
	s := d.Blind
	log := p.log.WithField("device", s.ID())
	s.OnEvent(func(ev goam43.Event) {
		switch ev.Kind {
		case goam43.EventPosition:
			log.WithFields(logrus.Fields{
				"position":  ev.Value,
				"direction": s.Direction().String(),
			}).Debug("position changed")
		case goam43.EventBattery:
			log.WithField("battery", ev.Value).Debug("battery changed")
			if ev.Value <= LowBattery {
				log.Warnf("%s battery low: %d%%", s.Name(), ev.Value)
			}
		case goam43.EventTilt:
			orientation := am43.Vertical
			if tc := s.Config().TiltMotor; tc != nil && tc.Orientation != "" {
				orientation = tc.Orientation
			}
			log.WithFields(logrus.Fields{
				"tilt":        ev.Value,
				"orientation": orientation,
			}).Debug("tilt changed")
		default:
			log.Debugf("event %s", ev)
		}
	})
}

// Devices returns the configured devices in configuration order.
func (p *Platform) Devices() []*Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Device(nil), p.devices...)
}

// Sessions returns every session, tilt motors included, in creation order.
func (p *Platform) Sessions() []*am43.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*am43.Session(nil), p.sessions...)
}

// Start connects every motor in turn, refreshes position and tilt, then starts
// polling when a poll interval is configured. A motor that fails to connect is
// logged and skipped; the error lists every failure.
func (p *Platform) Start(ctx context.Context) error {
	p.log.Info("AM43 discover...")

	var errs []error
	for _, s := range p.Sessions() {
		if err := s.FirstConnect(ctx); err != nil {
			p.log.WithError(err).Errorf("first connect to %s failed", s.ID())
			errs = append(errs, err)
		}
	}

	for _, d := range p.Devices() {
		if !d.Blind.HasRunFirstConnect() {
			continue
		}
		d.Blind.UpdatePosition()
		if d.Tilt != nil {
			d.Blind.UpdateTilt()
		}
	}

	if every := p.cfg.Poll(); every > 0 {
		p.startPolling(every)
	}
	return errors.Join(errs...)
}

func (p *Platform) startPolling(every time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.stop = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Poll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Poll refreshes position, battery and tilt of every connected device.
func (p *Platform) Poll() {
	for _, d := range p.Devices() {
		if !d.Blind.HasRunFirstConnect() {
			continue
		}
		log := p.log.WithField("device", d.Blind.ID())
		if _, ok := d.Blind.UpdatePosition(); !ok {
			log.Warn("position poll got no answer")
		}
		if _, ok := d.Blind.UpdateBatteryStatus(); !ok {
			log.Warn("battery poll got no answer")
		}
		if d.Tilt != nil {
			if _, ok := d.Blind.UpdateTilt(); !ok {
				log.Warn("tilt poll got no answer")
			}
		}
	}
}

// Shutdown stops polling, disconnects every motor and then releases the adapter.
// Calling it again is a no-op.
func (p *Platform) Shutdown() error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	stop := p.stop
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	p.wg.Wait()

	p.log.Info("shutting down, disconnecting AM43 motors...")
	var errs []error
	for _, s := range p.Sessions() {
		if err := s.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", s.ID(), err))
		}
	}
	if err := p.conn.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("destroy adapter: %w", err))
	}
	return errors.Join(errs...)
}
