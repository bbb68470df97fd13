// internal/config/config.go
package config

import "time"

// Defaults, in seconds.
const (
	DefaultPollInterval          = 5 * 60
	DefaultHAPInteractionTimeout = 90
	DefaultScanTimeout           = 8
	// MinimumPollInterval is the lowest poll interval that enables polling.
	MinimumPollInterval = 5
)

type Config struct {
	// Seconds between position and battery polls. Below MinimumPollInterval
	// polling is disabled.
	PollInterval *int `yaml:"poll_interval"`

	// Seconds without a command before a motor is disconnected. Zero or less
	// keeps connections open.
	HAPInteractionTimeout *int `yaml:"hap_interaction_timeout"`

	ScanTimeout int    `yaml:"scan_timeout"`
	LogLevel    string `yaml:"log_level"`

	AllowedDevices []DeviceConfig `yaml:"allowed_devices"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	PassCode string `yaml:"pass_code"`

	HasTilt   bool             `yaml:"has_tilt"`
	TiltMotor *TiltMotorConfig `yaml:"tilt_motor"`
}

type TiltMotorConfig struct {
	Address     string `yaml:"address"`
	PassCode    string `yaml:"pass_code"`
	Orientation string `yaml:"orientation"` // vertical | horizontal
}

// Poll returns the poll period, or zero when polling is disabled.
func (c *Config) Poll() time.Duration {
	if c.PollInterval == nil || *c.PollInterval < MinimumPollInterval {
		return 0
	}
	return time.Duration(*c.PollInterval) * time.Second
}

// InteractionTimeout returns the idle disconnect period, or zero when motors stay
// connected.
func (c *Config) InteractionTimeout() time.Duration {
	if c.HAPInteractionTimeout == nil || *c.HAPInteractionTimeout <= 0 {
		return 0
	}
	return time.Duration(*c.HAPInteractionTimeout) * time.Second
}

// Scan returns the discovery scan period.
func (c *Config) Scan() time.Duration {
	return time.Duration(c.ScanTimeout) * time.Second
}
