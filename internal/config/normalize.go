// internal/config/normalize.go
package config

import (
	"fmt"
	"strings"
)

// Normalize applies defaults and canonical forms.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.PollInterval == nil {
		v := DefaultPollInterval
		cfg.PollInterval = &v
	}
	if cfg.HAPInteractionTimeout == nil {
		v := DefaultHAPInteractionTimeout
		cfg.HAPInteractionTimeout = &v
	}
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	for i := range cfg.AllowedDevices {
		d := &cfg.AllowedDevices[i]
		d.Address = strings.ToUpper(strings.TrimSpace(d.Address))

		if !d.HasTilt {
			// a tilt motor is only used when tilt is enabled
			d.TiltMotor = nil
			continue
		}
		d.TiltMotor.Address = strings.ToUpper(strings.TrimSpace(d.TiltMotor.Address))
		if d.TiltMotor.Orientation == "" {
			d.TiltMotor.Orientation = "vertical"
		}
	}
}

// Warnings lists settings that are valid but probably not what the user wants.
func Warnings(cfg *Config) []string {
	var out []string
	if cfg.HAPInteractionTimeout != nil && *cfg.HAPInteractionTimeout <= 0 {
		out = append(out, "Automatic disconnection of AM43 devices is disabled and the connection will be kept open. "+
			"This might cause higher power usage of the devices but improve responsiveness.")
	}
	if cfg.PollInterval != nil && *cfg.PollInterval < MinimumPollInterval {
		out = append(out, fmt.Sprintf("Polling for devices is disabled due to a low poll interval. "+
			"This might cause an incorrect state. Polling requires a value of %d (seconds) or higher.", MinimumPollInterval))
	}
	if len(cfg.AllowedDevices) == 0 {
		out = append(out, "No allowed_devices configured, nothing will be controlled.")
	}
	return out
}
