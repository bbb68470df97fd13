// internal/config/validate.go
package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}
	if cfg.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative")
	}
	if cfg.LogLevel != "" {
		if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}

	// Every motor, tilt motors included, is owned by exactly one entry.
	owner := make(map[string]string)
	claim := func(address, who string) error {
		key, err := canonicalAddress(address)
		if err != nil {
			return fmt.Errorf("%s: %w", who, err)
		}
		if prev, ok := owner[key]; ok {
			return fmt.Errorf("%s: address %s is already used by %s", who, address, prev)
		}
		owner[key] = who
		return nil
	}

	for i, d := range cfg.AllowedDevices {
		who := fmt.Sprintf("allowed_devices[%d]", i)
		if err := claim(d.Address, who); err != nil {
			return err
		}
		if err := validatePassCode(d.PassCode); err != nil {
			return fmt.Errorf("%s: %w", who, err)
		}

		if !d.HasTilt {
			continue
		}

		// tilt requires its own motor
		if d.TiltMotor == nil {
			return fmt.Errorf("%s: has_tilt is set but tilt_motor is missing", who)
		}
		tiltWho := who + ".tilt_motor"
		if err := claim(d.TiltMotor.Address, tiltWho); err != nil {
			return err
		}
		if err := validatePassCode(d.TiltMotor.PassCode); err != nil {
			return fmt.Errorf("%s: %w", tiltWho, err)
		}
		switch d.TiltMotor.Orientation {
		case "", "vertical", "horizontal":
		default:
			return fmt.Errorf("%s: orientation must be vertical or horizontal, got %q", tiltWho, d.TiltMotor.Orientation)
		}
	}

	return nil
}

func canonicalAddress(address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("address is required")
	}
	hw, err := net.ParseMAC(address)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("address %q is not a bluetooth address", address)
	}
	return hw.String(), nil
}

// validatePassCode accepts an empty passcode or a decimal 16-bit number.
func validatePassCode(code string) error {
	if code == "" {
		return nil
	}
	if _, err := strconv.ParseUint(code, 10, 16); err != nil {
		return fmt.Errorf("pass_code %q must be a number between 0 and 65535", code)
	}
	return nil
}
