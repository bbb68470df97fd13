// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

const sample = `
poll_interval: 60
scan_timeout: 4
allowed_devices:
  - name: Bedroom
    address: 02:aa:bb:cc:dd:01
    pass_code: "8888"
  - address: 02:aa:bb:cc:dd:02
    has_tilt: true
    tilt_motor:
      address: 02:aa:bb:cc:dd:03
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Poll())
	assert.Equal(t, 90*time.Second, cfg.InteractionTimeout())
	assert.Equal(t, 4*time.Second, cfg.Scan())
	assert.Equal(t, "info", cfg.LogLevel)

	require.Len(t, cfg.AllowedDevices, 2)
	assert.Equal(t, "02:AA:BB:CC:DD:01", cfg.AllowedDevices[0].Address)
	assert.Equal(t, "8888", cfg.AllowedDevices[0].PassCode)
	require.NotNil(t, cfg.AllowedDevices[1].TiltMotor)
	assert.Equal(t, "02:AA:BB:CC:DD:03", cfg.AllowedDevices[1].TiltMotor.Address)
	assert.Equal(t, "vertical", cfg.AllowedDevices[1].TiltMotor.Orientation)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Poll())
	assert.Equal(t, 8*time.Second, cfg.Scan())
	assert.NotEmpty(t, Warnings(cfg))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("poll_intervall: 10\n"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownLogLevel(t *testing.T) {
	_, err := Parse([]byte("log_level: verbose\n"))
	assert.ErrorContains(t, err, "log_level")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am43.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.AllowedDevices, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"single device", Config{AllowedDevices: []DeviceConfig{{Address: "02:AA:BB:CC:DD:01"}}}, true},
		{"missing address", Config{AllowedDevices: []DeviceConfig{{Name: "x"}}}, false},
		{"bad address", Config{AllowedDevices: []DeviceConfig{{Address: "kitchen"}}}, false},
		{"duplicate address", Config{AllowedDevices: []DeviceConfig{
			{Address: "02:AA:BB:CC:DD:01"},
			{Address: "02:aa:bb:cc:dd:01"},
		}}, false},
		{"bad passcode", Config{AllowedDevices: []DeviceConfig{{Address: "02:AA:BB:CC:DD:01", PassCode: "70000"}}}, false},
		{"tilt without motor", Config{AllowedDevices: []DeviceConfig{{Address: "02:AA:BB:CC:DD:01", HasTilt: true}}}, false},
		{"tilt shares address", Config{AllowedDevices: []DeviceConfig{{
			Address:   "02:AA:BB:CC:DD:01",
			HasTilt:   true,
			TiltMotor: &TiltMotorConfig{Address: "02:AA:BB:CC:DD:01"},
		}}}, false},
		{"bad orientation", Config{AllowedDevices: []DeviceConfig{{
			Address:   "02:AA:BB:CC:DD:01",
			HasTilt:   true,
			TiltMotor: &TiltMotorConfig{Address: "02:AA:BB:CC:DD:02", Orientation: "diagonal"},
		}}}, false},
		{"negative scan timeout", Config{ScanTimeout: -1}, false},
		{"debug log level", Config{LogLevel: "debug"}, true},
		{"unknown log level", Config{LogLevel: "loud"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg := Config{AllowedDevices: []DeviceConfig{{Address: "02:aa:bb:cc:dd:01"}}}
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, "02:aa:bb:cc:dd:01", cfg.AllowedDevices[0].Address)
	assert.Nil(t, cfg.PollInterval)
}

func TestNormalizeDropsUnusedTiltMotor(t *testing.T) {
	cfg := Config{AllowedDevices: []DeviceConfig{{
		Address:   "02:AA:BB:CC:DD:01",
		TiltMotor: &TiltMotorConfig{Address: "02:AA:BB:CC:DD:02"},
	}}}
	Normalize(&cfg)
	assert.Nil(t, cfg.AllowedDevices[0].TiltMotor)
}

func TestWarnings(t *testing.T) {
	cfg := Config{
		PollInterval:          intp(2),
		HAPInteractionTimeout: intp(0),
		AllowedDevices:        []DeviceConfig{{Address: "02:AA:BB:CC:DD:01"}},
	}
	assert.Len(t, Warnings(&cfg), 2)
	assert.Zero(t, cfg.Poll())
	assert.Zero(t, cfg.InteractionTimeout())
}
