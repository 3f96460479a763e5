package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Supple-build/slidebridge/internal/shutter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigLocal(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
mqtt:
  broker: tcp://broker:1883
shutters:
  - name: living room
    ip: 192.168.1.20
    code: 1234abcd
    mqtt_bridge:
      metadata:
        room: living
  - name: bedroom
    ip: 192.168.1.21
    tolerance: 0
    poll_interval: 2s
    closing_time: 30s
`)

	var cfg config
	require.NoError(t, loadConfig(&cfg, path))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, modeLocal, cfg.Mode)
	assert.Equal(t, 6*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "slidebridge", cfg.MQTT.ClientID)
	assert.True(t, cfg.HASS.Enabled)
	assert.Equal(t, "homeassistant", cfg.HASS.TopicPrefix)
	assert.False(t, cfg.HomeKit.Enabled)
	assert.Equal(t, "https://api.goslide.io/api", cfg.Cloud.BaseURL)
	require.Len(t, cfg.Shutters, 2)
	assert.Equal(t, "living", cfg.Shutters[0].MQTTBridge.Metadata["room"])

	t.Run("profile defaults", func(t *testing.T) {
		living := cfg.Shutters[0]
		driver := living.driverConfig(living.device(cfg.Mode).Local())
		assert.Equal(t, 5, driver.Tolerance)
		assert.Equal(t, 5*time.Second, driver.PollInterval)
		assert.Equal(t, 3*time.Second, driver.FastPollInterval)
		assert.Equal(t, 20*time.Second, driver.CalibrationTime)
	})

	t.Run("overrides", func(t *testing.T) {
		bedroom := cfg.Shutters[1]
		driver := bedroom.driverConfig(true)
		assert.Equal(t, 0, driver.Tolerance)
		assert.Equal(t, 2*time.Second, driver.PollInterval)
		assert.Equal(t, 30*time.Second, driver.CalibrationTime)
	})
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("SLIDE_MODE", "remote")
	t.Setenv("SLIDE_CLOUD_EMAIL", "me@example.com")
	t.Setenv("SLIDE_CLOUD_PASSWORD", "secret")

	var cfg config
	require.NoError(t, loadConfig(&cfg, filepath.Join(t.TempDir(), "missing.yaml")))

	assert.Equal(t, modeRemote, cfg.Mode)
	assert.Equal(t, "me@example.com", cfg.Cloud.Email)
	assert.Equal(t, 5.0, cfg.Cloud.RateLimit)
	assert.Empty(t, cfg.Shutters)
}

func TestLoadConfigRemoteIgnoresIP(t *testing.T) {
	path := writeConfig(t, `
mode: remote
cloud:
  email: me@example.com
  password: secret
shutters:
  - name: office
    ip: 192.168.1.30
    id: "4242"
`)

	var cfg config
	require.NoError(t, loadConfig(&cfg, path))

	device := cfg.Shutters[0].device(cfg.Mode)
	assert.False(t, device.Local())
	assert.Equal(t, "4242", device.ID)

	driver := cfg.Shutters[0].driverConfig(device.Local())
	assert.Equal(t, 15, driver.Tolerance)
	assert.Equal(t, 10*time.Second, driver.PollInterval)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"unknown mode", "mode: bluetooth\nshutters: [{name: a, ip: 10.0.0.1}]"},
		{"remote without credentials", "mode: remote"},
		{"local without shutters", "mode: local"},
		{"shutter without address", "shutters: [{name: a}]"},
		{"duplicated names", "shutters: [{name: a, ip: 10.0.0.1}, {name: a, ip: 10.0.0.2}]"},
		{"negative tolerance", "shutters: [{name: a, ip: 10.0.0.1, tolerance: -1}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config
			err := loadConfig(&cfg, writeConfig(t, tt.config))
			assert.True(t, errors.Is(err, shutter.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestSessionsFromConfig(t *testing.T) {
	Cfg = config{Mode: modeLocal, RequestTimeout: time.Second}
	Cfg.Drivers.Slide.Pool = 2
	defer func() { Cfg = config{} }()

	shutters := []cfgShutter{
		{Name: "a", IP: "10.0.0.1"},
		{Name: "b", IP: "10.0.0.2", Code: "abcd"},
	}

	sessions, err := sessionsFromConfig(clientFromConfig(), shutters)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		defer s.shutter.Close()
	}

	assert.Equal(t, "a", sessions[0].shutter.Name())
	assert.Equal(t, "abcd", sessions[1].device.Key())
}
