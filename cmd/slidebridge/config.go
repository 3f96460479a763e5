package main

import (
	"context"
	"os"
	"time"

	"github.com/Supple-build/slidebridge/internal/shutter"
	"github.com/Supple-build/slidebridge/internal/shutter/driver/slide"
	"github.com/Supple-build/slidebridge/internal/slideapi"
	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	modeLocal  = "local"
	modeRemote = "remote"
)

type cfgShutterMQTTBridge struct {
	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgShutter struct {
	Name     string `yaml:"name"`
	IP       string `yaml:"ip"`
	Code     string `yaml:"code"`
	ID       string `yaml:"id"`
	DeviceID string `yaml:"device_id"`

	Tolerance        *int          `yaml:"tolerance"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	FastPollInterval time.Duration `yaml:"fast_poll_interval"`
	ClosingTime      time.Duration `yaml:"closing_time"`

	MQTTBridge cfgShutterMQTTBridge `yaml:"mqtt_bridge"`
}

type cfgDrivers struct {
	Slide struct {
		Pool int `yaml:"pool" default:"0" env:"POOL"`
	} `yaml:"slide" env:"SLIDE"`
}

type cfgCloud struct {
	Email     string  `yaml:"email" env:"EMAIL"`
	Password  string  `yaml:"password" env:"PASSWORD"`
	BaseURL   string  `yaml:"base_url" default:"https://api.goslide.io/api" env:"BASE_URL"`
	RateLimit float64 `yaml:"rate_limit" default:"5" env:"RATE_LIMIT"`
}

type cfgMQTT struct {
	Enabled  bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	ClientID string `yaml:"client_id" default:"slidebridge" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type cfgHomeKit struct {
	Enabled     bool   `yaml:"enabled" default:"false" env:"ENABLED"`
	Name        string `yaml:"name" default:"Slide Bridge" env:"NAME"`
	Pin         string `yaml:"pin" default:"00102003" env:"PIN"`
	StoragePath string `yaml:"storage_path" default:"./homekit" env:"STORAGE_PATH"`
	Port        string `yaml:"port" env:"PORT"`
}

type cfgMetrics struct {
	Enabled bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	Addr    string `yaml:"addr" default:":9090" env:"ADDR"`
}

type config struct {
	LogLevel       string        `yaml:"log_level" default:"info" env:"LOG_LEVEL"`
	Mode           string        `yaml:"mode" default:"local" env:"MODE"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"6s" env:"REQUEST_TIMEOUT"`

	Cloud   cfgCloud   `yaml:"cloud" env:"CLOUD"`
	MQTT    cfgMQTT    `yaml:"mqtt" env:"MQTT"`
	HASS    cfgHASS    `yaml:"hass" env:"HASS"`
	HomeKit cfgHomeKit `yaml:"homekit" env:"HOMEKIT"`
	Metrics cfgMetrics `yaml:"metrics" env:"METRICS"`

	Shutters []cfgShutter `yaml:"shutters"`

	Drivers cfgDrivers `yaml:"drivers" env:"DRIVERS"`
}

var Cfg config

// loadConfig applies defaults and SLIDE_* environment variables, then the
// yaml file on top when it exists.
func loadConfig(cfg *config, filename string) error {
	loader := aconfig.LoaderFor(cfg, aconfig.Config{
		EnvPrefix: "SLIDE",
		SkipFlags: true,
		SkipFiles: true,
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "config")
	}

	f, err := os.Open(filename)
	if err != nil {
		logrus.Warnf("config file not loaded: %s", err)
		return cfg.validate()
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return errors.Wrapf(err, "config: %s", filename)
	}

	return cfg.validate()
}

func (c *config) validate() error {
	switch c.Mode {
	case modeLocal:
	case modeRemote:
		if c.Cloud.Email == "" || c.Cloud.Password == "" {
			return shutter.InvalidConfigf("remote mode requires cloud.email and cloud.password")
		}
	default:
		return shutter.InvalidConfigf("%q is not a supported mode", c.Mode)
	}

	if c.Mode == modeLocal && len(c.Shutters) == 0 {
		return shutter.InvalidConfigf("local mode requires at least one shutter")
	}

	names := map[string]bool{}
	for _, s := range c.Shutters {
		if names[s.Name] {
			return shutter.InvalidConfigf("%s: duplicated shutter name", s.Name)
		}
		names[s.Name] = true

		if err := s.device(c.Mode).Validate(); err != nil {
			return errors.Wrap(shutter.ErrInvalidConfig, err.Error())
		}
		if s.Tolerance != nil && *s.Tolerance < 0 {
			return shutter.InvalidConfigf("%s: tolerance %d is negative", s.Name, *s.Tolerance)
		}
	}

	return nil
}

// device maps a shutter entry onto a gateway device. In remote mode the ip
// is ignored so every call goes through the cloud.
func (s cfgShutter) device(mode string) slideapi.Device {
	d := slideapi.Device{
		Name:     s.Name,
		IP:       s.IP,
		Code:     s.Code,
		ID:       s.ID,
		DeviceID: s.DeviceID,
	}
	if mode == modeRemote {
		d.IP = ""
	}
	return d
}

// driverConfig resolves the per-device profile defaults and overrides.
func (s cfgShutter) driverConfig(local bool) slide.Config {
	cfg := slide.DefaultConfig(local)
	if s.Tolerance != nil {
		cfg.Tolerance = *s.Tolerance
	}
	if s.PollInterval > 0 {
		cfg.PollInterval = s.PollInterval
	}
	if s.FastPollInterval > 0 {
		cfg.FastPollInterval = s.FastPollInterval
	}
	if s.ClosingTime > 0 {
		cfg.CalibrationTime = s.ClosingTime
	}
	return cfg
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func clientFromConfig() *slideapi.Client {
	if Cfg.Mode == modeRemote {
		login := slideapi.NewLogin(Cfg.Cloud.BaseURL, Cfg.Cloud.Email, Cfg.Cloud.Password, Cfg.RequestTimeout)
		return slideapi.NewClient(Cfg.Cloud.BaseURL, Cfg.RequestTimeout, login, Cfg.Cloud.RateLimit)
	}

	return slideapi.NewClient(Cfg.Cloud.BaseURL, Cfg.RequestTimeout, nil, 0)
}

// shuttersFromConfig lists the configured shutters, or discovers them from
// the cloud account when none are configured in remote mode.
func shuttersFromConfig(ctx context.Context, client *slideapi.Client) ([]cfgShutter, error) {
	if len(Cfg.Shutters) > 0 || Cfg.Mode != modeRemote {
		return Cfg.Shutters, nil
	}

	devices, err := client.Overview(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "slide discovery")
	}

	shutters := make([]cfgShutter, 0, len(devices))
	for _, d := range devices {
		logrus.Infof("%s: discovered (id %s, device %s)", d.Name, d.ID, d.DeviceID)
		shutters = append(shutters, cfgShutter{Name: d.Name, ID: d.ID, DeviceID: d.DeviceID})
	}
	return shutters, nil
}

type session struct {
	cfg     cfgShutter
	device  slideapi.Device
	shutter *slide.Shutter
}

func sessionsFromConfig(client *slideapi.Client, shutters []cfgShutter) ([]session, error) {
	var pool chan struct{}
	if Cfg.Drivers.Slide.Pool > 0 {
		pool = make(chan struct{}, Cfg.Drivers.Slide.Pool)
	}

	sessions := make([]session, 0, len(shutters))
	for _, cfg := range shutters {
		device := cfg.device(Cfg.Mode)

		var gateway slide.Gateway = client.Gateway(device)
		if pool != nil {
			gateway = slide.NewPoolProxy(gateway, pool)
		}

		s, err := slide.NewShutter(cfg.Name, gateway, cfg.driverConfig(device.Local()))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session{cfg: cfg, device: device, shutter: s})
	}

	return sessions, nil
}
