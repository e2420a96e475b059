// Package config loads the train-control configuration from command line
// flags, TRAINCTL_ environment variables and an optional config file, in that
// order of precedence, on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TRAINCTL_HTTP_LISTEN.
const EnvPrefix = "TRAINCTL"

// Config is the root configuration structure.
type Config struct {
	HTTP   HTTPConfig   `mapstructure:"http"`
	Trains TrainsConfig `mapstructure:"trains"`
	Log    LogConfig    `mapstructure:"log"`
	BLE    BLEConfig    `mapstructure:"ble"`
	Poll   PollConfig   `mapstructure:"poll"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	UI     UIConfig     `mapstructure:"ui"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// TrainsConfig locates the file the known trains are saved to.
type TrainsConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig controls the rotating log file. An empty File disables it.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Stderr     bool   `mapstructure:"stderr"`
}

type BLEConfig struct {
	Simulate      bool          `mapstructure:"simulate"`
	SimulatedHubs int           `mapstructure:"simulated_hubs"`
	Adapter       string        `mapstructure:"adapter"`
	ConnectDelay  time.Duration `mapstructure:"connect_delay"`
}

type PollConfig struct {
	Battery  time.Duration `mapstructure:"battery"`
	Distance time.Duration `mapstructure:"distance"`
}

// MQTTConfig configures the optional MQTT bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type UIConfig struct {
	TUI bool `mapstructure:"tui"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("trains.path", "trains.json")
	v.SetDefault("log.file", "train-control.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.stderr", true)
	v.SetDefault("ble.simulate", false)
	v.SetDefault("ble.simulated_hubs", 2)
	v.SetDefault("ble.adapter", "hci0")
	v.SetDefault("ble.connect_delay", 500*time.Millisecond)
	v.SetDefault("poll.battery", 20*time.Second)
	v.SetDefault("poll.distance", 15*time.Second)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "train-control")
	v.SetDefault("mqtt.topic_prefix", "trains")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("ui.tui", false)
}

// NewFlagSet returns the command line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (yaml, json or toml)")
	fs.String("listen", ":8080", "HTTP listen address")
	fs.String("trains", "trains.json", "file the known trains are saved to")
	fs.String("log-file", "train-control.log", "rotating log file, empty to disable")
	fs.Bool("simulate", false, "use simulated hubs instead of the bluetooth adapter")
	fs.Int("simulated-hubs", 2, "number of simulated hubs")
	fs.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.Bool("tui", false, "run the terminal dashboard")
	return fs
}

var flagKeys = map[string]string{
	"listen":         "http.listen",
	"trains":         "trains.path",
	"log-file":       "log.file",
	"simulate":       "ble.simulate",
	"simulated-hubs": "ble.simulated_hubs",
	"mqtt-broker":    "mqtt.broker",
	"tui":            "ui.tui",
}

// Load parses args and returns the validated configuration.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("train-control")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return LoadFlags(fs)
}

// LoadFlags builds the configuration from an already parsed flag set.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", flag, err)
			}
		}
	}

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Listen) == "" {
		errs = append(errs, errors.New("http.listen must not be empty"))
	}
	if strings.TrimSpace(c.Trains.Path) == "" {
		errs = append(errs, errors.New("trains.path must not be empty"))
	}
	if c.Poll.Battery <= 0 {
		errs = append(errs, errors.New("poll.battery must be positive"))
	}
	if c.Poll.Distance <= 0 {
		errs = append(errs, errors.New("poll.distance must be positive"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.BLE.Simulate && c.BLE.SimulatedHubs < 0 {
		errs = append(errs, errors.New("ble.simulated_hubs must not be negative"))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		errs = append(errs, errors.New("log.max_size_mb must be positive"))
	}
	return errors.Join(errs...)
}
