package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type DeviceConfig struct {
	Name   string `mapstructure:"name"`
	Serial string `mapstructure:"serial"`
	Port   int    `mapstructure:"port"`
}

type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	AppID   string `mapstructure:"app_id"`
	Token   string `mapstructure:"token"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

type CommandConfig struct {
	Template        string `mapstructure:"template"`
	RearmSchedule   string `mapstructure:"rearm_schedule"`
	TZOffsetMinutes int    `mapstructure:"tz_offset_minutes"`
}

type Config struct {
	ListenHost        string         `mapstructure:"listen_host"`
	Devices           []DeviceConfig `mapstructure:"devices"`
	Remote            RemoteConfig   `mapstructure:"remote"`
	Store             StoreConfig    `mapstructure:"store"`
	JournalPath       string         `mapstructure:"journal_path"`
	StatePath         string         `mapstructure:"state_path"`
	LoaderIntervalSec int            `mapstructure:"loader_interval_sec"`
	SyncIntervalSec   int            `mapstructure:"sync_interval_sec"`
	RetentionDays     int            `mapstructure:"retention_days"`
	RetentionSchedule string         `mapstructure:"retention_schedule"`
	RosterSchedule    string         `mapstructure:"roster_schedule"`
	Command           CommandConfig  `mapstructure:"command"`
	MQTTBrokerURL     string         `mapstructure:"mqtt_broker_url"`
	MQTTClientID      string         `mapstructure:"mqtt_client_id"`
	OpsAddr           string         `mapstructure:"ops_addr"`
	LogLevel          string         `mapstructure:"log_level"`
}

// Load reads settings from the given JSON file, applies defaults and lets
// ZKBRIDGE_* environment variables override individual keys.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("zkbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Allow env override for the API token so it can stay out of the file.
	if envToken := os.Getenv("ZKBRIDGE_REMOTE_TOKEN"); envToken != "" {
		cfg.Remote.Token = envToken
	}
	if envDSN := os.Getenv("ZKBRIDGE_STORE_DSN"); envDSN != "" {
		cfg.Store.DSN = envDSN
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_host", "0.0.0.0")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "PUSH.db")
	v.SetDefault("journal_path", "Attlog.json")
	v.SetDefault("state_path", "zkbridge.state.json")
	v.SetDefault("loader_interval_sec", 30)
	v.SetDefault("sync_interval_sec", 60)
	v.SetDefault("retention_days", 3)
	v.SetDefault("retention_schedule", "0 30 3 * * *")
	v.SetDefault("roster_schedule", "0 15 4 * * *")
	v.SetDefault("command.template", "DATA QUERY ATTLOG StartTime={start}\tEndTime={end}")
	v.SetDefault("command.rearm_schedule", "0 0 6 * * *")
	v.SetDefault("command.tz_offset_minutes", 120)
	v.SetDefault("ops_addr", ":8080")
	v.SetDefault("log_level", "info")
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("config: at least one device endpoint is required")
	}
	seen := map[int]string{}
	for i, d := range c.Devices {
		if strings.TrimSpace(d.Serial) == "" {
			return fmt.Errorf("config: device %d has no serial", i)
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("config: device %q has invalid port %d", d.Serial, d.Port)
		}
		if other, dup := seen[d.Port]; dup {
			return fmt.Errorf("config: devices %q and %q share port %d", other, d.Serial, d.Port)
		}
		seen[d.Port] = d.Serial
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return fmt.Errorf("config: remote.base_url is required")
	}
	if strings.TrimSpace(c.Remote.AppID) == "" {
		return fmt.Errorf("config: remote.app_id is required")
	}
	if strings.TrimSpace(c.Remote.Token) == "" {
		return fmt.Errorf("config: remote.token is required")
	}
	return nil
}

// DeviceBySerial returns the configured endpoint for a serial, if any.
func (c *Config) DeviceBySerial(serial string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Serial == serial {
			return d, true
		}
	}
	return DeviceConfig{}, false
}
