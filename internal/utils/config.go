package utils

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Server struct {
		Address           string        `yaml:"address"`            // HTTP listen address for the device hub
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // Per-connection heartbeat tick
	} `yaml:"server"`

	Redis struct {
		Enabled                 bool          `yaml:"enabled"`                   // Use Redis as the shared store; memory store otherwise
		Addr                    string        `yaml:"addr"`                      // Redis host:port
		Password                string        `yaml:"password"`                  // Redis password
		DB                      int           `yaml:"db"`                        // Redis logical database
		DialTimeout             time.Duration `yaml:"dial_timeout"`              // Connection timeout
		ConfigureKeyspaceEvents bool          `yaml:"configure_keyspace_events"` // Enable expired keyevents on connect
	} `yaml:"redis"`

	MQTT struct {
		Enabled       bool   `yaml:"enabled"`        // Broadcast device changes over MQTT
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		Username      string `yaml:"username"`       // Broker username
		Password      string `yaml:"password"`       // Broker password
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate
		TopicPrefix   string `yaml:"topic_prefix"`   // Prefix of the device feed topics
		QOS           int    `yaml:"qos"`            // QoS level for broadcasts
	} `yaml:"mqtt"`

	Database struct {
		DSN string `yaml:"dsn"` // MySQL DSN; empty keeps catalog and history in memory
	} `yaml:"database"`

	Catalog struct {
		SeedFile string `yaml:"seed_file"` // JSON device list loaded into the memory catalog
	} `yaml:"catalog"`

	Liveness struct {
		WindowSeconds int `yaml:"window_seconds"` // Silence tolerated before a connection is evicted
	} `yaml:"liveness"`

	Notifications struct {
		DebounceWindowSeconds int           `yaml:"debounce_window_seconds"` // Time a transition must persist before alerting
		ServiceURL            string        `yaml:"service_url"`             // Notification service base URL
		Token                 string        `yaml:"token"`                   // Notification service token
		Timeout               time.Duration `yaml:"timeout"`                 // Per-alert HTTP timeout
		Timezone              string        `yaml:"timezone"`                // Zone alert timestamps are rendered in
		MapsAPIKey            string        `yaml:"maps_api_key"`            // Google maps API key for alert addresses
	} `yaml:"notifications"`

	Logging struct {
		Level  string `yaml:"level"`  // zerolog level name
		Pretty bool   `yaml:"pretty"` // Human readable console output
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates it.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", filename, err)
	}
	return &config, nil
}

// ApplyDefaults fills unset values. Window settings are left alone so that an
// explicit invalid value is still reported by Validate.
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = constants.DefaultServerAddress
	}
	if c.Server.HeartbeatInterval <= 0 {
		c.Server.HeartbeatInterval = constants.DefaultHeartbeatInterval
	}
	if c.Liveness.WindowSeconds == 0 {
		c.Liveness.WindowSeconds = constants.DefaultLivenessWindowSeconds
	}
	if c.Notifications.DebounceWindowSeconds == 0 {
		c.Notifications.DebounceWindowSeconds = constants.DefaultDebounceWindowSeconds
	}
	if c.Notifications.Timezone == "" {
		c.Notifications.Timezone = constants.DefaultAlertTimezone
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = constants.DefaultTopicPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks values that would make the engine misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Liveness.WindowSeconds <= 0 {
		errs = append(errs, errors.New("liveness.window_seconds must be a positive integer"))
	}
	if c.Liveness.WindowSeconds > 0 && c.Server.HeartbeatInterval >= c.LivenessWindow() {
		errs = append(errs, fmt.Errorf("server.heartbeat_interval %s must be shorter than the liveness window", c.Server.HeartbeatInterval))
	}
	if c.Notifications.DebounceWindowSeconds <= 0 {
		errs = append(errs, errors.New("notifications.debounce_window_seconds must be a positive integer"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d is out of range", c.MQTT.QOS))
	}
	if _, err := time.LoadLocation(c.Notifications.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("notifications.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// LivenessWindow returns the liveness window as a duration.
func (c *Config) LivenessWindow() time.Duration {
	return time.Duration(c.Liveness.WindowSeconds) * time.Second
}

// DebounceWindow returns the notification debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Notifications.DebounceWindowSeconds) * time.Second
}
