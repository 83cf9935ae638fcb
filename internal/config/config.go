package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ServerConfig - HTTP control interface settings
type ServerConfig struct {
	Port            string   `json:"port" env:"PORT"`
	Prefix          string   `json:"prefix" env:"PREFIX"`
	AllowedOrigins  []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxBodyBytes    int64    `json:"max_body_bytes" env:"MAX_BODY_BYTES"`
	ReadTimeout     string   `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    string   `json:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout string   `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimit       float64  `json:"command_rate_limit" env:"COMMAND_RATE_LIMIT"`
	RateBurst       int      `json:"command_rate_burst" env:"COMMAND_RATE_BURST"`
}

// EventsConfig - queue between the control interface and the application
type EventsConfig struct {
	Capacity    int    `json:"capacity" env:"CAPACITY"`
	SendTimeout string `json:"send_timeout" env:"SEND_TIMEOUT"`
}

// DisplayConfig - the wall being controlled
type DisplayConfig struct {
	Name   string `json:"name" env:"NAME"`
	Width  int    `json:"width" env:"WIDTH"`
	Height int    `json:"height" env:"HEIGHT"`
}

// MQTTConfig - optional MQTT command bridge
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" env:"ENABLED"`
	Broker      string `json:"broker" env:"BROKER"` // tcp://IP:PORT
	Username    string `json:"username" env:"USERNAME"`
	Password    string `json:"password" env:"PASSWORD"`
	ClientID    string `json:"client_id" env:"CLIENT_ID"`
	TopicPrefix string `json:"topic_prefix" env:"TOPIC_PREFIX"`
}

// LogConfig - logger settings
type LogConfig struct {
	Level  string `json:"level" env:"LEVEL"`
	Format string `json:"format" env:"FORMAT"`
}

// Config is the top-level configuration. It is loaded once at startup and treated
// as immutable afterwards; components receive copies.
type Config struct {
	Server  ServerConfig  `json:"server" envPrefix:"SERVER_"`
	Events  EventsConfig  `json:"events" envPrefix:"EVENTS_"`
	Display DisplayConfig `json:"display" envPrefix:"DISPLAY_"`
	MQTT    MQTTConfig    `json:"mqtt" envPrefix:"MQTT_"`
	Log     LogConfig     `json:"log" envPrefix:"LOG_"`

	// File system settings
	SessionsDir    string `json:"sessions_dir" env:"SESSIONS_DIR"`
	ScreenshotsDir string `json:"screenshots_dir" env:"SCREENSHOTS_DIR"`
	ScriptsDir     string `json:"scripts_dir" env:"SCRIPTS_DIR"`
	SchedulesFile  string `json:"schedules_file" env:"SCHEDULES_FILE"`
}

// EnvPrefix is prepended to every environment variable, e.g. TIDE_SERVER_PORT.
const EnvPrefix = "TIDE_"

// Load reads the JSON file at path, applies .env and environment overrides,
// then defaults and validation. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) sanitize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.Prefix = strings.TrimSpace(c.Server.Prefix)
	c.SessionsDir = strings.TrimSpace(c.SessionsDir)
	c.ScreenshotsDir = strings.TrimSpace(c.ScreenshotsDir)
	c.ScriptsDir = strings.TrimSpace(c.ScriptsDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)

	if c.Server.Prefix != "" {
		c.Server.Prefix = "/" + strings.Trim(c.Server.Prefix, "/")
	}
}

func (c *Config) setDefaults() {
	// Server Defaults
	if c.Server.Port == "" {
		c.Server.Port = "8888"
	}
	if c.Server.Prefix == "" {
		c.Server.Prefix = "/tide"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 64 << 10
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "15s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 20
	}

	// Events Defaults
	if c.Events.Capacity == 0 {
		c.Events.Capacity = 64
	}
	if c.Events.SendTimeout == "" {
		c.Events.SendTimeout = "100ms"
	}

	// Display Defaults
	if c.Display.Name == "" {
		c.Display.Name = "Tide"
	}
	if c.Display.Width == 0 {
		c.Display.Width = 3840
	}
	if c.Display.Height == 0 {
		c.Display.Height = 2160
	}

	// File Defaults
	if c.SessionsDir == "" {
		c.SessionsDir = "sessions"
	}
	if c.ScreenshotsDir == "" {
		c.ScreenshotsDir = "screenshots"
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "tide-master"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "tide"
	}

	// Log Defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	durations := map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"events.send_timeout":     c.Events.SendTimeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config error: '%s': %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("config error: '%s' must be positive", key)
		}
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config error: 'command_rate_limit' must not be negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("config error: 'max_body_bytes' must not be negative")
	}
	if c.Events.Capacity < 0 {
		return fmt.Errorf("config error: 'events.capacity' must not be negative")
	}
	if c.Display.Width < 0 || c.Display.Height < 0 {
		return fmt.Errorf("config error: display size must not be negative")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}

// ReadTimeout returns the parsed server read timeout.
func (c *Config) ReadTimeout() time.Duration { return mustDuration(c.Server.ReadTimeout) }

// WriteTimeout returns the parsed server write timeout.
func (c *Config) WriteTimeout() time.Duration { return mustDuration(c.Server.WriteTimeout) }

// ShutdownTimeout returns the parsed graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration { return mustDuration(c.Server.ShutdownTimeout) }

// SendTimeout returns the parsed event channel send timeout.
func (c *Config) SendTimeout() time.Duration { return mustDuration(c.Events.SendTimeout) }

// mustDuration is only used on validated configs; a bad value yields zero and the
// consumer falls back to its own default.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
