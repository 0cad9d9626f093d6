// Package config loads the daemon configuration from config.yaml, an optional
// .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"floradaemon/internal/report"
	"floradaemon/internal/sensor"
)

// Config file name
const FileName = "config.yaml"

// Environment variable names
const (
	EnvMQTTHostname = "MQTT_HOSTNAME"
	EnvMQTTPort     = "MQTT_PORT"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
)

// Default values
const (
	DefaultReportingMethod = "mqtt-json"
	DefaultAdapter         = "hci0"
	DefaultDaemonEnabled   = true
	DefaultPeriod          = 300
	DefaultMQTTHostname    = "localhost"
	DefaultMQTTPort        = 1883
	DefaultMQTTKeepAlive   = 60
)

var (
	// ErrNoSensors is returned when the sensors section is missing or empty
	ErrNoSensors = errors.New("no sensors configured")

	// ErrInvalidMode is returned for an unknown reporting_method
	ErrInvalidMode = report.ErrInvalidMode
)

// Config holds all daemon configuration.
type Config struct {
	General GeneralConfig `yaml:"general"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Status  StatusConfig  `yaml:"status"`

	// Sensors keeps the order of the sensors mapping in the file.
	Sensors []SensorEntry `yaml:"-"`

	path     string
	mode     report.Mode
	registry *sensor.Registry
	warnings []string
}

// GeneralConfig selects the reporting convention and the radio adapter.
type GeneralConfig struct {
	ReportingMethod string `yaml:"reporting_method"`
	Adapter         string `yaml:"adapter"`
}

// DaemonConfig controls repeated sweeps.
type DaemonConfig struct {
	Enabled bool `yaml:"enabled"`
	Period  int  `yaml:"period"` // seconds
}

// MQTTConfig defines the broker connection.
type MQTTConfig struct {
	Hostname    string `yaml:"hostname"`
	Port        int    `yaml:"port"`
	KeepAlive   int    `yaml:"keepalive"` // seconds
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TLS         bool   `yaml:"tls"`
	TLSCACert   string `yaml:"tls_ca_cert"`
	TLSCertFile string `yaml:"tls_certfile"`
	TLSKeyFile  string `yaml:"tls_keyfile"`
	BaseTopic   string `yaml:"base_topic"`
}

// StatusConfig defines the optional status HTTP server. Empty Listen disables it.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// SensorEntry is one "Name[@Location]": "MAC" line of the sensors section.
type SensorEntry struct {
	Label   string
	Address string
}

// SearchPaths returns the config file search order for a config directory.
func SearchPaths(configDir string) []string {
	var paths []string
	if configDir != "" {
		paths = append(paths, filepath.Join(configDir, FileName))
	}
	return append(paths, FileName, filepath.Join("/etc/floradaemon", FileName))
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches SearchPaths and returns the first that exists.
func FindConfig(explicit, configDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := SearchPaths(configDir)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Load reads the config file at path, applies .env and environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.path = path

	values, err := readEnv(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil {
		return nil, err
	}
	if err := cfg.applyValues(values); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes config.yaml content without environment overrides or validation.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var doc struct {
		Sensors yaml.Node `yaml:"sensors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	sensors, err := parseSensors(&doc.Sensors)
	if err != nil {
		return nil, err
	}
	cfg.Sensors = sensors

	return cfg, nil
}

// parseSensors walks the sensors mapping node in document order.
func parseSensors(node *yaml.Node) ([]SensorEntry, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("sensors: line %d: expected a mapping of name to MAC address", node.Line)
	}

	entries := make([]SensorEntry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("sensors: line %d: MAC address for %q must be a string", value.Line, key.Value)
		}
		entries = append(entries, SensorEntry{Label: key.Value, Address: value.Value})
	}
	return entries, nil
}

// setDefaults initializes all fields with default values.
func (c *Config) setDefaults() {
	c.General.ReportingMethod = DefaultReportingMethod
	c.General.Adapter = DefaultAdapter
	c.Daemon.Enabled = DefaultDaemonEnabled
	c.Daemon.Period = DefaultPeriod
	c.MQTT.Hostname = DefaultMQTTHostname
	c.MQTT.Port = DefaultMQTTPort
	c.MQTT.KeepAlive = DefaultMQTTKeepAlive
}

// readEnv merges an optional .env file with the process environment.
// Non-empty process variables win.
func readEnv(envPath string) (map[string]string, error) {
	values, err := godotenv.Read(envPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
		values = map[string]string{}
	}

	for _, key := range []string{EnvMQTTHostname, EnvMQTTPort, EnvMQTTUsername, EnvMQTTPassword} {
		if v := os.Getenv(key); v != "" {
			values[key] = v
		}
	}
	return values, nil
}

// applyValues applies environment key-value pairs to config.
func (c *Config) applyValues(values map[string]string) error {
	if v, ok := values[EnvMQTTHostname]; ok && v != "" {
		c.MQTT.Hostname = v
	}

	if v, ok := values[EnvMQTTPort]; ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid port number: %s", EnvMQTTPort, v)
		}
		c.MQTT.Port = port
	}

	if v, ok := values[EnvMQTTUsername]; ok && v != "" {
		c.MQTT.Username = v
	}
	if v, ok := values[EnvMQTTPassword]; ok && v != "" {
		c.MQTT.Password = v
	}
	return nil
}

// validate checks the configuration and builds the sensor registry.
func (c *Config) validate() error {
	mode, err := report.ParseMode(c.General.ReportingMethod)
	if err != nil {
		return fmt.Errorf("general.reporting_method: %w", err)
	}
	c.mode = mode

	if c.Daemon.Period < 1 {
		return fmt.Errorf("daemon.period must be at least 1 second, got %d", c.Daemon.Period)
	}

	if mode.UsesBus() {
		if c.MQTT.Hostname == "" {
			return errors.New("mqtt.hostname cannot be empty")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port: invalid port number: %d", c.MQTT.Port)
		}
		if c.MQTT.KeepAlive < 0 {
			return fmt.Errorf("mqtt.keepalive cannot be negative: %d", c.MQTT.KeepAlive)
		}
	}

	c.MQTT.BaseTopic = strings.ToLower(c.MQTT.BaseTopic)
	c.warnings = nil
	if c.MQTT.BaseTopic != "" && mode.IgnoresBaseTopic() {
		c.warnings = append(c.warnings,
			fmt.Sprintf("mqtt.base_topic %q has no effect with reporting method %s", c.MQTT.BaseTopic, mode))
	}

	if len(c.Sensors) == 0 {
		return ErrNoSensors
	}

	registry := sensor.NewRegistry()
	for _, entry := range c.Sensors {
		h, err := sensor.NewHandle(entry.Label, entry.Address)
		if err != nil {
			return fmt.Errorf("sensors: %q: %w", entry.Label, err)
		}
		if err := registry.Add(h); err != nil {
			return fmt.Errorf("sensors: %w", err)
		}
	}
	c.registry = registry

	return nil
}

// Mode returns the resolved reporting convention.
func (c *Config) Mode() report.Mode {
	return c.mode
}

// Registry returns the sensors in configuration order.
func (c *Config) Registry() *sensor.Registry {
	return c.registry
}

// Warnings returns non-fatal problems found during validation.
func (c *Config) Warnings() []string {
	return c.warnings
}

// FilePath returns the path the configuration was loaded from.
func (c *Config) FilePath() string {
	return c.path
}

// Period returns the sweep period.
func (c *Config) Period() time.Duration {
	return time.Duration(c.Daemon.Period) * time.Second
}

// CacheTimeout is how long a device reading stays valid. Always shorter than
// the period so every sweep fetches fresh data.
func (c *Config) CacheTimeout() time.Duration {
	return c.Period() - time.Second
}

// KeepAlive returns the broker keepalive interval.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.MQTT.KeepAlive) * time.Second
}

// BaseTopic returns the configured base topic or the mode default.
func (c *Config) BaseTopic() string {
	if c.MQTT.BaseTopic == "" || c.mode.IgnoresBaseTopic() {
		return c.mode.DefaultBaseTopic()
	}
	return c.MQTT.BaseTopic
}

// String returns a string representation of the config (without secrets).
func (c *Config) String() string {
	passwordDisplay := "[not set]"
	if c.MQTT.Password != "" {
		passwordDisplay = "[set]"
	}

	return fmt.Sprintf(
		"Config{Mode: %s, Adapter: %q, Daemon: %v, Period: %ds, Broker: %s:%d, Username: %q, Password: %s, TLS: %v, BaseTopic: %q, Sensors: %d}",
		c.mode, c.General.Adapter, c.Daemon.Enabled, c.Daemon.Period, c.MQTT.Hostname, c.MQTT.Port,
		c.MQTT.Username, passwordDisplay, c.MQTT.TLS, c.BaseTopic(), len(c.Sensors),
	)
}
