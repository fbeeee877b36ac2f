package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportRFCOMM = "rfcomm"
	TransportSerial = "serial"

	maxRFCOMMChannel = 30
)

// Config is the slidectl configuration file.
type Config struct {
	Adapter        string        `yaml:"adapter"`
	Transport      string        `yaml:"transport"`
	Channel        int           `yaml:"channel"`
	SerialPort     string        `yaml:"serial_port"`
	BaudRate       int           `yaml:"baud_rate"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	Socket         string        `yaml:"socket"`
	Device         DeviceConfig  `yaml:"device"`
	Logger         LoggerConfig  `yaml:"logger"`
}

// DeviceConfig names the default peer.
type DeviceConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
	Output string `yaml:"output"` // stderr | stdout | file path
}

func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "slidectl", "config.yaml")
}

func socketPath(cfg *Config) string {
	if cfg.Socket != "" {
		return cfg.Socket
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "slidectl.sock")
}

func Defaults() *Config {
	return &Config{
		Adapter:        "hci0",
		Transport:      TransportRFCOMM,
		Channel:        1,
		SerialPort:     "/dev/rfcomm0",
		BaudRate:       115200,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   3 * time.Second,
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps SLIDECTL_* env vars to config fields.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SLIDECTL_DEVICE"); v != "" {
		cfg.Device.Address = v
	}
	if v := os.Getenv("SLIDECTL_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("SLIDECTL_ADAPTER"); v != "" {
		cfg.Adapter = v
	}
	if v := os.Getenv("SLIDECTL_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("SLIDECTL_CHANNEL"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SLIDECTL_CHANNEL: %w", err)
		}
		cfg.Channel = ch
	}
	if v := os.Getenv("SLIDECTL_SOCKET"); v != "" {
		cfg.Socket = v
	}
	if v := os.Getenv("SLIDECTL_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	return nil
}

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func validateConfig(cfg *Config) error {
	ve := &ValidationError{}
	if cfg.Adapter == "" {
		ve.Add("adapter must be set")
	}
	switch cfg.Transport {
	case TransportRFCOMM:
		if cfg.Channel < 1 || cfg.Channel > maxRFCOMMChannel {
			ve.Add("channel must be between 1 and %d, got %d", maxRFCOMMChannel, cfg.Channel)
		}
	case TransportSerial:
		if cfg.SerialPort == "" {
			ve.Add("serial_port must be set for the serial transport")
		}
		if cfg.BaudRate <= 0 {
			ve.Add("baud_rate must be > 0")
		}
	default:
		ve.Add("transport must be %q or %q, got %q", TransportRFCOMM, TransportSerial, cfg.Transport)
	}
	if cfg.ConnectTimeout <= 0 {
		ve.Add("connect_timeout must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		ve.Add("write_timeout must be > 0")
	}
	if cfg.Device.Address != "" {
		if _, err := parseAddress(cfg.Device.Address); err != nil {
			ve.Add("device.address: %v", err)
		}
	}
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// resolveSelector picks the device selector. Explicit flags win over the
// config file.
func resolveSelector(cfg *Config, addr, name string) Selector {
	if addr != "" || name != "" {
		return Selector{Address: addr, Name: name}
	}
	return Selector{Address: cfg.Device.Address, Name: cfg.Device.Name}
}
