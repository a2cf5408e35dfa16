// Package config loads the YAML configuration of the basicproto tool.
//
// The embedded default file is always decoded first and a user file is
// layered over it, so every field has a value even when the user file is
// missing or partial. A loaded Config is never modified afterwards; the
// To* helpers hand out the construction-time structs of the other packages.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quiqcl/basicproto/embedded"
	"github.com/quiqcl/basicproto/internal/device"
	"github.com/quiqcl/basicproto/internal/protocol"
	"github.com/quiqcl/basicproto/internal/serial"
)

const (
	appName    = "basicproto"
	configFile = "config.yaml"
)

// ErrDeviceNotFound is returned by Device for an unknown device name.
var ErrDeviceNotFound = errors.New("config: device not found")

// Config is the whole configuration file.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// SerialConfig holds the line settings shared by every port.
type SerialConfig struct {
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	StopBits    int           `yaml:"stop_bits"`
	Raw         bool          `yaml:"raw"`
}

// ProtocolConfig holds the query timing parameters.
type ProtocolConfig struct {
	DrainThreshold    int           `yaml:"drain_threshold"`
	DrainPollInterval time.Duration `yaml:"drain_poll_interval"`
}

// DeviceConfig names one device and the port it is attached to.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	Port         string `yaml:"port"`
	PatternBytes int    `yaml:"pattern_bytes,omitempty"`
}

// GetConfigDir returns the OS-appropriate configuration directory:
//   - Linux: $XDG_CONFIG_HOME/basicproto or $HOME/.config/basicproto
//   - macOS: $HOME/.config/basicproto
//   - Windows: %LOCALAPPDATA%\basicproto
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appName), nil
		}
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(userProfile, "AppData", "Local", appName), nil

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil

	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil
	}
}

// GetConfigPath returns the full path to the user configuration file.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(embedded.DefaultConfig(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the configuration at path over the defaults and validates it.
// An empty path means the user configuration file, which may be absent;
// an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		if path, err = GetConfigPath(); err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML data over cfg. Fields absent from data keep their
// current values; unknown fields are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Serial.ToSerial().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Protocol.DrainThreshold < 0 {
		errs = append(errs, fmt.Errorf("protocol: drain_threshold must not be negative, got %d", c.Protocol.DrainThreshold))
	}
	if c.Protocol.DrainPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("protocol: drain_poll_interval must be positive, got %s", c.Protocol.DrainPollInterval))
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("devices[%d]: name is required", i))
		case seen[d.Name]:
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true

		if d.Port == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: port is required", i))
		}
		if n := d.PatternBytes; n != 0 && (n < 1 || n > protocol.MaxCommandLen) {
			errs = append(errs, fmt.Errorf("devices[%d]: pattern_bytes must be in [1, %d], got %d", i, protocol.MaxCommandLen, n))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Device returns the device named name.
func (c *Config) Device(name string) (DeviceConfig, error) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, nil
		}
	}
	return DeviceConfig{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// ToSerial converts to the serial package configuration.
func (s SerialConfig) ToSerial() serial.Config {
	return serial.Config{
		BaudRate:    s.BaudRate,
		ReadTimeout: s.ReadTimeout,
		StopBits:    s.StopBits,
		Raw:         s.Raw,
	}
}

// ToProtocol converts to the protocol package configuration.
func (p ProtocolConfig) ToProtocol() protocol.Config {
	return protocol.Config{
		DrainThreshold:    p.DrainThreshold,
		DrainPollInterval: p.DrainPollInterval,
	}
}

// Options returns the device options for d. An unset pattern size means
// the reference firmware size.
func (c *Config) Options(d DeviceConfig) device.Options {
	opts := device.DefaultOptions()
	opts.Name = d.Name
	opts.Protocol = c.Protocol.ToProtocol()
	if d.PatternBytes != 0 {
		opts.PatternBytes = d.PatternBytes
	}
	return opts
}
