// Package config handles notibusd configuration loading, validation and
// hot reload.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultMessageTmpl = "[{{.AppName}}]: {{.Summary}} - {{.Body}}"
	DefaultCommand     = "hyprctl"
	DefaultUrgency     = "-1"
	DefaultColor       = "rgb(505050)"
	DefaultServerName  = "notibus"
	DefaultVendor      = "jmylchreest"
	DefaultSpecVersion = "1.2"
)

// DaemonConfig is the configuration for notibusd.
// Loaded from $XDG_CONFIG_HOME/notibus/notibusd.toml
type DaemonConfig struct {
	Bus      BusConfig      `toml:"bus" yaml:"bus"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Renderer RendererConfig `toml:"renderer" yaml:"renderer"`
	Duration DurationConfig `toml:"duration" yaml:"duration"`
}

// BusConfig contains bus connection and startup settings. Changes only take
// effect after a restart.
type BusConfig struct {
	System         bool     `toml:"system" yaml:"system"`                   // Use the system bus instead of the session bus
	Probe          bool     `toml:"probe" yaml:"probe"`                     // Check for a running server before claiming the name
	ProbeTimeout   Duration `toml:"probe_timeout" yaml:"probe_timeout"`     // e.g. "500ms"
	PollInterval   Duration `toml:"poll_interval" yaml:"poll_interval"`     // Upper bound on a single wait for messages
	UnknownMethods string   `toml:"unknown_methods" yaml:"unknown_methods"` // "ignore" or "ack"
}

// ServerConfig contains the identity and protocol surface advertised to clients.
type ServerConfig struct {
	Name          string   `toml:"name" yaml:"name"`
	Vendor        string   `toml:"vendor" yaml:"vendor"`
	Version       string   `toml:"version" yaml:"version"` // Empty = build version
	SpecVersion   string   `toml:"spec_version" yaml:"spec_version"`
	Capabilities  []string `toml:"capabilities" yaml:"capabilities"`
	Introspection bool     `toml:"introspection" yaml:"introspection"`

	// Show notifications about the daemon itself (startup, config reloads)
	InternalNotifications bool `toml:"internal_notifications" yaml:"internal_notifications"`
}

// RendererConfig contains the settings of the external display command.
type RendererConfig struct {
	Kind     string   `toml:"kind" yaml:"kind"`           // "command" or "log"
	Command  string   `toml:"command" yaml:"command"`     // Executable, looked up in PATH
	ArgOrder string   `toml:"arg_order" yaml:"arg_order"` // "urgency-first", "duration-first" or "custom"
	Args     []string `toml:"args" yaml:"args"`           // Argument templates for "custom"
	Message  string   `toml:"message" yaml:"message"`     // Message template
	Urgency  string   `toml:"urgency" yaml:"urgency"`
	Color    string   `toml:"color" yaml:"color"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"` // 0 = no limit
}

// DurationConfig decides how long the renderer shows a notification.
type DurationConfig struct {
	Policy  string   `toml:"policy" yaml:"policy"` // "fixed", "expire-timeout" or "word-count"
	Fixed   Duration `toml:"fixed" yaml:"fixed"`
	Base    Duration `toml:"base" yaml:"base"`         // word-count: base duration
	PerWord Duration `toml:"per_word" yaml:"per_word"` // word-count: added per body word
}

// Unknown method policies.
const (
	UnknownMethodsIgnore = "ignore"
	UnknownMethodsAck    = "ack"
)

// Renderer kinds.
const (
	RendererCommand = "command"
	RendererLog     = "log"
)

// Renderer argument orders.
const (
	ArgOrderUrgencyFirst  = "urgency-first"
	ArgOrderDurationFirst = "duration-first"
	ArgOrderCustom        = "custom"
)

// Duration policies.
const (
	DurationFixed         = "fixed"
	DurationExpireTimeout = "expire-timeout"
	DurationWordCount     = "word-count"
)

// ValidUnknownMethods returns all valid unknown_methods values.
func ValidUnknownMethods() []string {
	return []string{UnknownMethodsIgnore, UnknownMethodsAck}
}

// ValidRendererKinds returns all valid renderer kinds.
func ValidRendererKinds() []string {
	return []string{RendererCommand, RendererLog}
}

// ValidArgOrders returns all valid renderer argument orders.
func ValidArgOrders() []string {
	return []string{ArgOrderUrgencyFirst, ArgOrderDurationFirst, ArgOrderCustom}
}

// ValidDurationPolicies returns all valid duration policies.
func ValidDurationPolicies() []string {
	return []string{DurationFixed, DurationExpireTimeout, DurationWordCount}
}

// DefaultDaemonConfig returns a new DaemonConfig with default values.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Bus: BusConfig{
			System:         false,
			Probe:          true,
			ProbeTimeout:   Duration(500 * time.Millisecond),
			PollInterval:   Duration(time.Second),
			UnknownMethods: UnknownMethodsIgnore,
		},
		Server: ServerConfig{
			Name:          DefaultServerName,
			Vendor:        DefaultVendor,
			Version:       "",
			SpecVersion:   DefaultSpecVersion,
			Capabilities:  []string{"actions", "body"},
			Introspection: true,

			InternalNotifications: false,
		},
		Renderer: RendererConfig{
			Kind:     RendererCommand,
			Command:  DefaultCommand,
			ArgOrder: ArgOrderUrgencyFirst,
			Args:     []string{},
			Message:  DefaultMessageTmpl,
			Urgency:  DefaultUrgency,
			Color:    DefaultColor,
			Timeout:  Duration(5 * time.Second),
		},
		Duration: DurationConfig{
			Policy:  DurationFixed,
			Fixed:   Duration(10 * time.Second),
			Base:    Duration(3 * time.Second),
			PerWord: Duration(300 * time.Millisecond),
		},
	}
}

// DefaultPath returns the path to the daemon config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "notibus", "notibusd.toml")
}

// Load loads the daemon configuration from path, or from DefaultPath when
// path is empty. If the file doesn't exist, the default configuration is
// returned.
func Load(path string) (*DaemonConfig, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultDaemonConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes TOML data over the defaults and validates the result.
func Parse(data []byte) (*DaemonConfig, error) {
	cfg := DefaultDaemonConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path, or to DefaultPath when path is empty.
func (c *DaemonConfig) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *DaemonConfig) Validate() error {
	if c.Bus.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %s", c.Bus.ProbeTimeout.Duration())
	}
	if c.Bus.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.Bus.PollInterval.Duration())
	}
	if !slices.Contains(ValidUnknownMethods(), c.Bus.UnknownMethods) {
		return fmt.Errorf("invalid unknown_methods %q, must be one of: %v", c.Bus.UnknownMethods, ValidUnknownMethods())
	}

	if c.Server.Name == "" {
		return errors.New("server name must not be empty")
	}
	if c.Server.SpecVersion == "" {
		return errors.New("spec_version must not be empty")
	}

	if !slices.Contains(ValidRendererKinds(), c.Renderer.Kind) {
		return fmt.Errorf("invalid renderer kind %q, must be one of: %v", c.Renderer.Kind, ValidRendererKinds())
	}
	if c.Renderer.Kind == RendererCommand && c.Renderer.Command == "" {
		return errors.New("renderer command must not be empty")
	}
	if !slices.Contains(ValidArgOrders(), c.Renderer.ArgOrder) {
		return fmt.Errorf("invalid arg_order %q, must be one of: %v", c.Renderer.ArgOrder, ValidArgOrders())
	}
	if c.Renderer.ArgOrder == ArgOrderCustom && len(c.Renderer.Args) == 0 {
		return errors.New("arg_order \"custom\" requires renderer args")
	}
	if c.Renderer.Timeout < 0 {
		return fmt.Errorf("renderer timeout must not be negative, got %s", c.Renderer.Timeout.Duration())
	}
	if _, err := ParseTemplate("message", c.Renderer.Message); err != nil {
		return fmt.Errorf("invalid message template: %w", err)
	}
	for i, arg := range c.Renderer.Args {
		if _, err := ParseTemplate("arg", arg); err != nil {
			return fmt.Errorf("invalid renderer arg %d: %w", i, err)
		}
	}

	if !slices.Contains(ValidDurationPolicies(), c.Duration.Policy) {
		return fmt.Errorf("invalid duration policy %q, must be one of: %v", c.Duration.Policy, ValidDurationPolicies())
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"fixed", c.Duration.Fixed},
		{"base", c.Duration.Base},
		{"per_word", c.Duration.PerWord},
	} {
		if d.value < 0 {
			return fmt.Errorf("duration %s must not be negative, got %s", d.name, d.value.Duration())
		}
	}

	return nil
}

// RestartRequired reports whether moving from c to next changes settings
// that are only read at startup.
func (c *DaemonConfig) RestartRequired(next *DaemonConfig) bool {
	return c.Bus.System != next.Bus.System ||
		c.Bus.Probe != next.Bus.Probe ||
		c.Bus.ProbeTimeout != next.Bus.ProbeTimeout
}
