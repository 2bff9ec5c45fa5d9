// Package config handles webpilot configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level webpilot configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Serializer SerializerConfig `yaml:"serializer"`
	Action     ActionConfig     `yaml:"action"`
	Journal    JournalConfig    `yaml:"journal"`
	HTTP       HTTPConfig       `yaml:"http"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// BrowserConfig controls how Chrome is reached.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"` // DevTools websocket URL; empty launches Chrome
	Bin              string   `yaml:"bin"`
	Mode             string   `yaml:"mode"` // headless | headful
	Stealth          bool     `yaml:"stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"` // image, font, media, stylesheet
	UserDataDir      string   `yaml:"user_data_dir"`
}

// SerializerConfig tunes DOM serialization.
type SerializerConfig struct {
	ContainmentThreshold float64  `yaml:"containment_threshold"`
	IncludeAttributes    []string `yaml:"include_attributes"` // nil uses the default list
}

// Nudge is one occlusion scroll delta.
type Nudge struct {
	DX float64 `yaml:"dx"`
	DY float64 `yaml:"dy"`
}

// ActionConfig holds action timings.
type ActionConfig struct {
	CallTimeout     time.Duration `yaml:"call_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	TypeDelay       time.Duration `yaml:"type_delay"`
	MaxWait         time.Duration `yaml:"max_wait"`
	TextTimeout     time.Duration `yaml:"text_timeout"`
	SelectorTimeout time.Duration `yaml:"selector_timeout"`
	Nudges          []Nudge       `yaml:"nudges"`
}

// JournalConfig controls the SQLite action journal.
type JournalConfig struct {
	Path        string        `yaml:"path"` // empty disables the journal
	Buffer      int           `yaml:"buffer"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Synchronous string        `yaml:"synchronous"` // OFF | NORMAL | FULL | EXTRA
}

// HTTPConfig controls the HTTP API.
type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"` // bcrypt; empty disables auth
}

// MCPConfig names the MCP server.
type MCPConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Serializer.ContainmentThreshold <= 0 {
		c.Serializer.ContainmentThreshold = 0.99
	}
	a := &c.Action
	if a.CallTimeout <= 0 {
		a.CallTimeout = 10 * time.Second
	}
	if a.PollInterval <= 0 {
		a.PollInterval = 100 * time.Millisecond
	}
	if a.SettleDelay <= 0 {
		a.SettleDelay = 300 * time.Millisecond
	}
	if a.TypeDelay <= 0 {
		a.TypeDelay = 20 * time.Millisecond
	}
	if a.MaxWait <= 0 {
		a.MaxWait = 10 * time.Second
	}
	if a.TextTimeout <= 0 {
		a.TextTimeout = 2 * time.Second
	}
	if a.SelectorTimeout <= 0 {
		a.SelectorTimeout = 5 * time.Second
	}
	if len(a.Nudges) == 0 {
		a.Nudges = []Nudge{{DY: -50}, {DY: 50}, {DX: -50}, {DX: 50}}
	}
	if c.Journal.Buffer <= 0 {
		c.Journal.Buffer = 256
	}
	if c.Journal.BusyTimeout <= 0 {
		c.Journal.BusyTimeout = 5 * time.Second
	}
	c.Journal.Synchronous = strings.ToUpper(c.Journal.Synchronous)
	if c.Journal.Synchronous == "" {
		c.Journal.Synchronous = "NORMAL"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8421"
	}
	if c.MCP.Name == "" {
		c.MCP.Name = "webpilot"
	}
	if c.MCP.Version == "" {
		c.MCP.Version = "0.1.0"
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode must be headless or headful, got %q", c.Browser.Mode)
	}
	if c.Serializer.ContainmentThreshold > 1 {
		return fmt.Errorf("config: serializer.containment_threshold must be in (0,1], got %v", c.Serializer.ContainmentThreshold)
	}
	switch c.Journal.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: journal.synchronous must be OFF, NORMAL, FULL or EXTRA, got %q", c.Journal.Synchronous)
	}
	if c.HTTP.PasswordHash != "" && c.HTTP.User == "" {
		return fmt.Errorf("config: http.password_hash needs http.user")
	}
	return nil
}
