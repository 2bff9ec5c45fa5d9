package domagent

import (
	"github.com/hazyhaar/webpilot/domagent/internal/action"
	"github.com/hazyhaar/webpilot/domagent/internal/config"
	"github.com/hazyhaar/webpilot/domagent/internal/journal"
)

// Config is the top-level webpilot configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls how Chrome is reached.
type BrowserConfig = config.BrowserConfig

// ActionConfig holds action timings and occlusion nudges.
type ActionConfig = config.ActionConfig

// JournalEntry is one recorded action.
type JournalEntry = journal.Entry

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// ActionRequest describes one action.
type ActionRequest = action.Request

// ActionResult reports a completed action.
type ActionResult = action.Result

// ActionKind names an action.
type ActionKind = action.Kind
