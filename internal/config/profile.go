package config

import (
	"fmt"
	"sort"
)

// Built-in profiles.
const (
	ProfileGUI     = "gui"
	ProfileSimple  = "simple"
	ProfileOffline = "offline"
)

// profiles adjust the defaults for a deployment style. They run before the
// config file is merged, so file values still win.
var profiles = map[string]func(*Config){
	// Typed input from a desktop window: no spoken readback, longer
	// confirmation window for clicking.
	ProfileGUI: func(c *Config) {
		c.Confirmation.Readback = false
		c.Confirmation.Timeout *= 3
		c.Output.Mode = "clipboard"
	},
	// Straight dictation to the provider.
	ProfileSimple: func(c *Config) {
		c.Refiner.Enabled = false
		c.Confirmation.Enabled = false
	},
	// Everything on the local model.
	ProfileOffline: func(c *Config) {
		c.Providers.Primary = BackendOllama
		c.Providers.Model = c.Providers.OllamaModel
		c.Providers.FallbackModel = ""
		c.Providers.Local = ""
		c.Refiner.Enabled = false
	},
}

// Profiles returns the names of the built-in profiles.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyProfile merges the named profile into c. An empty name is a no-op.
func (c *Config) ApplyProfile(name string) error {
	if name == "" {
		return nil
	}
	apply, ok := profiles[name]
	if !ok {
		return &ValidationError{Field: "profile", Message: fmt.Sprintf("unknown profile %q", name)}
	}
	apply(c)
	c.Profile = name
	return nil
}
