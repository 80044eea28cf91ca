// Package automation runs user Lua scripts that react to commissioning
// events. Build with the no_automation tag to leave it out.
package automation

// Config holds automation settings.
type Config struct {
	// ScriptsDir holds *.lua scripts; empty disables automation.
	ScriptsDir string `yaml:"scripts_dir"`
}

// StatusFunc returns the current node status as a JSON-encodable value.
type StatusFunc func() interface{}
