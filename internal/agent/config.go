package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/apiscope/apiscope/internal/emit"
	"github.com/apiscope/apiscope/internal/export"
	httpexport "github.com/apiscope/apiscope/internal/export/http"
	"github.com/apiscope/apiscope/internal/intercept"
)

// Interception primitive modes.
const (
	ModeUprobe    = "uprobe"
	ModeSimulator = "simulator"
)

// InterceptConfig selects and configures the interception primitive.
type InterceptConfig struct {
	// Mode selects the primitive implementation: "uprobe" attaches
	// to native library symbols on Linux; "simulator" runs the agent
	// without a live process, for dry runs.
	Mode string `yaml:"mode"`

	// Uprobe configures the uprobe primitive.
	Uprobe intercept.UprobeConfig `yaml:"uprobe"`
}

// Config is the top-level configuration for the apiscope agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// AppNamespaces are the code-namespace prefixes identifying the
	// observed application's own code, e.g. "com.example.app".
	// Call-site resolution prefers frames matching these over
	// runtime and library frames.
	AppNamespaces []string `yaml:"app_namespaces"`

	// Intercept selects the interception primitive.
	Intercept InterceptConfig `yaml:"intercept"`

	// Emit configures the event line stream.
	Emit emit.Config `yaml:"emit"`

	// Forward configures optional HTTP forwarding of event lines.
	Forward httpexport.Config `yaml:"forward"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Intercept: InterceptConfig{
			Mode: ModeUprobe,
		},
		Emit: emit.Config{
			Diagnostics: true,
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	switch c.Intercept.Mode {
	case ModeUprobe:
		if err := c.Intercept.Uprobe.Validate(); err != nil {
			return fmt.Errorf("intercept.uprobe: %w", err)
		}
	case ModeSimulator:
		// Nothing to configure.
	default:
		return fmt.Errorf(
			"intercept.mode must be %q or %q, got %q",
			ModeUprobe, ModeSimulator, c.Intercept.Mode,
		)
	}

	if err := c.Forward.Validate(); err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	return nil
}
