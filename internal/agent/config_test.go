package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ModeUprobe, cfg.Intercept.Mode)
	assert.True(t, cfg.Emit.Diagnostics)
	assert.Equal(t, ":9090", cfg.Health.Addr)
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
app_namespaces:
  - com.example.app
  - com.example.lib
intercept:
  mode: uprobe
  uprobe:
    object_path: /usr/share/apiscope/apiscope.bpf.o
    library_path: /lib/x86_64-linux-gnu/libc.so.6
    process_names:
      - com.example.app
    ring_buffer_size: 2097152
emit:
  diagnostics: false
forward:
  enabled: true
  address: "http://analyzer:8080/events"
  compression: zstd
  agent_name: lab-device-3
health:
  addr: ":9091"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t,
		[]string{"com.example.app", "com.example.lib"},
		cfg.AppNamespaces,
	)
	assert.Equal(t, ModeUprobe, cfg.Intercept.Mode)
	assert.Equal(t,
		"/usr/share/apiscope/apiscope.bpf.o",
		cfg.Intercept.Uprobe.ObjectPath,
	)
	assert.Equal(t,
		"/lib/x86_64-linux-gnu/libc.so.6",
		cfg.Intercept.Uprobe.LibraryPath,
	)
	assert.Equal(t, 2097152, cfg.Intercept.Uprobe.RingBufferSize)
	assert.False(t, cfg.Emit.Diagnostics)
	assert.True(t, cfg.Forward.Enabled)
	assert.Equal(t, "http://analyzer:8080/events", cfg.Forward.Address)
	assert.Equal(t, "zstd", cfg.Forward.Compression)
	assert.Equal(t, "lab-device-3", cfg.Forward.AgentName)
	assert.Equal(t, ":9091", cfg.Health.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	// A tab at the start is invalid YAML indentation.
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate_UprobeRequiresPaths(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object_path is required")
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Intercept.Mode = "frida"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intercept.mode")
}

func TestValidate_SimulatorModeNeedsNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Intercept.Mode = ModeSimulator

	assert.NoError(t, cfg.Validate())
}

func TestValidate_ForwardErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Intercept.Mode = ModeSimulator
	cfg.Forward.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forward:")
}
