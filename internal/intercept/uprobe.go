package intercept

import "fmt"

// UprobeConfig configures the Linux uprobe interception primitive.
type UprobeConfig struct {
	// ObjectPath is the path to the compiled BPF object file holding
	// the per-symbol entry programs and the event ring buffer.
	ObjectPath string `yaml:"object_path"`

	// LibraryPath is the shared object to install uprobes into,
	// e.g. "/lib/x86_64-linux-gnu/libc.so.6".
	LibraryPath string `yaml:"library_path"`

	// ProcessNames restricts observation to processes whose comm
	// matches one of these names. Empty means observe every process
	// that enters the probed symbols.
	ProcessNames []string `yaml:"process_names"`

	// RingBufferSize is the event ring buffer size in bytes.
	// Defaults to 1MB.
	RingBufferSize int `yaml:"ring_buffer_size"`
}

// Validate checks the configuration for required fields.
func (c *UprobeConfig) Validate() error {
	if c.ObjectPath == "" {
		return fmt.Errorf("object_path is required")
	}

	if c.LibraryPath == "" {
		return fmt.Errorf("library_path is required")
	}

	return nil
}

// Hook IDs stamped into call records by the BPF entry programs.
// These constants must match the C enum in the BPF object.
const (
	hookIDConnect uint32 = 1
	hookIDSend    uint32 = 2
	hookIDRecv    uint32 = 3
)

// nativeHookIDs maps a bare symbol name to the hook ID its BPF entry
// program writes into the call record.
var nativeHookIDs = map[string]uint32{
	"connect": hookIDConnect,
	"send":    hookIDSend,
	"recv":    hookIDRecv,
}
