package intercept

import (
	"context"
	"errors"
	"fmt"
)

// ErrTargetUnavailable is returned by Attach when the requested symbol
// does not exist in the observed process. Callers skip that one target
// and keep going; the rest of the hooks stay active.
var ErrTargetUnavailable = errors.New("target symbol not present in process")

// Frame describes one captured stack frame at a managed-call boundary.
type Frame struct {
	// Module is the owning class or shared object, e.g.
	// "com.example.app.MainActivity" or "libssl.so".
	Module string
	// Symbol is the method or function name within the module.
	Symbol string
	// Source is the source location where available, e.g.
	// "MainActivity.java:42". May be empty.
	Source string
}

// Description renders the frame as a single caller string.
func (f Frame) Description() string {
	if f.Source == "" {
		return fmt.Sprintf("%s.%s", f.Module, f.Symbol)
	}

	return fmt.Sprintf("%s.%s(%s)", f.Module, f.Symbol, f.Source)
}

// Call gives a before-call callback access to one intercepted invocation.
// Values are only valid for the duration of the callback.
type Call interface {
	// Target returns the qualified name of the symbol the call hit.
	// Interceptors installed on shared stubs may deliver calls for
	// symbols beyond the one the callback was attached for.
	Target() string
	// NumArgs returns the number of accessible arguments.
	NumArgs() int
	// Arg returns the string representation of the i-th argument.
	// Out-of-range indexes return the empty string.
	Arg(i int) string
	// CaptureStack returns the call stack most-recent-call-first.
	// Only available at a managed-call boundary; native interception
	// returns nil.
	CaptureStack() []Frame
}

// BeforeCall is invoked synchronously before each call to an attached
// target, on whichever thread makes the call. The primitive forwards
// the call to the original implementation exactly once after the
// callback returns, regardless of what the callback does.
type BeforeCall func(call Call)

// Primitive is the host-provided interception mechanism. Implementations
// install hooks into a live process (dynamic loader hooks, uprobes,
// debugger APIs); the observation core is written entirely against this
// interface and stays platform-agnostic.
type Primitive interface {
	// Attach registers a before-call callback for the described target.
	// Returns an error wrapping ErrTargetUnavailable when the symbol
	// is absent from the process.
	Attach(target TargetDescriptor, cb BeforeCall) error
}

// Runner is implemented by primitives that need an explicit lifecycle,
// such as the uprobe primitive which loads programs and reads events
// in the background. Attach calls must precede Start.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error
}

// TargetDescriptor identifies a symbol to intercept and how many
// positional arguments the callback needs access to.
type TargetDescriptor struct {
	// Name is the qualified target name, e.g. "libc.connect" or
	// "java.io.File.<init>".
	Name string
	// NumArgs is the number of leading arguments to capture.
	NumArgs int
}

// Symbol returns the bare symbol name, stripping any library or class
// qualifier ("libc.connect" -> "connect").
func (d TargetDescriptor) Symbol() string {
	for i := len(d.Name) - 1; i >= 0; i-- {
		if d.Name[i] == '.' {
			return d.Name[i+1:]
		}
	}

	return d.Name
}
