// Package hook defines the fixed table of monitored targets: which
// entry points of the observed process are of interest, what arguments
// to extract from each, and how to derive the dedup key for native
// events.
package hook

import "fmt"

// TargetKind classifies a monitored entry point.
type TargetKind uint8

const (
	KindManagedConstructor TargetKind = 1
	KindManagedMethod      TargetKind = 2
	KindNativeFunction     TargetKind = 3
)

// String returns the human-readable name of the target kind.
func (k TargetKind) String() string {
	switch k {
	case KindManagedConstructor:
		return "managed_constructor"
	case KindManagedMethod:
		return "managed_method"
	case KindNativeFunction:
		return "native_function"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Managed reports whether events of this kind originate at a
// managed-runtime boundary. Managed events are individually
// significant and never deduplicated.
func (k TargetKind) Managed() bool {
	return k == KindManagedConstructor || k == KindManagedMethod
}

// ArgDescriptor names one positional argument to extract.
type ArgDescriptor struct {
	Name string
	Type string
}

// KeyFunc derives the dedup key for a native event from its extracted
// arguments. Must be deterministic; distinct semantic occurrences must
// map to distinct keys.
type KeyFunc func(args map[string]string) string

// Target is one monitored entry point. Immutable after registration.
type Target struct {
	// Name is the qualified target name, unique within a registry,
	// e.g. "libc.connect" or "java.io.File.<init>".
	Name string
	// Kind classifies the target.
	Kind TargetKind
	// Args are the declared arguments, in call order.
	Args []ArgDescriptor
	// Key derives the dedup key for native targets. Nil for managed
	// targets, which are never deduplicated.
	Key KeyFunc
}

// Registry is the static table of monitored targets. No mutation after
// construction; absence of a name is a normal, silent outcome.
type Registry struct {
	targets map[string]Target
	order   []string
}

// NewRegistry builds a registry from the given targets. Duplicate
// names are a configuration bug.
func NewRegistry(targets ...Target) (*Registry, error) {
	r := &Registry{
		targets: make(map[string]Target, len(targets)),
		order:   make([]string, 0, len(targets)),
	}

	for _, t := range targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target with empty name")
		}

		if _, ok := r.targets[t.Name]; ok {
			return nil, fmt.Errorf("duplicate target %s", t.Name)
		}

		r.targets[t.Name] = t
		r.order = append(r.order, t.Name)
	}

	return r, nil
}

// IsMonitored is the single filtering gate: invocations of names not
// in the table incur no extraction, resolution, or emission work.
func (r *Registry) IsMonitored(name string) bool {
	_, ok := r.targets[name]

	return ok
}

// Lookup returns the target registered under name.
func (r *Registry) Lookup(name string) (Target, bool) {
	t, ok := r.targets[name]

	return t, ok
}

// Targets returns all targets in registration order.
func (r *Registry) Targets() []Target {
	out := make([]Target, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.targets[name])
	}

	return out
}

// Len returns the number of registered targets.
func (r *Registry) Len() int { return len(r.targets) }

// ConnectKey keys connection-establishment events on the socket
// descriptor alone: a given descriptor connecting is one event
// regardless of repeat calls before descriptor reuse.
func ConnectKey(args map[string]string) string {
	return args["sockfd"]
}

// TransferKey keys data-transfer events on (descriptor, byte count) so
// distinguishable sizes on the same descriptor are not conflated.
func TransferKey(args map[string]string) string {
	return args["sockfd"] + "|" + args["len"]
}

// DefaultRegistry returns the fixed monitoring table: file-operation
// constructors on the managed side, socket calls on the native side.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Target{
			Name: "java.io.File.<init>",
			Kind: KindManagedConstructor,
			Args: []ArgDescriptor{{Name: "path", Type: "string"}},
		},
		Target{
			Name: "java.io.FileInputStream.<init>",
			Kind: KindManagedConstructor,
			Args: []ArgDescriptor{{Name: "file", Type: "string"}},
		},
		Target{
			Name: "java.io.FileOutputStream.<init>",
			Kind: KindManagedConstructor,
			Args: []ArgDescriptor{{Name: "file", Type: "string"}},
		},
		Target{
			Name: "libc.connect",
			Kind: KindNativeFunction,
			Args: []ArgDescriptor{{Name: "sockfd", Type: "int"}},
			Key:  ConnectKey,
		},
		Target{
			Name: "libc.send",
			Kind: KindNativeFunction,
			Args: []ArgDescriptor{
				{Name: "sockfd", Type: "int"},
				{Name: "len", Type: "size_t"},
			},
			Key: TransferKey,
		},
		Target{
			Name: "libc.recv",
			Kind: KindNativeFunction,
			Args: []ArgDescriptor{
				{Name: "sockfd", Type: "int"},
				{Name: "len", Type: "size_t"},
			},
			Key: TransferKey,
		},
	)
	if err != nil {
		// The default table is static; a duplicate is a programming
		// error caught by tests.
		panic(err)
	}

	return r
}
