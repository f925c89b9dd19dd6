// Package dedup suppresses repeat emission of semantically identical
// native-layer events for the lifetime of the process.
package dedup

import (
	"sync"

	"github.com/apiscope/apiscope/internal/hook"
)

// Deduplicator tracks which (target, key) pairs have already been
// emitted. It is the only shared mutable state in the observation
// path; every intercepted call on every thread consults it, so the
// check-and-insert is a single atomic unit under one mutex. The set
// grows monotonically and is never pruned.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty Deduplicator. Each agent owns its own instance;
// there is no package-level set.
func New() *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]struct{}, 256),
	}
}

// ShouldEmit decides whether an event may be emitted. Managed-layer
// events always emit: each one is individually meaningful and already
// rate-limited by application logic. Native-layer events emit only on
// first sight of their (target, key) pair. This component cannot
// fail; absence of a previous entry is the normal emit path.
func (d *Deduplicator) ShouldEmit(
	kind hook.TargetKind,
	target, key string,
) bool {
	if kind != hook.KindNativeFunction {
		return true
	}

	id := target + "\x00" + key

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}

	d.seen[id] = struct{}{}

	return true
}

// Len returns the number of recorded keys.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}
