// Package callsite derives a best-effort description of the immediate
// caller of an observed API from a captured stack.
package callsite

import (
	"strings"

	"github.com/apiscope/apiscope/internal/intercept"
)

// Unknown is returned when the captured frame sequence is empty.
const Unknown = "unknown"

// Matcher decides whether a frame belongs to the observed
// application's own code, as opposed to OS, runtime, or library code.
type Matcher func(frame intercept.Frame) bool

// PrefixMatcher matches frames whose description starts with any of
// the given prefixes, typically the application's package namespaces.
func PrefixMatcher(prefixes []string) Matcher {
	return func(frame intercept.Frame) bool {
		desc := frame.Description()

		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(desc, p) {
				return true
			}
		}

		return false
	}
}

// Resolver picks the most informative caller frame from a captured
// stack. Application frames are the signal of interest; a naive
// closest-caller choice would be dominated by runtime and library
// frames sitting between the app and the observed API.
type Resolver struct {
	isApp Matcher
}

// NewResolver creates a Resolver with the given application-namespace
// predicate. A nil matcher matches nothing, so resolution falls back
// to the closest frame.
func NewResolver(isApp Matcher) *Resolver {
	if isApp == nil {
		isApp = func(intercept.Frame) bool { return false }
	}

	return &Resolver{isApp: isApp}
}

// Resolve scans frames most-recent-call-first and returns the
// description of the first application frame, falling back to the
// first frame, or Unknown for an empty stack. Never fails.
func (r *Resolver) Resolve(frames []intercept.Frame) string {
	if len(frames) == 0 {
		return Unknown
	}

	for _, f := range frames {
		if r.isApp(f) {
			return f.Description()
		}
	}

	return frames[0].Description()
}
