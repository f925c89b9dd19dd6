package intercept

import (
	"fmt"
	"sync"
)

// SimulatedCall scripts one invocation delivered through the Simulator.
type SimulatedCall struct {
	// Name is the qualified symbol the call hits.
	Name string
	// Args are the positional argument values, already stringified.
	Args []string
	// Stack is the captured call stack, most-recent-call-first.
	// Leave nil for native-boundary calls.
	Stack []Frame
	// Original is the original implementation. Invoked exactly once
	// per delivery; may be nil.
	Original func() any
}

// Simulator is an in-memory Primitive for tests and for hosts without a
// live attach mechanism. Callbacks registered via Attach are driven by
// Invoke, and the original implementation always runs exactly once with
// its result passed through unchanged, so transparency is observable.
type Simulator struct {
	mu          sync.Mutex
	hooks       map[string][]BeforeCall
	unavailable map[string]bool
	forwarded   map[string]int
}

var _ Primitive = (*Simulator)(nil)

// NewSimulator creates a Simulator with every symbol available.
func NewSimulator() *Simulator {
	return &Simulator{
		hooks:       make(map[string][]BeforeCall),
		unavailable: make(map[string]bool),
		forwarded:   make(map[string]int),
	}
}

// MarkUnavailable makes Attach fail with ErrTargetUnavailable for the
// given symbol names, simulating targets absent from the process.
func (s *Simulator) MarkUnavailable(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range names {
		s.unavailable[n] = true
	}
}

func (s *Simulator) Attach(target TargetDescriptor, cb BeforeCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable[target.Name] {
		return fmt.Errorf("attaching %s: %w", target.Name, ErrTargetUnavailable)
	}

	s.hooks[target.Name] = append(s.hooks[target.Name], cb)

	return nil
}

// Invoke delivers the call to every callback attached for its name,
// then forwards to the original implementation and returns its result
// unchanged. The original runs exactly once even when a callback
// panics.
func (s *Simulator) Invoke(call SimulatedCall) any {
	s.mu.Lock()
	cbs := s.hooks[call.Name]
	s.mu.Unlock()

	return s.deliver(call, cbs)
}

// Broadcast delivers the call to every attached callback regardless of
// the name it was attached for, mimicking interceptors installed on
// shared dispatch stubs where unmonitored symbols hit the same hook.
func (s *Simulator) Broadcast(call SimulatedCall) any {
	s.mu.Lock()

	cbs := make([]BeforeCall, 0, len(s.hooks))
	for _, hs := range s.hooks {
		cbs = append(cbs, hs...)
	}

	s.mu.Unlock()

	return s.deliver(call, cbs)
}

// ForwardCount reports how many times the original implementation of a
// symbol has run.
func (s *Simulator) ForwardCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.forwarded[name]
}

func (s *Simulator) deliver(call SimulatedCall, cbs []BeforeCall) (result any) {
	// The original must run exactly once no matter what the
	// callbacks do.
	defer func() {
		_ = recover()

		s.mu.Lock()
		s.forwarded[call.Name]++
		s.mu.Unlock()

		if call.Original != nil {
			result = call.Original()
		}
	}()

	c := simCall{call: call}
	for _, cb := range cbs {
		cb(&c)
	}

	return result
}

type simCall struct {
	call SimulatedCall
}

var _ Call = (*simCall)(nil)

func (c *simCall) Target() string { return c.call.Name }

func (c *simCall) NumArgs() int { return len(c.call.Args) }

func (c *simCall) Arg(i int) string {
	if i < 0 || i >= len(c.call.Args) {
		return ""
	}

	return c.call.Args[i]
}

func (c *simCall) CaptureStack() []Frame { return c.call.Stack }
