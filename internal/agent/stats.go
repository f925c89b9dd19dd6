package agent

import (
	"sort"
	"sync"
)

// stats tracks per-target invocation counts for the shutdown summary.
// Hooks on arbitrary threads record into it, so access is mutexed;
// one map update per observed call is cheap next to emission.
type stats struct {
	mu     sync.Mutex
	counts map[string]uint64
}

type targetCount struct {
	Name  string
	Count uint64
}

func newStats() *stats {
	return &stats{
		counts: make(map[string]uint64, 16),
	}
}

// Record increments the counter for one target.
func (s *stats) Record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[name]++
}

// Total returns the number of observed calls across all targets.
func (s *stats) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint64
	for _, c := range s.counts {
		total += c
	}

	return total
}

// Targets returns the number of distinct targets observed.
func (s *stats) Targets() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.counts)
}

// Top returns the n most frequently observed targets, descending by
// count, ties broken by name for deterministic output.
func (s *stats) Top(n int) []targetCount {
	s.mu.Lock()

	out := make([]targetCount, 0, len(s.counts))
	for name, count := range s.counts {
		out = append(out, targetCount{Name: name, Count: count})
	}

	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Name < out[j].Name
	})

	if n < len(out) {
		out = out[:n]
	}

	return out
}
