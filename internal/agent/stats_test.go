package agent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_RecordAndTotal(t *testing.T) {
	s := newStats()

	s.Record("libc.connect")
	s.Record("libc.send")
	s.Record("libc.send")

	assert.Equal(t, uint64(3), s.Total())
	assert.Equal(t, 2, s.Targets())
}

func TestStats_Top(t *testing.T) {
	s := newStats()

	for i := 0; i < 5; i++ {
		s.Record("libc.send")
	}

	for i := 0; i < 3; i++ {
		s.Record("libc.connect")
	}

	s.Record("java.io.File.<init>")

	top := s.Top(2)
	assert.Equal(t, []targetCount{
		{Name: "libc.send", Count: 5},
		{Name: "libc.connect", Count: 3},
	}, top)
}

func TestStats_TopTiesDeterministic(t *testing.T) {
	s := newStats()

	s.Record("libc.send")
	s.Record("libc.connect")

	assert.Equal(t, []targetCount{
		{Name: "libc.connect", Count: 1},
		{Name: "libc.send", Count: 1},
	}, s.Top(5))
}

func TestStats_Empty(t *testing.T) {
	s := newStats()

	assert.Zero(t, s.Total())
	assert.Zero(t, s.Targets())
	assert.Empty(t, s.Top(5))
}

func TestStats_Concurrent(t *testing.T) {
	s := newStats()

	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < 100; i++ {
				s.Record("libc.recv")
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, uint64(800), s.Total())
}
