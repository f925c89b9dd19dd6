package emit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

// syncBuffer makes bytes.Buffer safe for the concurrency test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, fmt.Errorf("sink rejected write")
}

func TestEmit_StructuredLine(t *testing.T) {
	var buf bytes.Buffer

	e := NewLineEmitter(testLog(), Config{}, &buf, nil)

	e.Emit(NewEvent(
		"libc.connect", "native", map[string]string{"sockfd": "5"},
	))

	line := strings.TrimSuffix(buf.String(), "\n")
	require.NotContains(t, line, "\n", "one event, one line")

	var decoded struct {
		Type   string            `json:"type"`
		Name   string            `json:"name"`
		Method string            `json:"method"`
		Args   map[string]string `json:"args"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))

	assert.Equal(t, "api", decoded.Type)
	assert.Equal(t, "libc.connect", decoded.Name)
	assert.Equal(t, "native", decoded.Method)
	assert.Equal(t, map[string]string{"sockfd": "5"}, decoded.Args)
}

func TestEmit_FieldOrder(t *testing.T) {
	var buf bytes.Buffer

	e := NewLineEmitter(testLog(), Config{}, &buf, nil)
	e.Emit(NewEvent("libc.send", "native", map[string]string{
		"sockfd": "5", "len": "10",
	}))

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, `{"type":"api","name":"libc.send","method":"native","args":`))
}

func TestEmit_DiagnosticLine(t *testing.T) {
	var buf bytes.Buffer

	e := NewLineEmitter(testLog(), Config{Diagnostics: true}, &buf, nil)
	e.Emit(NewEvent(
		"java.io.File.<init>",
		"com.example.app.NoteStore.open(NoteStore.java:31)",
		map[string]string{"path": "/data/a.txt"},
	))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	// First line parses, second is free text.
	assert.NoError(t, json.Unmarshal([]byte(lines[0]), &struct{}{}))
	assert.Equal(t,
		"[*] java.io.File.<init> called from "+
			"com.example.app.NoteStore.open(NoteStore.java:31)"+
			" with path=/data/a.txt",
		lines[1],
	)
}

func TestEmit_WriteFailureSwallowed(t *testing.T) {
	e := NewLineEmitter(testLog(), Config{}, failingWriter{}, nil)

	assert.NotPanics(t, func() {
		e.Emit(NewEvent("libc.connect", "native", nil))
	})
}

func TestEmit_ForwarderReceivesEvents(t *testing.T) {
	var (
		buf bytes.Buffer
		got []Event
	)

	e := NewLineEmitter(testLog(), Config{}, &buf, nil)
	e.SetForwarder(forwarderFunc(func(ev Event) {
		got = append(got, ev)
	}))

	e.Emit(NewEvent("libc.connect", "native", map[string]string{"sockfd": "5"}))

	require.Len(t, got, 1)
	assert.Equal(t, "libc.connect", got[0].Name)
}

func TestEmit_NoForwardOnWriteFailure(t *testing.T) {
	forwarded := 0

	e := NewLineEmitter(testLog(), Config{}, failingWriter{}, nil)
	e.SetForwarder(forwarderFunc(func(Event) { forwarded++ }))

	e.Emit(NewEvent("libc.connect", "native", nil))

	assert.Zero(t, forwarded)
}

// diagnosticFailWriter accepts the first write of each event and
// rejects the second, so the structured line lands but the diagnostic
// line does not.
type diagnosticFailWriter struct {
	buf    bytes.Buffer
	writes int
}

func (w *diagnosticFailWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes%2 == 0 {
		return 0, fmt.Errorf("sink rejected write")
	}

	return w.buf.Write(p)
}

func TestEmit_DiagnosticFailureStillForwards(t *testing.T) {
	var (
		w         diagnosticFailWriter
		forwarded []Event
	)

	e := NewLineEmitter(testLog(), Config{Diagnostics: true}, &w, nil)
	e.SetForwarder(forwarderFunc(func(ev Event) {
		forwarded = append(forwarded, ev)
	}))

	e.Emit(NewEvent("libc.connect", "native", map[string]string{"sockfd": "5"}))

	// The structured record reached the stream and must count as
	// emitted despite the lost diagnostic line.
	lines := strings.Split(strings.TrimSuffix(w.buf.String(), "\n"), "\n")
	require.Len(t, lines, 1)
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &struct{}{}))

	require.Len(t, forwarded, 1)
	assert.Equal(t, "libc.connect", forwarded[0].Name)
}

func TestEmit_ConcurrentLineIntegrity(t *testing.T) {
	var (
		buf syncBuffer
		wg  sync.WaitGroup
	)

	e := NewLineEmitter(testLog(), Config{}, &buf, nil)

	const (
		goroutines = 16
		perG       = 50
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)

		go func(g int) {
			defer wg.Done()

			for i := 0; i < perG; i++ {
				e.Emit(NewEvent(
					"libc.send", "native",
					map[string]string{
						"sockfd": fmt.Sprint(g),
						"len":    fmt.Sprint(i),
					},
				))
			}
		}(g)
	}

	wg.Wait()

	scanner := bufio.NewScanner(strings.NewReader(buf.String()))
	lines := 0

	for scanner.Scan() {
		lines++

		assert.NoError(t,
			json.Unmarshal(scanner.Bytes(), &struct{}{}),
			"every line is a complete record",
		)
	}

	assert.Equal(t, goroutines*perG, lines)
}

type forwarderFunc func(Event)

func (f forwarderFunc) Forward(ev Event) { f(ev) }
