package callsite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apiscope/apiscope/internal/intercept"
)

var appStack = []intercept.Frame{
	{Module: "java.io.File", Symbol: "<init>", Source: "File.java:278"},
	{Module: "android.app.ContextImpl", Symbol: "getFileStreamPath"},
	{
		Module: "com.example.app.NoteStore",
		Symbol: "open",
		Source: "NoteStore.java:31",
	},
	{
		Module: "com.example.app.MainActivity",
		Symbol: "onCreate",
		Source: "MainActivity.java:12",
	},
	{Module: "android.app.Activity", Symbol: "performCreate"},
}

func TestResolve_PrefersApplicationFrame(t *testing.T) {
	r := NewResolver(PrefixMatcher([]string{"com.example.app"}))

	// The first app frame wins, not the deeper library frames above
	// it and not the later app frame below it.
	assert.Equal(t,
		"com.example.app.NoteStore.open(NoteStore.java:31)",
		r.Resolve(appStack),
	)
}

func TestResolve_FallsBackToFirstFrame(t *testing.T) {
	r := NewResolver(PrefixMatcher([]string{"com.other.app"}))

	assert.Equal(t,
		"java.io.File.<init>(File.java:278)",
		r.Resolve(appStack),
	)
}

func TestResolve_EmptyStack(t *testing.T) {
	r := NewResolver(PrefixMatcher([]string{"com.example.app"}))

	assert.Equal(t, Unknown, r.Resolve(nil))
	assert.Equal(t, Unknown, r.Resolve([]intercept.Frame{}))
}

func TestResolve_Deterministic(t *testing.T) {
	r := NewResolver(PrefixMatcher([]string{"com.example.app"}))

	first := r.Resolve(appStack)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, r.Resolve(appStack))
	}
}

func TestResolve_NilMatcher(t *testing.T) {
	r := NewResolver(nil)

	assert.Equal(t,
		"java.io.File.<init>(File.java:278)",
		r.Resolve(appStack),
	)
}

func TestPrefixMatcher_EmptyPrefixIgnored(t *testing.T) {
	m := PrefixMatcher([]string{""})

	assert.False(t, m(intercept.Frame{
		Module: "com.example.app.MainActivity",
		Symbol: "onCreate",
	}))
}

func TestPrefixMatcher_MultiplePrefixes(t *testing.T) {
	m := PrefixMatcher([]string{"com.example.app", "com.example.lib"})

	assert.True(t, m(intercept.Frame{
		Module: "com.example.lib.Cache",
		Symbol: "put",
	}))
	assert.False(t, m(intercept.Frame{
		Module: "androidx.core.app.ActivityCompat",
		Symbol: "checkSelfPermission",
	}))
}
