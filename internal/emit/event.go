// Package emit serializes captured events into the line-delimited
// output stream consumed by an external analyzer.
package emit

// TypeAPI is the type tag carried by every structured event line.
const TypeAPI = "api"

// Event is one observed invocation, ready for emission. Created per
// interception, never mutated, discarded after emission. Field order
// is the wire order of the structured line.
type Event struct {
	// Type is always TypeAPI.
	Type string `json:"type"`
	// Name is the qualified target identifier, e.g. "libc.connect"
	// or "java.io.File.<init>".
	Name string `json:"name"`
	// Method is the resolved call-site string, "unknown" when
	// resolution found nothing, or "native" for events from the
	// native boundary.
	Method string `json:"method"`
	// Args maps each declared argument name to its string
	// representation.
	Args map[string]string `json:"args"`
}

// NewEvent builds an Event with the type tag set.
func NewEvent(name, method string, args map[string]string) Event {
	return Event{
		Type:   TypeAPI,
		Name:   name,
		Method: method,
		Args:   args,
	}
}
