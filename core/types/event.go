package types

// Event is the canonical attribute-map payload emitted by the native engines
// and surfaced to subscribers by the host.
type Event struct {
	Type       string
	Attributes map[string]string
}
