package events

import "github.com/viraj-mahida/betting-contract/core/types"

// Event represents a structured state change emitted by a module.
type Event interface {
	EventType() string
}

// Payloader is implemented by events that carry a structured payload. Sinks
// that persist or stream events rely on it.
type Payloader interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans a single event out to every configured emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// PayloadOf extracts the structured payload from evt when it carries one.
func PayloadOf(evt Event) (*types.Event, bool) {
	p, ok := evt.(Payloader)
	if !ok {
		return nil, false
	}
	payload := p.Event()
	return payload, payload != nil
}
