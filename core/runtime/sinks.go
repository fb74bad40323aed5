package runtime

import (
	"context"
	"errors"

	"github.com/viraj-mahida/betting-contract/core/events"
	"github.com/viraj-mahida/betting-contract/storage/journal"
)

// Sink receives events after the operation that produced them has committed.
// A failing sink is logged and counted; it never undoes the commit.
type Sink interface {
	Publish(ctx context.Context, evt events.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, evt events.Event) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, evt events.Event) error { return f(ctx, evt) }

var errNoPayload = errors.New("runtime: event carries no payload")

// JournalSink appends every event payload to a journal.
type JournalSink struct {
	Journal *journal.Journal
}

// Publish implements Sink.
func (s JournalSink) Publish(_ context.Context, evt events.Event) error {
	payload, ok := events.PayloadOf(evt)
	if !ok {
		return errNoPayload
	}
	_, err := s.Journal.Append(payload)
	return err
}

// EmitterSink forwards events to an emitter such as a Broadcaster.
type EmitterSink struct {
	Emitter events.Emitter
}

// Publish implements Sink.
func (s EmitterSink) Publish(_ context.Context, evt events.Event) error {
	if s.Emitter != nil {
		s.Emitter.Emit(evt)
	}
	return nil
}

type namedSink struct {
	name string
	sink Sink
}
