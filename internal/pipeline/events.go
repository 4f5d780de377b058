package pipeline

import "github.com/google/uuid"

// Event is one item on a Run stream. A stream is zero or more EventFragment
// values followed by exactly one EventTerminal or EventError, except on
// cancellation where the stream just closes.
type Event interface {
	isEvent()
}

// EventFragment is a piece of the answer, delivered in generation order.
type EventFragment struct {
	Text string
}

// EventTerminal closes a successful stream. It is emitted only after the
// whole turn is committed to the conversation store.
type EventTerminal struct {
	// ThreadID is the thread the turn was recorded under, freshly created
	// when the request carried the zero UUID.
	ThreadID uuid.UUID

	// Decision reports whether retrieval ran for this turn.
	Decision bool

	// Packet is the context packet used for generation; nil when retrieval
	// was skipped, found nothing, or failed.
	Packet *string

	// Text is the full assistant answer.
	Text string
}

// EventError closes a failed stream.
type EventError struct {
	Err error
}

func (EventFragment) isEvent() {}
func (EventTerminal) isEvent() {}
func (EventError) isEvent()    {}
