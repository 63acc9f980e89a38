package transfer

import "time"

// EventKind enumerates the TransferEvent variants.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventProgress   EventKind = "progress"
	EventConnection EventKind = "connection"
	EventCompleted  EventKind = "completed"
	EventCancelled  EventKind = "cancelled"
	EventErrored    EventKind = "errored"
)

// Event is a TransferEvent: a monotonic timestamp plus the owning session id.
type Event struct {
	Kind      EventKind
	SessionID string
	At        time.Time

	// Progress
	BytesTransferred int64
	TotalBytes       int64
	SpeedBps         float64

	// Connection
	Peer string

	// Completed
	Checksum string

	// Cancelled
	Reason string

	// Errored
	Err *TransferError
}

// Emitter is the capability set an engine/orchestrator needs to report
// events, modeled as an interface so a null implementation can satisfy the
// core without a host.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event. Default for library/test use.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// BroadcastEmitter fans events out over a channel. Emission is fire-and-forget:
// a full or absent consumer never blocks the engine.
type BroadcastEmitter struct {
	ch chan Event
}

// NewBroadcastEmitter creates a BroadcastEmitter with the given channel buffer.
func NewBroadcastEmitter(buffer int) *BroadcastEmitter {
	return &BroadcastEmitter{ch: make(chan Event, buffer)}
}

func (b *BroadcastEmitter) Emit(e Event) {
	select {
	case b.ch <- e:
	default:
		// Slow consumer: drop rather than block the engine.
	}
}

func (b *BroadcastEmitter) Events() <-chan Event { return b.ch }

// MultiEmitter fans a single event out to several emitters, e.g. a broadcast
// bus plus a console formatter.
type MultiEmitter struct {
	emitters []Emitter
}

func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(e Event) {
	for _, em := range m.emitters {
		em.Emit(e)
	}
}
