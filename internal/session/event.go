package session

import "time"

// EventKind identifies a session lifecycle event.
type EventKind string

// Event kinds emitted to a Recorder.
const (
	EventConnecting         EventKind = "connecting"
	EventConnected          EventKind = "connected"
	EventRejected           EventKind = "rejected"
	EventTransportError     EventKind = "transport_error"
	EventDisconnected       EventKind = "disconnected"
	EventReconnectScheduled EventKind = "reconnect_scheduled"
	EventMessage            EventKind = "message"
	EventPublished          EventKind = "published"
)

// Event describes something that happened to a session.
type Event struct {
	Kind     EventKind
	ClientID string
	Topic    string // message and publish events only
	Size     int    // payload size in bytes for message and publish events
	Detail   string
	Time     time.Time
}

// Recorder observes session events. Record is called synchronously from the
// goroutine that caused the event and must not block for long.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ev Event)

// Record calls f(ev).
func (f RecorderFunc) Record(ev Event) { f(ev) }

// Recorders fans an event out to every non-nil recorder in order.
func Recorders(rs ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []Recorder

func (m multiRecorder) Record(ev Event) {
	for _, r := range m {
		r.Record(ev)
	}
}
