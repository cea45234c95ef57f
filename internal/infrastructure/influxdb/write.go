package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mqtt-session/internal/session"
)

// sessionMeasurement is the measurement every session event is written to.
const sessionMeasurement = "mqtt_session"

// Recorder adapts the client to session.Recorder. Each event becomes one
// point in the mqtt_session measurement, tagged by client and event kind.
//
// Example:
//
//	mgr := session.New(id, engine, session.WithRecorder(influx.Recorder()))
func (c *Client) Recorder() session.Recorder {
	return session.RecorderFunc(c.WriteSessionEvent)
}

// WriteSessionEvent writes a single session event. The write is
// non-blocking; it is dropped when the client is closed.
func (c *Client) WriteSessionEvent(ev session.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sessionPoint(ev))
}

// sessionPoint converts a session event into a line-protocol point.
//
// Tags are kept low cardinality (client_id, event). Topics go into a field
// because wildcard subscriptions can produce unbounded topic sets.
func sessionPoint(ev session.Event) *write.Point {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{
		"count": 1,
	}
	switch ev.Kind {
	case session.EventMessage, session.EventPublished:
		fields["payload_bytes"] = ev.Size
		fields["topic"] = ev.Topic
	}
	if ev.Detail != "" {
		fields["detail"] = ev.Detail
	}

	return write.NewPoint(
		sessionMeasurement,
		map[string]string{
			"client_id": ev.ClientID,
			"event":     string(ev.Kind),
		},
		fields,
		ts,
	)
}
