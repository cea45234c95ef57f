package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// errNoAck is the cause recorded when the engine reports a connect attempt
// that never reached the broker.
var errNoAck = errors.New("no connect acknowledgement received")

// Manager is a reconnecting MQTT session.
//
// It remembers subscribed topics, restores them after every accepted
// connect, and reconnects after unexpected connection loss according to its
// ReconnectPolicy.
//
// Thread Safety:
//   - All methods are safe for concurrent use, including concurrently with
//     engine callbacks.
//   - Engine methods are never called with the state lock held, so an
//     engine may deliver callbacks synchronously. Open and Close are
//     serialised so a late Close never tears down a newer attempt.
type Manager struct {
	clientID  string
	engine    Engine
	logger    Logger
	recorder  Recorder
	onMessage MessageHandler

	// engineMu orders Open and Close. It is taken before mu, never after.
	engineMu sync.Mutex

	mu             sync.Mutex
	endpoint       Endpoint
	state          State
	subs           *subscriptionSet
	intentional    bool
	auto           bool   // the current attempt was started by a reconnect
	gen            uint64 // bumped by every connect and Disconnect
	lastErr        error
	policy         ReconnectPolicy
	reconnectTimer *time.Timer
}

// New creates a disconnected session for clientID driven by engine.
// If engine implements HandlerSetter the Manager registers itself as the
// engine's event handler.
func New(clientID string, engine Engine, opts ...Option) *Manager {
	m := &Manager{
		clientID: clientID,
		engine:   engine,
		logger:   nopLogger{},
		subs:     newSubscriptionSet(),
		policy:   Immediate(),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}

	if hs, ok := engine.(HandlerSetter); ok {
		hs.SetHandler(m)
	}
	return m
}

// Connect opens the session using ep, or the stored endpoint when ep is nil
// or incomplete. A complete ep replaces the stored endpoint.
//
// Connect does not wait for the broker: the outcome arrives through
// OnConnectAck. The returned error reports only failures detected before
// anything was sent (ErrConfiguration or *TransportError); it is also
// logged, so callers may ignore it.
func (m *Manager) Connect(ep *Endpoint) error {
	var candidate Endpoint
	if ep != nil {
		candidate = *ep
	}
	return m.connect(candidate, false)
}

// ConnectTo is Connect with scalar arguments. When both host and port are
// non-empty they take precedence over the stored endpoint.
func (m *Manager) ConnectTo(host string, port int) error {
	return m.connect(Endpoint{Host: host, Port: port}, false)
}

// connect resolves the target endpoint and asks the engine to open it.
// Automatic attempts are abandoned if the caller disconnected meanwhile.
func (m *Manager) connect(candidate Endpoint, auto bool) error {
	m.mu.Lock()
	if auto && m.intentional {
		m.mu.Unlock()
		return nil
	}
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		m.logger.Info("MQTT connect ignored", "client_id", m.clientID, "state", state.String())
		return nil
	}

	target := m.endpoint
	if candidate.set() {
		target = candidate
	}
	if err := target.validate(); err != nil {
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Error("MQTT connection configuration not provided",
			"client_id", m.clientID,
			"error", err,
		)
		return err
	}

	m.endpoint = target
	m.intentional = false
	m.auto = auto
	m.stopReconnectLocked()
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("MQTT connecting", "client_id", m.clientID, "broker", target.String())
	m.record(Event{Kind: EventConnecting, Detail: target.String()})

	m.engineMu.Lock()
	if !m.isAttempt(gen) {
		m.engineMu.Unlock()
		m.logger.Debug("MQTT connect superseded", "client_id", m.clientID, "broker", target.String())
		return nil
	}
	err := m.engine.Open(target.Host, target.Port)
	m.engineMu.Unlock()

	if err != nil {
		terr := &TransportError{Host: target.Host, Port: target.Port, Err: err}

		m.mu.Lock()
		if m.gen == gen && m.state == StateConnecting {
			m.state = StateDisconnected
		}
		m.lastErr = terr
		m.mu.Unlock()

		m.logger.Error("MQTT transport error", "client_id", m.clientID, "error", terr)
		m.record(Event{Kind: EventTransportError, Detail: err.Error()})
		return terr
	}
	return nil
}

// isAttempt reports whether gen is still the live connecting attempt.
func (m *Manager) isAttempt(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.state == StateConnecting
}

// OnConnectAck handles the broker's answer to a connect attempt.
//
// On Accepted every remembered topic is re-subscribed in insertion order.
// Any other code leaves the session disconnected. A transient failure
// (TransportFailure or ServerUnavailable) of an automatic reconnect is
// handed back to the ReconnectPolicy; caller-initiated attempts and
// configuration rejections are never retried.
func (m *Manager) OnConnectAck(code ResultCode) {
	m.mu.Lock()
	if m.intentional {
		m.mu.Unlock()
		m.logger.Debug("MQTT connect acknowledgement after disconnect ignored",
			"client_id", m.clientID,
			"code", code.String(),
		)
		return
	}

	if code == Accepted {
		m.state = StateConnected
		m.lastErr = nil
		m.policy.Reset()
		topics := m.subs.list()
		ep := m.endpoint
		m.mu.Unlock()

		m.logger.Info("MQTT connected", "client_id", m.clientID, "broker", ep.String())
		m.record(Event{Kind: EventConnected, Detail: ep.String()})

		for _, topic := range topics {
			m.sendSubscribe(topic)
		}
		return
	}

	pending := m.state == StateConnecting
	m.state = StateDisconnected
	var failure error
	kind := EventRejected
	if code == TransportFailure {
		failure = &TransportError{Host: m.endpoint.Host, Port: m.endpoint.Port, Err: errNoAck}
		kind = EventTransportError
	} else {
		failure = &RejectedError{Code: code}
	}
	m.lastErr = failure

	retry := pending && m.auto && code.Class() == ClassTransient
	var (
		delay time.Duration
		ok    bool
	)
	if retry {
		delay, ok = m.nextAttemptLocked(failure, true)
	}
	m.mu.Unlock()

	m.logger.Error("MQTT connection refused",
		"client_id", m.clientID,
		"reason", code.String(),
		"hint", code.guidance(),
	)
	m.record(Event{Kind: kind, Detail: code.String()})

	if !retry {
		return
	}
	if !ok {
		m.logger.Error("MQTT reconnect attempts exhausted", "client_id", m.clientID, "error", failure)
		m.record(Event{Kind: EventDisconnected, Detail: "reconnect attempts exhausted"})
		return
	}
	m.logger.Info("MQTT reconnect scheduled", "client_id", m.clientID, "delay", delay)
	m.record(Event{Kind: EventReconnectScheduled, Detail: delay.String()})
}

// OnDisconnect handles loss of the connection. Unless the caller asked for
// the disconnect, a reconnect to the stored endpoint is started through the
// ReconnectPolicy.
func (m *Manager) OnDisconnect(err error) {
	m.mu.Lock()
	m.state = StateDisconnected
	if m.intentional {
		m.mu.Unlock()
		m.logger.Info("MQTT controlled disconnection", "client_id", m.clientID)
		m.record(Event{Kind: EventDisconnected, Detail: "controlled"})
		return
	}

	delay, ok := m.nextAttemptLocked(disconnectCause(err), false)
	if !ok {
		m.mu.Unlock()
		m.logger.Error("MQTT unexpected disconnection, giving up", "client_id", m.clientID, "error", err)
		m.record(Event{Kind: EventDisconnected, Detail: "reconnect attempts exhausted"})
		return
	}
	m.mu.Unlock()

	m.logger.Warn("MQTT unexpected disconnection", "client_id", m.clientID, "error", err)
	m.record(Event{Kind: EventDisconnected, Detail: disconnectCause(err).Error()})

	if delay > 0 {
		m.logger.Info("MQTT reconnect scheduled", "client_id", m.clientID, "delay", delay)
		m.record(Event{Kind: EventReconnectScheduled, Detail: delay.String()})
		return
	}
	m.reconnect()
}

// nextAttemptLocked consults the policy and arms the reconnect timer. A
// zero delay arms the timer only when always is set; otherwise the caller
// reconnects inline. On give-up lastErr records cause. Must be called with
// mu held.
func (m *Manager) nextAttemptLocked(cause error, always bool) (time.Duration, bool) {
	delay, ok := m.policy.Next()
	if !ok {
		m.lastErr = fmt.Errorf("session: reconnect attempts exhausted: %w", cause)
		return 0, false
	}
	if delay > 0 || always {
		m.stopReconnectLocked()
		m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
	}
	return delay, true
}

// reconnect performs one automatic connect attempt to the stored endpoint.
func (m *Manager) reconnect() {
	_ = m.connect(Endpoint{}, true) //nolint:errcheck // failures are logged by connect
}

func disconnectCause(err error) error {
	if err == nil {
		return errors.New("connection lost")
	}
	return err
}

// stopReconnectLocked cancels a pending reconnect timer and reports whether
// one was pending. Must be called with mu held.
func (m *Manager) stopReconnectLocked() bool {
	if m.reconnectTimer == nil {
		return false
	}
	stopped := m.reconnectTimer.Stop()
	m.reconnectTimer = nil
	return stopped
}

// Subscribe remembers topic and subscribes to it now if connected, or on
// the next accepted connect otherwise. Subscribing to a topic that is
// already remembered logs a warning and does nothing else.
//
// The returned error is ErrInvalidTopic for an empty topic, or the engine's
// error if an immediate subscribe could not be sent; in the latter case the
// topic stays remembered and is retried on the next connect.
func (m *Manager) Subscribe(topic string) error {
	if topic == "" {
		m.logger.Warn("MQTT subscribe rejected", "client_id", m.clientID, "error", ErrInvalidTopic)
		return ErrInvalidTopic
	}

	m.mu.Lock()
	if !m.subs.add(topic) {
		m.mu.Unlock()
		m.logger.Warn("MQTT already subscribed to topic", "client_id", m.clientID, "topic", topic)
		return nil
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		m.logger.Info("MQTT topic remembered until connected", "client_id", m.clientID, "topic", topic)
		return nil
	}
	return m.sendSubscribe(topic)
}

func (m *Manager) sendSubscribe(topic string) error {
	if err := m.engine.Subscribe(topic); err != nil {
		m.logger.Warn("MQTT subscribe failed", "client_id", m.clientID, "topic", topic, "error", err)
		return fmt.Errorf("session: subscribing to %q: %w", topic, err)
	}
	m.logger.Info("MQTT subscribed to topic", "client_id", m.clientID, "topic", topic)
	return nil
}

// Publish sends payload to topic at QoS 0 without the retain flag.
//
// The payload is sent in its string form: []byte and string as-is, nil as
// an empty payload, anything else through fmt.Sprint. While the session is
// not connected the message is dropped silently.
func (m *Manager) Publish(topic string, payload any) {
	if m.State() != StateConnected {
		m.logger.Debug("MQTT publish dropped while not connected", "client_id", m.clientID, "topic", topic)
		return
	}

	data := encodePayload(payload)
	if err := m.engine.Publish(topic, data); err != nil {
		m.logger.Warn("MQTT publish failed", "client_id", m.clientID, "topic", topic, "error", err)
		return
	}
	m.record(Event{Kind: EventPublished, Topic: topic, Size: len(data)})
}

func encodePayload(payload any) []byte {
	switch v := payload.(type) {
	case nil:
		return []byte{}
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

// OnPublishAck logs that the engine finished sending a message.
func (m *Manager) OnPublishAck(id uint16) {
	m.logger.Info("MQTT message published to broker", "client_id", m.clientID, "message_id", id)
}

// OnMessage delivers a received message to the configured MessageHandler,
// or logs it when none is set. Handler panics are recovered and logged.
func (m *Manager) OnMessage(topic string, payload []byte) {
	m.record(Event{Kind: EventMessage, Topic: topic, Size: len(payload)})

	if m.onMessage == nil {
		m.logger.Info("MQTT message received",
			"client_id", m.clientID,
			"topic", topic,
			"payload", string(payload),
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("MQTT handler panic recovered",
				"client_id", m.clientID,
				"topic", topic,
				"panic", r,
			)
		}
	}()

	if err := m.onMessage(topic, payload); err != nil {
		m.logger.Warn("MQTT handler returned error",
			"client_id", m.clientID,
			"topic", topic,
			"error", err,
		)
	}
}

// Disconnect closes the session and disables automatic reconnection until
// the next Connect. Calling it on a disconnected session is a no-op apart
// from cancelling any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	active := m.state != StateDisconnected
	m.intentional = true
	m.state = StateDisconnected
	cancelled := m.stopReconnectLocked()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if cancelled {
		m.logger.Info("MQTT pending reconnect cancelled", "client_id", m.clientID)
	}
	if !active {
		return
	}

	// A connect that slipped in after the unlock owns the engine now.
	m.engineMu.Lock()
	m.mu.Lock()
	superseded := m.gen != gen
	m.mu.Unlock()
	if !superseded {
		m.engine.Close()
	}
	m.engineMu.Unlock()
	m.logger.Info("MQTT disconnected", "client_id", m.clientID)
	m.record(Event{Kind: EventDisconnected, Detail: "requested"})
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the session is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Subscriptions returns the remembered topics in insertion order.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs.list()
}

// HasSubscription reports whether topic is remembered.
// Only the exact filter string is compared.
func (m *Manager) HasSubscription(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs.contains(topic)
}

// SubscriptionCount returns the number of remembered topics.
func (m *Manager) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs.len()
}

// ClientID returns the session's client identifier.
func (m *Manager) ClientID() string {
	return m.clientID
}

// Endpoint returns the stored broker address.
func (m *Manager) Endpoint() Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Err returns the most recent failure: a configuration error, a
// *TransportError or a *RejectedError. It is cleared by an accepted connect.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) record(ev Event) {
	if m.recorder == nil {
		return
	}
	ev.ClientID = m.clientID
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	m.recorder.Record(ev)
}
