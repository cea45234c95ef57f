package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine records every command the Manager issues.
type fakeEngine struct {
	mu         sync.Mutex
	handler    Handler
	opens      []Endpoint
	closes     int
	subscribes []string
	publishes  []fakePublish
	calls      []string // "open" and "close" in call order

	// onClose runs at the start of Close, outside the engine's lock.
	onClose func()

	openErr      error
	subscribeErr error
}

type fakePublish struct {
	topic   string
	payload string
}

func (e *fakeEngine) SetHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *fakeEngine) Open(host string, port int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return e.openErr
	}
	e.opens = append(e.opens, Endpoint{Host: host, Port: port})
	e.calls = append(e.calls, "open")
	return nil
}

func (e *fakeEngine) Close() {
	e.mu.Lock()
	hook := e.onClose
	e.mu.Unlock()
	if hook != nil {
		hook()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	e.calls = append(e.calls, "close")
}

func (e *fakeEngine) callOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) Subscribe(topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subscribeErr != nil {
		return e.subscribeErr
	}
	e.subscribes = append(e.subscribes, topic)
	return nil
}

func (e *fakeEngine) Publish(topic string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishes = append(e.publishes, fakePublish{topic: topic, payload: string(payload)})
	return nil
}

func (e *fakeEngine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.opens)
}

func (e *fakeEngine) subscribed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.subscribes...)
}

func (e *fakeEngine) published() []fakePublish {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]fakePublish(nil), e.publishes...)
}

// recordingLogger captures log lines per level.
type recordingLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{lines: make(map[string][]string)}
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[level] = append(l.lines[level], msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *recordingLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.lines[level] {
		if m == msg {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeEngine, *recordingLogger) {
	t.Helper()
	engine := &fakeEngine{}
	logger := newRecordingLogger()
	opts = append([]Option{WithLogger(logger)}, opts...)
	m := New("s1", engine, opts...)
	return m, engine, logger
}

// connected returns a manager that has completed one accepted connect.
func connected(t *testing.T, opts ...Option) (*Manager, *fakeEngine, *recordingLogger) {
	t.Helper()
	m, engine, logger := newTestManager(t, opts...)
	require.NoError(t, m.ConnectTo("broker", 1883))
	m.OnConnectAck(Accepted)
	require.Equal(t, StateConnected, m.State())
	return m, engine, logger
}

// =============================================================================
// Construction
// =============================================================================

func TestNewRegistersHandler(t *testing.T) {
	m, engine, _ := newTestManager(t)

	assert.Same(t, m, engine.handler)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, "s1", m.ClientID())
	assert.Empty(t, m.Subscriptions())
	assert.NoError(t, m.Err())
}

// =============================================================================
// Subscribe
// =============================================================================

func TestSubscribeDuplicate(t *testing.T) {
	m, engine, logger := newTestManager(t)

	require.NoError(t, m.Subscribe("a/b"))
	require.NoError(t, m.Subscribe("a/b"))

	assert.Equal(t, []string{"a/b"}, m.Subscriptions())
	assert.Equal(t, 1, logger.count("warn", "MQTT already subscribed to topic"))
	assert.Empty(t, engine.subscribed(), "nothing is sent while disconnected")
}

func TestSubscribeDeduplicatesAnySequence(t *testing.T) {
	m, _, _ := newTestManager(t)

	for _, topic := range []string{"x", "y", "x", "z", "y", "x"} {
		require.NoError(t, m.Subscribe(topic))
	}

	assert.Equal(t, []string{"x", "y", "z"}, m.Subscriptions())
	assert.Equal(t, 3, m.SubscriptionCount())
	assert.True(t, m.HasSubscription("y"))
	assert.False(t, m.HasSubscription("w"))
}

func TestSubscribeEmptyTopic(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.Subscribe("")
	assert.ErrorIs(t, err, ErrInvalidTopic)
	assert.Zero(t, m.SubscriptionCount())
}

func TestSubscribeWhileConnectedSendsImmediately(t *testing.T) {
	m, engine, _ := connected(t)

	require.NoError(t, m.Subscribe("live/topic"))
	assert.Equal(t, []string{"live/topic"}, engine.subscribed())

	require.NoError(t, m.Subscribe("live/topic"))
	assert.Len(t, engine.subscribed(), 1, "duplicate must not be resent")
}

func TestSubscribeEngineFailureKeepsTopic(t *testing.T) {
	m, engine, _ := connected(t)
	engine.subscribeErr = errors.New("boom")

	err := m.Subscribe("t")
	require.Error(t, err)
	assert.True(t, m.HasSubscription("t"))

	engine.subscribeErr = nil
	m.OnDisconnect(errors.New("lost"))
	m.OnConnectAck(Accepted)
	assert.Equal(t, []string{"t"}, engine.subscribed())
}

// =============================================================================
// Connect
// =============================================================================

func TestConnectAcceptedRestoresSubscriptionsInOrder(t *testing.T) {
	m, engine, _ := newTestManager(t)
	require.NoError(t, m.Subscribe("x"))
	require.NoError(t, m.Subscribe("y"))

	require.NoError(t, m.ConnectTo("broker", 1883))
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, []Endpoint{{Host: "broker", Port: 1883}}, engine.opens)

	m.OnConnectAck(Accepted)

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []string{"x", "y"}, engine.subscribed())
}

func TestConnectWithoutConfiguration(t *testing.T) {
	m, engine, logger := newTestManager(t)

	err := m.Connect(nil)

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, m.Err(), ErrConfiguration)
	assert.Zero(t, engine.openCount())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, logger.count("error", "MQTT connection configuration not provided"))
}

func TestConnectEndpointResolution(t *testing.T) {
	tests := []struct {
		name      string
		construct Option
		connect   func(m *Manager) error
		want      Endpoint
		wantErr   bool
	}{
		{
			name:      "construction values",
			construct: WithEndpoint("stored", 1883),
			connect:   func(m *Manager) error { return m.Connect(nil) },
			want:      Endpoint{Host: "stored", Port: 1883},
		},
		{
			name:      "mapping overrides construction",
			construct: WithEndpoint("stored", 1883),
			connect:   func(m *Manager) error { return m.Connect(&Endpoint{Host: "mapped", Port: 8883}) },
			want:      Endpoint{Host: "mapped", Port: 8883},
		},
		{
			name:      "scalars override construction",
			construct: WithEndpoint("stored", 1883),
			connect:   func(m *Manager) error { return m.ConnectTo("scalar", 1884) },
			want:      Endpoint{Host: "scalar", Port: 1884},
		},
		{
			name:      "incomplete mapping falls back to stored",
			construct: WithEndpoint("stored", 1883),
			connect:   func(m *Manager) error { return m.Connect(&Endpoint{Host: "mapped"}) },
			want:      Endpoint{Host: "stored", Port: 1883},
		},
		{
			name:      "incomplete scalars fall back to stored",
			construct: WithEndpoint("stored", 1883),
			connect:   func(m *Manager) error { return m.ConnectTo("", 1884) },
			want:      Endpoint{Host: "stored", Port: 1883},
		},
		{
			name:      "host without port",
			construct: WithEndpoint("stored", 0),
			connect:   func(m *Manager) error { return m.Connect(nil) },
			wantErr:   true,
		},
		{
			name:      "port out of range",
			construct: WithEndpoint("stored", 1883),
			connect:   func(m *Manager) error { return m.ConnectTo("scalar", 70000) },
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, engine, _ := newTestManager(t, tt.construct)

			err := tt.connect(m)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfiguration)
				assert.Zero(t, engine.openCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []Endpoint{tt.want}, engine.opens)
			assert.Equal(t, tt.want, m.Endpoint())
		})
	}
}

func TestConnectTransportError(t *testing.T) {
	m, engine, _ := newTestManager(t)
	engine.openErr = errors.New("dial tcp: connection refused")

	err := m.ConnectTo("broker", 1883)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "broker", terr.Host)
	assert.ErrorIs(t, m.Err(), engine.openErr)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectWhileConnectingIsIgnored(t *testing.T) {
	m, engine, _ := newTestManager(t)

	require.NoError(t, m.ConnectTo("broker", 1883))
	require.NoError(t, m.ConnectTo("broker", 1883))

	assert.Equal(t, 1, engine.openCount())
}

func TestConnectRejected(t *testing.T) {
	codes := []ResultCode{
		ProtocolVersionRejected,
		ClientIDRejected,
		ServerUnavailable,
		BadCredentials,
		NotAuthorized,
		ResultCode(0x42),
	}

	for _, code := range codes {
		t.Run(code.String(), func(t *testing.T) {
			m, engine, logger := newTestManager(t)
			require.NoError(t, m.Subscribe("x"))
			require.NoError(t, m.ConnectTo("broker", 1883))

			m.OnConnectAck(code)

			assert.Equal(t, StateDisconnected, m.State())
			assert.Empty(t, engine.subscribed())
			assert.Equal(t, 1, engine.openCount(), "rejection must not retry")
			assert.Equal(t, 1, logger.count("error", "MQTT connection refused"))

			var rerr *RejectedError
			require.ErrorAs(t, m.Err(), &rerr)
			assert.Equal(t, code, rerr.Code)
			assert.ErrorIs(t, m.Err(), ErrRejected)
		})
	}
}

func TestConnectAckTransportFailure(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.ConnectTo("broker", 1883))

	m.OnConnectAck(TransportFailure)

	var terr *TransportError
	require.ErrorAs(t, m.Err(), &terr)
	assert.NotErrorIs(t, m.Err(), ErrRejected)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestCallerConnectFailureNotRetried(t *testing.T) {
	policy := &stepPolicy{delays: []time.Duration{0, 0}}
	m, engine, _ := newTestManager(t, WithReconnectPolicy(policy))
	require.NoError(t, m.ConnectTo("broker", 1883))

	m.OnConnectAck(TransportFailure)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, engine.openCount())
	assert.Zero(t, policy.calls())
}

func TestAcceptedConnectClearsError(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.ConnectTo("broker", 1883))
	m.OnConnectAck(ServerUnavailable)
	require.Error(t, m.Err())

	require.NoError(t, m.Connect(nil))
	m.OnConnectAck(Accepted)

	assert.NoError(t, m.Err())
}

// =============================================================================
// Publish
// =============================================================================

func TestPublishWhileDisconnected(t *testing.T) {
	m, engine, _ := newTestManager(t)

	m.Publish("t", "v")

	assert.Empty(t, engine.published())
}

func TestPublishWhileConnecting(t *testing.T) {
	m, engine, _ := newTestManager(t)
	require.NoError(t, m.ConnectTo("broker", 1883))

	m.Publish("t", "v")

	assert.Empty(t, engine.published())
}

func TestPublishWhileConnected(t *testing.T) {
	m, engine, _ := connected(t)

	m.Publish("t", "v")

	assert.Equal(t, []fakePublish{{topic: "t", payload: "v"}}, engine.published())
}

type celsius float64

func (c celsius) String() string { return fmt.Sprintf("%.1fC", float64(c)) }

func TestPublishPayloadEncoding(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{name: "string", payload: "on", want: "on"},
		{name: "bytes", payload: []byte(`{"on":true}`), want: `{"on":true}`},
		{name: "nil", payload: nil, want: ""},
		{name: "int", payload: 42, want: "42"},
		{name: "float", payload: 21.5, want: "21.5"},
		{name: "bool", payload: true, want: "true"},
		{name: "stringer", payload: celsius(19.5), want: "19.5C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, engine, _ := connected(t)
			m.Publish("t", tt.payload)

			got := engine.published()
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].payload)
		})
	}
}

// =============================================================================
// Disconnect & reconnect
// =============================================================================

func TestUnexpectedDisconnectReconnectsOnce(t *testing.T) {
	m, engine, logger := connected(t)

	m.OnDisconnect(errors.New("code 7"))

	assert.Equal(t, 2, engine.openCount(), "exactly one automatic connect")
	assert.Equal(t, Endpoint{Host: "broker", Port: 1883}, engine.opens[1])
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, 1, logger.count("warn", "MQTT unexpected disconnection"))
}

func TestUnexpectedDisconnectRestoresSubscriptions(t *testing.T) {
	m, engine, _ := connected(t)
	require.NoError(t, m.Subscribe("x"))
	require.NoError(t, m.Subscribe("y"))

	m.OnDisconnect(errors.New("lost"))
	m.OnConnectAck(Accepted)

	assert.Equal(t, []string{"x", "y", "x", "y"}, engine.subscribed())
}

func TestIntentionalDisconnectDoesNotReconnect(t *testing.T) {
	m, engine, logger := connected(t)

	m.Disconnect()
	m.OnDisconnect(nil)

	assert.Equal(t, 1, engine.openCount())
	assert.Equal(t, 1, engine.closes)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, logger.count("info", "MQTT controlled disconnection"))
}

func TestDisconnectIdempotent(t *testing.T) {
	m, engine, _ := newTestManager(t)

	m.Disconnect()
	m.Disconnect()
	assert.Zero(t, engine.closes)

	require.NoError(t, m.ConnectTo("broker", 1883))
	m.OnConnectAck(Accepted)
	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, 1, engine.closes)
}

func TestConnectAckAfterDisconnectIgnored(t *testing.T) {
	m, engine, _ := newTestManager(t)
	require.NoError(t, m.Subscribe("x"))
	require.NoError(t, m.ConnectTo("broker", 1883))

	m.Disconnect()
	m.OnConnectAck(Accepted)

	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, engine.subscribed())
}

func TestConnectAfterDisconnectReenablesReconnect(t *testing.T) {
	m, engine, _ := connected(t)
	m.Disconnect()

	require.NoError(t, m.Connect(nil))
	m.OnConnectAck(Accepted)
	m.OnDisconnect(errors.New("lost"))

	assert.Equal(t, 3, engine.openCount())
}

// stepPolicy returns fixed delays and gives up when they run out.
type stepPolicy struct {
	mu     sync.Mutex
	delays []time.Duration
	next   int
	asked  int
	resets int
}

func (p *stepPolicy) Next() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked++
	if p.next >= len(p.delays) {
		return 0, false
	}
	d := p.delays[p.next]
	p.next++
	return d, true
}

func (p *stepPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = 0
	p.resets++
}

func (p *stepPolicy) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asked
}

func TestReconnectPolicyDelay(t *testing.T) {
	policy := &stepPolicy{delays: []time.Duration{10 * time.Millisecond}}
	m, engine, _ := connected(t, WithReconnectPolicy(policy))

	m.OnDisconnect(errors.New("lost"))
	assert.Equal(t, 1, engine.openCount(), "reconnect is deferred")

	require.Eventually(t, func() bool {
		return engine.openCount() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, m.State())
}

func TestReconnectPolicyGiveUp(t *testing.T) {
	policy := &stepPolicy{}
	m, engine, logger := connected(t, WithReconnectPolicy(policy))

	m.OnDisconnect(errors.New("lost"))

	assert.Equal(t, 1, engine.openCount())
	assert.Error(t, m.Err())
	assert.Equal(t, 1, logger.count("error", "MQTT unexpected disconnection, giving up"))
}

func TestReconnectPolicyResetOnAccept(t *testing.T) {
	policy := &stepPolicy{delays: []time.Duration{0}}
	_, _, _ = connected(t, WithReconnectPolicy(policy))

	assert.Equal(t, 1, policy.resets)
}

func TestFailedReconnectRetriesUntilPolicyGivesUp(t *testing.T) {
	policy := &stepPolicy{delays: []time.Duration{0, time.Millisecond, 0}}
	m, engine, logger := connected(t, WithReconnectPolicy(policy))

	m.OnDisconnect(errors.New("lost"))
	require.Equal(t, 2, engine.openCount())

	// Each transient failure of an automatic attempt asks the policy again.
	for want := 3; want <= 4; want++ {
		m.OnConnectAck(TransportFailure)
		require.Eventually(t, func() bool {
			return engine.openCount() == want
		}, time.Second, time.Millisecond, "attempt %d", want)
		require.Eventually(t, func() bool {
			return m.State() == StateConnecting
		}, time.Second, time.Millisecond)
	}

	m.OnConnectAck(ServerUnavailable)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, engine.openCount())
	assert.Equal(t, 4, policy.calls())
	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorContains(t, m.Err(), "reconnect attempts exhausted")
	assert.Equal(t, 1, logger.count("error", "MQTT reconnect attempts exhausted"))
}

func TestFailedReconnectWithBackoffHonoursMaxAttempts(t *testing.T) {
	m, engine, _ := connected(t, WithReconnectPolicy(Backoff(time.Millisecond, 5*time.Millisecond, 3)))

	m.OnDisconnect(errors.New("lost"))
	require.Eventually(t, func() bool { return engine.openCount() == 2 }, time.Second, time.Millisecond)

	for want := 3; want <= 4; want++ {
		require.Eventually(t, func() bool { return m.State() == StateConnecting }, time.Second, time.Millisecond)
		m.OnConnectAck(TransportFailure)
		require.Eventually(t, func() bool {
			return engine.openCount() == want
		}, time.Second, time.Millisecond, "attempt %d", want)
	}

	require.Eventually(t, func() bool { return m.State() == StateConnecting }, time.Second, time.Millisecond)
	m.OnConnectAck(TransportFailure)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, engine.openCount(), "three automatic attempts after the drop")
	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorContains(t, m.Err(), "reconnect attempts exhausted")
}

func TestFailedReconnectConfigurationRejectionNotRetried(t *testing.T) {
	policy := &stepPolicy{delays: []time.Duration{0, 0}}
	m, engine, _ := connected(t, WithReconnectPolicy(policy))

	m.OnDisconnect(errors.New("lost"))
	m.OnConnectAck(BadCredentials)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, engine.openCount())
	assert.Equal(t, 1, policy.calls())
	var rerr *RejectedError
	assert.ErrorAs(t, m.Err(), &rerr)
}

func TestReconnectPolicyResetBetweenDrops(t *testing.T) {
	policy := &stepPolicy{delays: []time.Duration{0}}
	m, engine, _ := connected(t, WithReconnectPolicy(policy))

	m.OnDisconnect(errors.New("lost"))
	m.OnConnectAck(Accepted)
	m.OnDisconnect(errors.New("lost again"))

	assert.Equal(t, 3, engine.openCount())
	assert.Equal(t, 2, policy.resets)
}

func TestDisconnectDoesNotCloseNewerAttempt(t *testing.T) {
	m, engine, _ := connected(t)

	done := make(chan error, 1)
	engine.onClose = func() {
		engine.mu.Lock()
		engine.onClose = nil
		engine.mu.Unlock()

		go func() { done <- m.ConnectTo("broker", 1883) }()
		require.Eventually(t, func() bool {
			return m.State() == StateConnecting
		}, time.Second, time.Millisecond)
	}

	m.Disconnect()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"open", "close", "open"}, engine.callOrder(),
		"the reconnect must open after the close")
	m.OnConnectAck(Accepted)
	assert.Equal(t, StateConnected, m.State())
}

func TestConnectAfterDisconnectRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		m, engine, _ := connected(t)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Disconnect()
		}()
		go func() {
			defer wg.Done()
			_ = m.ConnectTo("broker", 1883)
		}()
		wg.Wait()

		calls := engine.callOrder()
		switch m.State() {
		case StateConnecting:
			// The connect won: whatever was closed, its open came last.
			assert.Equal(t, "open", calls[len(calls)-1])
			m.OnConnectAck(Accepted)
			assert.Equal(t, StateConnected, m.State())
		case StateDisconnected:
			assert.Equal(t, "close", calls[len(calls)-1])
		default:
			t.Fatalf("unexpected state %s", m.State())
		}
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	policy := &stepPolicy{delays: []time.Duration{50 * time.Millisecond}}
	m, engine, _ := connected(t, WithReconnectPolicy(policy))

	m.OnDisconnect(errors.New("lost"))
	m.Disconnect()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, engine.openCount())
}

// =============================================================================
// Messages & recorder
// =============================================================================

func TestOnMessageDefaultLogs(t *testing.T) {
	m, _, logger := connected(t)

	m.OnMessage("a/b", []byte("hello"))

	assert.Equal(t, 1, logger.count("info", "MQTT message received"))
}

func TestOnMessageHandler(t *testing.T) {
	var got []string
	m, _, logger := connected(t, WithMessageHandler(func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return errors.New("not interested")
	}))

	m.OnMessage("a/b", []byte("1"))

	assert.Equal(t, []string{"a/b=1"}, got)
	assert.Equal(t, 1, logger.count("warn", "MQTT handler returned error"))
	assert.Zero(t, logger.count("info", "MQTT message received"))
}

func TestOnMessageHandlerPanicRecovered(t *testing.T) {
	m, _, logger := connected(t, WithMessageHandler(func(string, []byte) error {
		panic("handler bug")
	}))

	assert.NotPanics(t, func() { m.OnMessage("a/b", nil) })
	assert.Equal(t, 1, logger.count("error", "MQTT handler panic recovered"))
}

func TestOnPublishAckLogsOnly(t *testing.T) {
	m, _, logger := connected(t)

	m.OnPublishAck(7)

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, logger.count("info", "MQTT message published to broker"))
}

func TestRecorderReceivesLifecycle(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	rec := RecorderFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "s1", ev.ClientID)
		assert.False(t, ev.Time.IsZero())
		kinds = append(kinds, ev.Kind)
	})

	m, _, _ := connected(t, WithRecorder(rec))
	m.Publish("t", "v")
	m.OnMessage("t", []byte("v"))
	m.OnDisconnect(errors.New("lost"))
	m.OnConnectAck(NotAuthorized)
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{
		EventConnecting,
		EventConnected,
		EventPublished,
		EventMessage,
		EventDisconnected,
		EventConnecting,
		EventRejected,
	}, kinds)
}

func TestRecordersFanOut(t *testing.T) {
	var a, b int
	rec := Recorders(
		RecorderFunc(func(Event) { a++ }),
		nil,
		RecorderFunc(func(Event) { b++ }),
	)

	rec.Record(Event{Kind: EventConnected})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

// =============================================================================
// Concurrency
// =============================================================================

func TestConcurrentSubscribeDuringConnectAck(t *testing.T) {
	for i := 0; i < 50; i++ {
		m, engine, _ := newTestManager(t)
		require.NoError(t, m.ConnectTo("broker", 1883))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Subscribe("race")
		}()
		go func() {
			defer wg.Done()
			m.OnConnectAck(Accepted)
		}()
		wg.Wait()

		assert.Equal(t, []string{"race"}, engine.subscribed(), "topic must be sent exactly once")
	}
}

func TestConcurrentPublish(t *testing.T) {
	m, engine, _ := connected(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.Publish("t", n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, engine.published(), 20)
}
