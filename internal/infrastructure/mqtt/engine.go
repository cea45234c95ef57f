package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// Engine is a session.Engine backed by paho.mqtt.golang.
//
// Each Open creates a fresh paho client; Close disconnects it. Engine
// never reconnects on its own.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handler callbacks run on paho or engine goroutines, never on the
//     caller's goroutine.
type Engine struct {
	cfg      config.MQTTConfig
	clientID string

	// newClient is replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu      sync.RWMutex
	client  pahomqtt.Client
	handler session.Handler

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

var (
	_ session.Engine        = (*Engine)(nil)
	_ session.HandlerSetter = (*Engine)(nil)
)

// NewEngine creates an engine that will connect as clientID using the
// broker settings (auth, TLS, keepalive, will) in cfg. The broker address
// itself is supplied to Open.
func NewEngine(cfg config.MQTTConfig, clientID string) *Engine {
	return &Engine{
		cfg:       cfg,
		clientID:  clientID,
		newClient: pahomqtt.NewClient,
	}
}

// SetHandler registers the receiver of engine events.
func (e *Engine) SetHandler(h session.Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// SetLogger sets a logger for asynchronous subscribe and publish failures.
// If not set, those failures are silently ignored.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

func (e *Engine) getHandler() session.Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handler
}

// Open starts connecting to host:port. It returns immediately; the CONNACK
// return code (or session.TransportFailure if the broker was never reached)
// is delivered to Handler.OnConnectAck from a background goroutine.
func (e *Engine) Open(host string, port int) error {
	if host == "" || port <= 0 {
		return fmt.Errorf("mqtt: invalid broker address %q:%d", host, port)
	}

	opts := buildClientOptions(e.cfg, e.clientID, host, port)
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if h := e.getHandler(); h != nil {
			h.OnMessage(msg.Topic(), msg.Payload())
		}
	})

	opts.SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
		if !e.isCurrent(c) {
			return
		}
		if h := e.getHandler(); h != nil {
			h.OnDisconnect(err)
		}
	})

	client := e.newClient(opts)

	e.mu.Lock()
	previous := e.client
	e.client = client
	e.mu.Unlock()

	if previous != nil {
		previous.Disconnect(0)
	}

	token := client.Connect()
	go e.awaitConnect(client, token)
	return nil
}

// isCurrent reports whether c is the client of the latest Open.
func (e *Engine) isCurrent(c pahomqtt.Client) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client == c
}

// awaitConnect waits for the connect token and reports its outcome.
// Outcomes for clients replaced or closed in the meantime are dropped.
func (e *Engine) awaitConnect(client pahomqtt.Client, token pahomqtt.Token) {
	token.Wait()

	if !e.isCurrent(client) {
		return
	}
	h := e.getHandler()
	if h == nil {
		return
	}
	h.OnConnectAck(connectResult(token))
}

// connectResult maps a completed paho connect token to a session result code.
func connectResult(token pahomqtt.Token) session.ResultCode {
	ct, ok := token.(*pahomqtt.ConnectToken)
	if !ok {
		if token.Error() != nil {
			return session.TransportFailure
		}
		return session.Accepted
	}

	code := session.ResultCode(ct.ReturnCode())
	if token.Error() != nil && code == session.Accepted {
		return session.TransportFailure
	}
	return code
}

// Close disconnects from the broker, waiting briefly for in-flight work.
// paho does not invoke the connection-lost handler for a requested
// disconnect, so no OnDisconnect follows.
func (e *Engine) Close() {
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.mu.Unlock()

	if client == nil {
		return
	}
	client.Disconnect(defaultDisconnectQuiesce)
}

// Subscribe requests a QoS 0 subscription. The broker's answer is
// awaited in the background; failures are logged.
func (e *Engine) Subscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	client := e.current()
	if client == nil {
		return ErrNotOpen
	}

	token := client.Subscribe(topic, sessionQoS, nil)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			if logger := e.getLogger(); logger != nil {
				logger.Warn("MQTT subscribe not acknowledged", "topic", topic, "error", err)
			}
		}
	}()
	return nil
}

// Publish sends payload at QoS 0 without the retain flag. Completion is
// reported to Handler.OnPublishAck.
func (e *Engine) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	client := e.current()
	if client == nil {
		return ErrNotOpen
	}

	token := client.Publish(topic, sessionQoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			if logger := e.getLogger(); logger != nil {
				logger.Warn("MQTT publish failed", "topic", topic, "error", err)
			}
			return
		}
		var id uint16
		if pt, ok := token.(*pahomqtt.PublishToken); ok {
			id = pt.MessageID()
		}
		if h := e.getHandler(); h != nil {
			h.OnPublishAck(id)
		}
	}()
	return nil
}

func (e *Engine) current() pahomqtt.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}
