package session

// Engine is the MQTT protocol engine a Manager drives. Implementations own
// the network connection and run their I/O and callback dispatch in the
// background; none of these methods may wait for a broker response.
type Engine interface {
	// Open starts connecting to host:port and begins background processing.
	// The outcome is reported later through Handler.OnConnectAck. An error
	// means the attempt could not be started at all.
	Open(host string, port int) error

	// Close disconnects and stops background processing. It must not cause
	// Handler.OnDisconnect to be invoked.
	Close()

	// Subscribe sends a subscribe request for a topic filter at QoS 0.
	Subscribe(topic string) error

	// Publish sends payload to topic at QoS 0 without the retain flag.
	Publish(topic string, payload []byte) error
}

// Handler receives protocol engine events. *Manager implements it.
type Handler interface {
	OnConnectAck(code ResultCode)
	OnDisconnect(err error)
	OnMessage(topic string, payload []byte)
	OnPublishAck(id uint16)
}

// HandlerSetter is implemented by engines that accept handler registration.
// New registers the Manager with any engine that implements it.
type HandlerSetter interface {
	SetHandler(h Handler)
}

// Logger is the leveled logging sink used by the Manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
