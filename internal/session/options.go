package session

import (
	"fmt"
	"net"
	"strconv"
)

// maxPort is the largest valid TCP port.
const maxPort = 65535

// Endpoint is a broker address.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// set reports whether both fields carry a value.
func (e Endpoint) set() bool {
	return e.Host != "" && e.Port != 0
}

func (e Endpoint) validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: host is empty", ErrConfiguration)
	}
	if e.Port < 1 || e.Port > maxPort {
		return fmt.Errorf("%w: port %d out of range", ErrConfiguration, e.Port)
	}
	return nil
}

// MessageHandler is invoked for every message the broker delivers.
//
// Handlers run on the protocol engine's callback goroutine and should not
// block for extended periods. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Option configures a Manager.
type Option func(*Manager)

// WithEndpoint sets the construction-time broker address. Either field may
// be left empty and supplied later to Connect or ConnectTo.
func WithEndpoint(host string, port int) Option {
	return func(m *Manager) {
		m.endpoint = Endpoint{Host: host, Port: port}
	}
}

// WithLogger sets the logging sink. Without it the Manager is silent.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder attaches an observer for session events.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithMessageHandler routes received messages to h instead of the log.
func WithMessageHandler(h MessageHandler) Option {
	return func(m *Manager) {
		m.onMessage = h
	}
}

// WithReconnectPolicy replaces the default Immediate policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}
