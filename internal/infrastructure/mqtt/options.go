package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds the TCP/TLS dial and CONNACK wait.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when the configuration leaves keep_alive at zero.
	defaultKeepAlive = 60 * time.Second

	// sessionQoS is the only QoS level the session uses (at most once).
	sessionQoS byte = 0

	// maxPayloadSize guards against accidental huge publishes (1MB).
	maxPayloadSize = 1 << 20

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerURL returns the paho server URL for host:port.
func brokerURL(host string, port int, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// buildClientOptions creates paho options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and optional credentials
//   - Clean session, keepalive and connect timeout
//   - Auto-reconnect and connect-retry disabled (the session reconnects)
//   - TLS configuration (if enabled)
//   - Last Will and Testament (if a will topic is configured)
func buildClientOptions(cfg config.MQTTConfig, clientID, host string, port int) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(host, port, cfg.Broker.TLS))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	if cfg.Will.Topic != "" {
		opts.SetWill(cfg.Will.Topic, cfg.Will.Payload, sessionQoS, false)
	}

	return opts
}
