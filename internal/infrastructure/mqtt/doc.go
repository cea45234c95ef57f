// Package mqtt adapts paho.mqtt.golang into the protocol engine driven by
// session.Manager.
//
// The engine owns the network connection only. Reconnection and
// subscription restoration belong to the session manager, so paho's own
// auto-reconnect is disabled and every subscribe is issued at QoS 0 with
// messages routed to a single default handler.
//
// Event delivery:
//
//	paho CONNACK / dial failure  -> Handler.OnConnectAck
//	paho connection lost         -> Handler.OnDisconnect
//	paho default publish handler -> Handler.OnMessage
//	publish token completion     -> Handler.OnPublishAck
//
// # Security Considerations
//
//   - TLS (mqtt.broker.tls) uses TLS 1.2 or newer
//   - Credentials are sent only when a username is configured
//
// # Usage
//
//	engine := mqtt.NewEngine(cfg.MQTT, cfg.Session.ClientID)
//	engine.SetLogger(log)
//	mgr := session.New(cfg.Session.ClientID, engine) // registers itself via SetHandler
package mqtt
