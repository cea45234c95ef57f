// Package session provides a reconnecting MQTT session manager.
//
// A Manager owns the desired client identity, the live connection state and
// the set of topic filters the caller wants subscribed. It translates that
// desired state into commands for an external MQTT protocol engine and turns
// the engine's callbacks back into state transitions:
//
//	Disconnected --Connect()--> Connecting --accepted--> Connected
//	Connected --Disconnect()--> Disconnected (intentional)
//	Connected --connection lost--> Disconnected --auto--> Connecting
//	Connecting --rejected--> Disconnected
//	Connecting --transient failure of an auto attempt--> Disconnected --policy--> Connecting
//
// # Subscriptions
//
// Topics passed to Subscribe are remembered for the lifetime of the Manager.
// Every accepted connect re-subscribes all of them in insertion order, so a
// reconnect transparently restores the session.
//
// # Errors
//
// Nothing in this package panics or blocks the caller on the network. Every
// failure is logged; Connect and Subscribe additionally return an error the
// caller may inspect, and Err reports the most recent asynchronous failure
// (a broker rejection or a transport error).
//
// # Usage
//
//	engine := mqtt.NewEngine(cfg.MQTT, cfg.Session.ClientID)
//	mgr := session.New(cfg.Session.ClientID, engine,
//	    session.WithEndpoint(cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
//	    session.WithLogger(log),
//	)
//	_ = mgr.Subscribe("sensors/+/temperature")
//	_ = mgr.Connect(nil)
//	defer mgr.Disconnect()
//
//	mgr.Publish("sensors/kitchen/temperature", 21.5)
package session
