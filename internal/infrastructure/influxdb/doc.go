// Package influxdb records session events as InfluxDB time series.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// Each session event (connect, reject, disconnect, message, publish) is
// written as one point in the mqtt_session measurement:
//
//	mqtt_session,client_id=s1,event=message count=1i,payload_bytes=12i,topic="a/b"
//
// Summing count over event=disconnected gives a reconnect rate; summing
// payload_bytes over event=message gives inbound traffic.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mgr := session.New(id, engine, session.WithRecorder(client.Recorder()))
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
