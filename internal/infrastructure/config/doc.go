// Package config loads the mqttsession YAML configuration.
//
// Load layers values in a fixed order: built-in defaults, then the YAML
// file, then MQTTSESSION_* environment variables, then Validate. An empty
// session.client_id is replaced by a generated "mqttsession-xxxxxxxx" id.
//
// Keep broker passwords and the InfluxDB token out of the file; set
// MQTTSESSION_MQTT_PASSWORD and MQTTSESSION_INFLUXDB_TOKEN instead.
//
//	cfg, err := config.Load(os.Getenv("MQTTSESSION_CONFIG"))
//	if err != nil {
//	    return err
//	}
package config
