// mqttsession keeps one MQTT session alive against a broker.
//
// It connects with the configured client identity, restores the configured
// subscriptions after every reconnect, optionally publishes a heartbeat,
// and records session events to a SQLite journal and InfluxDB when those
// are enabled. An optional HTTP API exposes session state, the journal and
// a live WebSocket event stream. SIGINT or SIGTERM disconnects cleanly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/mqtt-session/migrations"

	"github.com/nerrad567/mqtt-session/internal/api"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-session/internal/journal"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the session and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mqttsession",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"client_id", cfg.Session.ClientID,
		"level", cfg.Logging.Level,
	)

	var recorders []session.Recorder
	var journalRepo journal.Repository

	// Journal (optional)
	if cfg.Database.Enabled {
		db, openErr := database.OpenMigrated(ctx, cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening journal: %w", openErr)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()
		log.Info("journal enabled", "path", db.Path())
		repo := journal.NewSQLiteRepository(db.DB)
		writer := journal.NewWriter(repo, log.Component("journal"), journal.DefaultBuffer)
		defer writer.Close()
		journalRepo = repo
		recorders = append(recorders, writer)
	} else {
		log.Info("journal disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		recorders = append(recorders, influxClient.Recorder())
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub (optional, part of the API)
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("api"))
		recorders = append(recorders, hub.Recorder())
	}

	engine := mqtt.NewEngine(cfg.MQTT, cfg.Session.ClientID)
	engine.SetLogger(log.Component("engine"))

	mgr := session.New(cfg.Session.ClientID, engine,
		session.WithLogger(log.Component("session").With("client_id", cfg.Session.ClientID)),
		session.WithRecorder(session.Recorders(recorders...)),
		session.WithReconnectPolicy(reconnectPolicy(cfg)),
	)

	for _, topic := range cfg.Session.Subscriptions {
		if subErr := mgr.Subscribe(topic); subErr != nil {
			return fmt.Errorf("subscribing to %q: %w", topic, subErr)
		}
	}

	if connErr := mgr.ConnectTo(cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port); connErr != nil {
		return fmt.Errorf("connecting to MQTT: %w", connErr)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		mgr.Disconnect()
	}()

	// API server (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Session: mgr,
			Journal: journalRepo,
			Hub:     hub,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if cfg.Session.Heartbeat.Topic != "" {
		go runHeartbeat(ctx, mgr, cfg.Session.Heartbeat.Topic, cfg.HeartbeatInterval())
		log.Info("heartbeat enabled",
			"topic", cfg.Session.Heartbeat.Topic,
			"interval", cfg.HeartbeatInterval(),
		)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server (if enabled)
	// 2. MQTT
	// 3. InfluxDB (if enabled)
	// 4. Journal database (if enabled)

	log.Info("mqttsession stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MQTTSESSION_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTSESSION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// reconnectPolicy builds the session's reconnect policy from configuration.
func reconnectPolicy(cfg *config.Config) session.ReconnectPolicy {
	if cfg.Session.Reconnect.Strategy == config.ReconnectBackoff {
		return session.Backoff(
			cfg.ReconnectInitialDelay(),
			cfg.ReconnectMaxDelay(),
			cfg.Session.Reconnect.MaxAttempts,
		)
	}
	return session.Immediate()
}

// publisher is the part of session.Manager the heartbeat needs.
type publisher interface {
	Publish(topic string, payload any)
}

// runHeartbeat publishes the current UTC time to topic every interval until
// ctx is cancelled. Ticks while disconnected are dropped by the session.
func runHeartbeat(ctx context.Context, p publisher, topic string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			p.Publish(topic, t.UTC().Format(time.RFC3339))
		}
	}
}
