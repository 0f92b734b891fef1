// Hearth - Smart Home Device Integration Hub
//
// This is the main entry point for the Hearth application. Hearth unifies
// heterogeneous smart-home devices (cloud air conditioners, LAN televisions)
// behind one canonical capability model, exposed over a REST/WebSocket API
// and an MQTT relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/rowanhale/hearth-core/migrations"

	"github.com/rowanhale/hearth-core/internal/adapter/mitv"
	"github.com/rowanhale/hearth-core/internal/adapter/sensibo"
	"github.com/rowanhale/hearth-core/internal/api"
	"github.com/rowanhale/hearth-core/internal/capability"
	"github.com/rowanhale/hearth-core/internal/hub"
	"github.com/rowanhale/hearth-core/internal/infrastructure/config"
	"github.com/rowanhale/hearth-core/internal/infrastructure/database"
	"github.com/rowanhale/hearth-core/internal/infrastructure/history"
	"github.com/rowanhale/hearth-core/internal/infrastructure/logging"
	"github.com/rowanhale/hearth-core/internal/infrastructure/mqtt"
	"github.com/rowanhale/hearth-core/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Event fan-out and device state store
	broker := hub.NewBroker()
	defer broker.Close()
	broker.SetLogger(log)

	store := hub.NewStore(broker)
	store.SetLogger(log)
	store.SetRepository(hub.NewSQLiteRepository(db.DB))

	// Restore persisted devices as unavailable placeholders; the first
	// successful fetch brings each one back.
	if restoreErr := store.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring device state: %w", restoreErr)
	}
	log.Info("device state restored", "devices", store.Count())

	// Refresh coordinator with one group per enabled vendor
	coordinator := hub.NewCoordinator(store, hub.CoordinatorConfig{
		FetchTimeout:     time.Duration(cfg.Hub.FetchTimeoutSeconds) * time.Second,
		FetchRetries:     cfg.Hub.FetchRetries,
		FailureThreshold: cfg.Hub.FailureThreshold,
		BackoffCeiling:   time.Duration(cfg.Hub.BackoffCeilingSeconds) * time.Second,
	})
	coordinator.SetLogger(log)

	var sensiboAdapter *sensibo.Adapter
	if cfg.Vendors.Sensibo.Enabled {
		sensiboAdapter, err = sensibo.New(cfg.Vendors.Sensibo)
		if err != nil {
			return fmt.Errorf("creating sensibo adapter: %w", err)
		}
		sensiboAdapter.SetLogger(log)
		if groupErr := coordinator.AddGroup(hub.Group{
			Name:     sensiboAdapter.Vendor(),
			Adapter:  sensiboAdapter,
			Interval: time.Duration(cfg.Vendors.Sensibo.RefreshInterval) * time.Second,
		}); groupErr != nil {
			return fmt.Errorf("registering sensibo group: %w", groupErr)
		}
		log.Info("sensibo adapter enabled")
	} else {
		log.Info("sensibo adapter disabled")
	}

	if cfg.Vendors.MiTV.Enabled {
		tvAdapter, tvErr := mitv.New(cfg.Vendors.MiTV)
		if tvErr != nil {
			return fmt.Errorf("creating mitv adapter: %w", tvErr)
		}
		if groupErr := coordinator.AddGroup(hub.Group{
			Name:     tvAdapter.Vendor(),
			Adapter:  tvAdapter,
			Interval: time.Duration(cfg.Vendors.MiTV.RefreshInterval) * time.Second,
		}); groupErr != nil {
			return fmt.Errorf("registering mitv group: %w", groupErr)
		}
		log.Info("mitv adapter enabled", "devices", len(cfg.Vendors.MiTV.Devices))
	} else {
		log.Info("mitv adapter disabled")
	}

	// Command dispatcher
	dispatcher := hub.NewDispatcher(store, coordinator,
		time.Duration(cfg.Hub.ApplyTimeoutSeconds)*time.Second)
	dispatcher.SetLogger(log)
	defer dispatcher.Close()

	// Connect to MQTT broker and start the relay (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttRelay, relayErr := relay.New(relay.Options{
			Client:      mqttClient,
			Broker:      broker,
			Coordinator: coordinator,
			QoS:         byte(cfg.MQTT.QoS),
			Logger:      log,
		})
		if relayErr != nil {
			return fmt.Errorf("creating MQTT relay: %w", relayErr)
		}
		if startErr := mqttRelay.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT relay: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT relay")
			mqttRelay.Stop()
		}()
		log.Info("MQTT relay started")
	} else {
		log.Info("MQTT relay disabled")
	}

	// Connect to InfluxDB and start the history sink (optional)
	if cfg.InfluxDB.Enabled {
		historyClient, histErr := history.Connect(cfg.InfluxDB)
		if histErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", histErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := historyClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		historyClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		sink := history.NewSink(historyClient, broker)
		sink.SetLogger(log)
		sink.Start()
		defer func() {
			log.Info("stopping history sink")
			sink.Stop()
		}()
	} else {
		log.Info("history sink disabled")
	}

	// REST API and WebSocket server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Store:      store,
		Dispatcher: dispatcher,
		Broker:     broker,
		Refresher:  coordinator,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Register devices with the coordinator, then start refreshing
	if sensiboAdapter != nil {
		if regErr := registerSensiboDevices(ctx, coordinator, sensiboAdapter, log); regErr != nil {
			log.Warn("sensibo discovery failed; persisted devices refresh as usual", "error", regErr)
		}
	}
	if cfg.Vendors.MiTV.Enabled {
		registerTVDevices(ctx, coordinator, cfg.Vendors.MiTV, log)
	}

	if startErr := coordinator.Start(ctx); startErr != nil {
		return fmt.Errorf("starting coordinator: %w", startErr)
	}
	defer func() {
		log.Info("stopping coordinator")
		coordinator.Stop()
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// coordinator, API server, history sink, InfluxDB, relay, MQTT,
	// dispatcher, broker, database.

	log.Info("Hearth stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// registerSensiboDevices discovers the account's pods and registers each
// with the coordinator. Devices already in the store keep their state.
func registerSensiboDevices(ctx context.Context, coordinator *hub.Coordinator, a *sensibo.Adapter, log *logging.Logger) error {
	devices, err := a.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering sensibo pods: %w", err)
	}

	for _, d := range devices {
		identity := capability.Identity{
			ID:     d.ID,
			Vendor: a.Vendor(),
			Kind:   capability.KindClimate,
			Name:   d.Name,
		}
		if addErr := coordinator.AddDevice(ctx, a.Vendor(), identity); addErr != nil {
			log.Error("failed to register sensibo device", "device_id", d.ID, "error", addErr)
			continue
		}
		log.Info("sensibo device registered", "device_id", d.ID, "name", d.Name)
	}
	return nil
}

// registerTVDevices registers the statically configured TVs.
func registerTVDevices(ctx context.Context, coordinator *hub.Coordinator, cfg config.MiTVConfig, log *logging.Logger) {
	for _, d := range cfg.Devices {
		name := d.Name
		if name == "" {
			name = "Xiaomi TV"
		}
		identity := capability.Identity{
			ID:     d.ID,
			Vendor: "mitv",
			Kind:   capability.KindTV,
			Name:   name,
		}
		if addErr := coordinator.AddDevice(ctx, "mitv", identity); addErr != nil {
			log.Error("failed to register TV", "device_id", d.ID, "error", addErr)
			continue
		}
		log.Info("TV registered", "device_id", d.ID, "host", d.Host)
	}
}
