// DDMS Core - Device Data Monitoring System
//
// Main entry point for the monitoring core: continuous Modbus TCP polling,
// connectivity status tracking, time-series storage, real-time distribution,
// and operator notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/denh4m/ddms-core/migrations"

	"github.com/denh4m/ddms-core/internal/api"
	"github.com/denh4m/ddms-core/internal/auth"
	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/infrastructure/config"
	"github.com/denh4m/ddms-core/internal/infrastructure/database"
	"github.com/denh4m/ddms-core/internal/infrastructure/influxdb"
	"github.com/denh4m/ddms-core/internal/infrastructure/logging"
	"github.com/denh4m/ddms-core/internal/infrastructure/mqtt"
	"github.com/denh4m/ddms-core/internal/modbus"
	"github.com/denh4m/ddms-core/internal/notification"
	"github.com/denh4m/ddms-core/internal/poller"
	"github.com/denh4m/ddms-core/internal/reading"
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

// transitionBufferSize is the capacity of the channel between the poll
// scheduler and the notification engine. Events are dropped with a warning
// if the engine falls this far behind.
const transitionBufferSize = 256

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting DDMS core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and bring the schema up to date
	db, err := database.Open(ctx, database.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
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
	log.Info("database connected", "host", cfg.Database.Host, "name", cfg.Database.Name)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry backed by the devices table
	deviceRepo := device.NewPostgresRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.DeviceCount())

	// Users and first-boot owner account
	userRepo := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedOwner(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding owner account: %w", seedErr)
	}

	notifRepo := notification.NewPostgresRepository(db.DB)
	store := reading.NewStore(db.DB, log)

	// Optional InfluxDB telemetry mirror
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB mirror disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		store.AddMirror(influxClient)
		log.Info("InfluxDB mirror connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Optional MQTT event bus
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		store.AddMirror(mqttClient)
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	} else {
		log.Info("MQTT event bus disabled")
	}

	// Polling pipeline: scheduler -> transition events -> notification engine
	events := make(chan poller.TransitionEvent, transitionBufferSize)
	prober := modbus.NewClient(cfg.Polling.AttemptTimeout(), log)
	scheduler := poller.NewScheduler(poller.Config{
		RetryLimit:     cfg.Polling.RetryLimit,
		RetryDelay:     cfg.Polling.RetryDelay(),
		AttemptTimeout: cfg.Polling.AttemptTimeout(),
	}, prober, registry, store, events, log)

	engine := notification.NewEngine(notifRepo, userRepo, cfg.Polling.DedupWindow(), log)
	if mqttClient != nil {
		engine.AddEventBus(mqttClient)
	}
	if influxClient != nil {
		engine.AddEventBus(influxClient)
	}

	// HTTP/WebSocket front end
	server := api.New(api.Deps{
		Config:        cfg,
		Logger:        log,
		Devices:       registry,
		Readings:      store,
		Notifications: notifRepo,
		Users:         userRepo,
		Tester:        prober,
		Version:       version,
	})
	engine.SetPusher(server.Hub())

	engine.Start(ctx, events)
	defer engine.Stop()

	if startErr := scheduler.Start(ctx); startErr != nil {
		return fmt.Errorf("starting scheduler: %w", startErr)
	}
	defer scheduler.Stop()
	log.Info("poll scheduler started", "devices", registry.DeviceCount())

	sweeper := reading.NewSweeper(db.DB, cfg.Retention.SweepInterval(), log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting api server: %w", startErr)
	}
	defer func() {
		log.Info("stopping api server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DDMS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DDMS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections after startup.
// Optional clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
