// Gray Logic Rules - Automation Engine
//
// This is the main entry point for the Gray Logic rules engine. It listens
// to device state on the MQTT bus, evaluates automations against it and
// publishes device commands back to the protocol bridges.
//
// Besides the long-running service, the binary offers a few offline
// administration commands that work directly on the database:
//
//	graylogic-rules -import bundle.json
//	graylogic-rules -delete-scene evening -cascade
//	graylogic-rules -delete-automation porch-dusk
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/bridge"
	"github.com/nerrad567/gray-logic-rules/internal/clock"
	"github.com/nerrad567/gray-logic-rules/internal/device"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-rules/internal/scene"
	"github.com/nerrad567/gray-logic-rules/migrations"
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

// drainTimeout bounds how long shutdown waits for in-flight runs.
const drainTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command-line flags.
type options struct {
	importPath       string
	deleteScene      string
	cascade          bool
	deleteAutomation string
}

// admin reports whether an offline administration command was requested.
func (o options) admin() bool {
	return o.importPath != "" || o.deleteScene != "" || o.deleteAutomation != ""
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("graylogic-rules", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.importPath, "import", "", "import a JSON bundle of scenes and automations, then exit")
	fs.StringVar(&opts.deleteScene, "delete-scene", "", "delete a scene by id, then exit")
	fs.BoolVar(&opts.cascade, "cascade", false, "with -delete-scene, also delete the scenes and automations that reference it")
	fs.StringVar(&opts.deleteAutomation, "delete-automation", "", "delete an automation by id, then exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.cascade && opts.deleteScene == "" {
		return options{}, errors.New("-cascade requires -delete-scene")
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Rules",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
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

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	sceneRegistry := scene.NewRegistry(scene.NewSQLiteRepository(db.DB))
	sceneRegistry.SetLogger(log.Component("scene"))
	if refreshErr := sceneRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading scene registry: %w", refreshErr)
	}
	log.Info("scene registry initialised", "scenes", sceneRegistry.GetSceneCount())

	automationRepo := automation.NewSQLiteRepository(db.DB)

	if opts.admin() {
		svc := automation.NewService(automationRepo, sceneRegistry, nil, log.Component("automation"))
		return runAdmin(ctx, svc, opts, log)
	}

	store, closeStore, err := openStateStore(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer closeStore()
	log.Info("device state store ready", "backend", cfg.StateStore.Backend)

	mqttClient, err := mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
	} else {
		log.Info("InfluxDB disabled")
	}

	commandQoS := byte(cfg.Automation.PublishQoS) //nolint:gosec // validated to 0..2 by config
	recorders := automation.MultiRecorder{automationRepo}
	if influxClient != nil {
		recorders = append(recorders, bridge.NewRunTelemetry(influxClient))
	}
	if cfg.Automation.AnnounceRuns {
		recorders = append(recorders, bridge.NewRunAnnouncer(mqttClient, commandQoS))
	}

	engine := automation.NewEngine(automation.EngineOptions{
		Publisher:      bridge.NewCommandPublisher(mqttClient, commandQoS),
		Scenes:         sceneRegistry,
		Clock:          clock.NewReal(cfg.Location()),
		Logger:         log.Component("engine"),
		Recorder:       recorders,
		MaxRunDuration: cfg.Automation.MaxRunDuration,
	})
	defer func() {
		log.Info("stopping automation engine")
		engine.Stop()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if waitErr := engine.WaitRuns(drainCtx); waitErr != nil {
			log.Warn("runs still in flight at shutdown", "running", len(engine.Running()), "error", waitErr)
		}
	}()

	svc := automation.NewService(automationRepo, sceneRegistry, engine, log.Component("automation"))
	if cfg.Automation.SeedFile != "" {
		if err := importFile(ctx, svc, cfg.Automation.SeedFile, log); err != nil {
			return fmt.Errorf("importing seed file: %w", err)
		}
	}
	if _, err := svc.Reload(ctx); err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}

	snaps, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading device states: %w", err)
	}
	if err := engine.SeedDevices(snaps); err != nil {
		return fmt.Errorf("seeding device states: %w", err)
	}
	log.Info("device states restored", "devices", len(snaps))

	stateOpts := bridge.StateSyncOptions{
		Bus:    mqttClient,
		Engine: engine,
		Store:  store,
		Logger: log.Component("state"),
		QoS:    mqttClient.DefaultQoS(),
	}
	if influxClient != nil {
		stateOpts.Telemetry = influxClient
	}
	stateSync, err := bridge.NewStateSync(stateOpts)
	if err != nil {
		return fmt.Errorf("creating state sync: %w", err)
	}
	if err := stateSync.Start(); err != nil {
		return fmt.Errorf("subscribing to device state: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			// Deferred cleanup runs in reverse order: engine drain,
			// InfluxDB, MQTT, state store, database.
			return nil
		case <-hup:
			n, reloadErr := svc.Reload(ctx)
			if reloadErr != nil {
				log.Error("reload failed", "error", reloadErr)
				continue
			}
			log.Info("automations reloaded on SIGHUP", "automations", n)
		}
	}
}

// runAdmin executes one offline administration command. Nothing is
// running, so the service is built without an engine.
func runAdmin(ctx context.Context, svc *automation.Service, opts options, log *logging.Logger) error {
	switch {
	case opts.importPath != "":
		return importFile(ctx, svc, opts.importPath, log)

	case opts.deleteScene != "":
		res, err := svc.DeleteScene(ctx, opts.deleteScene, opts.cascade)
		if err != nil {
			return fmt.Errorf("deleting scene %q: %w", opts.deleteScene, err)
		}
		log.Info("scenes deleted", "ids", res.Scenes, "automations", res.Automations)
		return nil

	case opts.deleteAutomation != "":
		if err := svc.DeleteAutomation(ctx, opts.deleteAutomation); err != nil {
			return fmt.Errorf("deleting automation %q: %w", opts.deleteAutomation, err)
		}
		return nil
	}
	return nil
}

func importFile(ctx context.Context, svc *automation.Service, path string, log *logging.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	res, err := svc.Import(ctx, data)
	if err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	log.Info("bundle imported", "path", path, "scenes", res.Scenes, "automations", res.Automations)
	return nil
}

// openStateStore returns the configured device snapshot store and a
// function that releases it.
func openStateStore(ctx context.Context, cfg *config.Config, db *database.DB) (device.Store, func(), error) {
	switch cfg.StateStore.Backend {
	case config.StateStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := device.NewRedisStore(client, cfg.Redis.Key)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return device.NewSQLiteStore(db.DB), func() {}, nil
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
