package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/remoterelay-bridge/internal/api"
	"github.com/nerrad567/remoterelay-bridge/internal/audit"
	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
	"github.com/nerrad567/remoterelay-bridge/internal/entry"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/config"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/mqtt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Run the bridge until interrupted: load every paired entry, poll each
daemon, serve the REST/WebSocket API and, when enabled, relay state and
commands over MQTT and write telemetry to InfluxDB.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Cancel on Ctrl+C and SIGTERM for graceful shutdown
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// run is the bridge service, separated from the command for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting RemoteRelay bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", getConfigPath())

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	checks := map[string]api.HealthChecker{"database": db}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	registry, metrics := newRegistry()

	waker, err := buildWaker(cfg, mqttClient)
	if err != nil {
		return err
	}

	opts := managerOptions(cfg, repo, waker, log)
	opts.Metrics = metrics
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	manager := remoterelay.NewManager(opts)
	defer func() {
		log.Info("stopping device coordinators")
		manager.StopAll()
	}()

	if err := loadEntries(ctx, manager, repo); err != nil {
		return err
	}
	log.Info("entries loaded", "count", manager.Len())

	flows := remoterelay.NewFlowRegistry(remoterelay.FlowDeps{
		Entries:         repo,
		NewTransport:    manager.NewTransport,
		IntegrationName: cfg.Bridge.IntegrationName,
		DefaultPort:     cfg.Bridge.DefaultPort,
	}, cfg.FlowTTL())

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Manager:  manager,
		Flows:    flows,
		Entries:  repo,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Gatherer: registry,
		Checks:   checks,
		Version:  version,
	}

	if mqttClient != nil {
		relay := remoterelay.NewMQTTRelay(mqttClient, mqttClient.Topics(), mqttClient.QoS(), manager, log)
		if err := relay.Start(); err != nil {
			return fmt.Errorf("starting MQTT relay: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT relay")
			relay.Stop()
		}()
		deps.Relay = relay
		log.Info("MQTT relay started", "prefix", cfg.MQTT.TopicPrefix)
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// API server, MQTT relay, coordinators, InfluxDB, MQTT, database.

	log.Info("RemoteRelay bridge stopped")
	return nil
}

// connectMQTT connects to the broker and wires connection logging.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// newRegistry builds the registry served on /metrics.
func newRegistry() (*prometheus.Registry, *remoterelay.PromMetrics) {
	metrics := remoterelay.NewPromMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "remoterelay_build_info",
			Help:        "Build information; always 1",
			ConstLabels: prometheus.Labels{"version": version, "commit": commit},
		}, func() float64 { return 1 }),
	)
	return registry, metrics
}

// buildWaker selects the Wake-on-LAN sender for wake_on_lan.mode.
func buildWaker(cfg *config.Config, mqttClient *mqtt.Client) (remoterelay.Waker, error) {
	switch cfg.WakeOnLAN.Mode {
	case "mqtt":
		if mqttClient == nil {
			return nil, fmt.Errorf("wake_on_lan.mode mqtt needs an MQTT connection")
		}
		return &remoterelay.MQTTWaker{
			Publisher: mqttClient,
			Topic:     mqttClient.Topics().WakeRequest(),
		}, nil
	default:
		return remoterelay.NewUDPWaker(cfg.WakeOnLAN.BroadcastAddress, cfg.WakeOnLAN.Port), nil
	}
}

// managerOptions holds the options shared by serve and the one-shot
// subcommands.
func managerOptions(cfg *config.Config, repo *entry.SQLiteRepository, waker remoterelay.Waker, log *logging.Logger) remoterelay.ManagerOptions {
	return remoterelay.ManagerOptions{
		Store:            repo,
		Waker:            waker,
		DefaultBroadcast: cfg.WakeOnLAN.BroadcastAddress,
		PollInterval:     cfg.PollInterval(),
		CommandLog:       repo,
		Logger:           log,
	}
}

// loadEntries starts a runtime for every stored entry.
func loadEntries(ctx context.Context, manager *remoterelay.Manager, repo entry.Repository) error {
	entries, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}
	stored := make([]remoterelay.StoredEntry, 0, len(entries))
	for i := range entries {
		stored = append(stored, entries[i].Stored())
	}
	if err := manager.SetupAll(ctx, stored); err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}
	return nil
}
