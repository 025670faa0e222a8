package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/gateway"
	"github.com/daemonp/zoneguard/internal/homeassistant"
	"github.com/daemonp/zoneguard/internal/kafka"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/mqtt"
	"github.com/daemonp/zoneguard/internal/nvs"
	"github.com/daemonp/zoneguard/internal/orchestrator"
	"github.com/daemonp/zoneguard/internal/outbox"
	"github.com/daemonp/zoneguard/internal/storage"
	"github.com/daemonp/zoneguard/internal/types"
)

// gatewayGrace bounds how long boot waits for the field bus before pre-locking.
const gatewayGrace = 2 * time.Second

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the controller until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts.configFile)
		},
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	logger := log.NewLogger(cfg.Log)
	clock := types.NewMonotonicClock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := openStorage(ctx, cfg.Storage, logger)
	if db != nil {
		defer db.Close()
	}
	kv := openNVS(cfg.Storage, db, logger)

	var store outbox.Store
	degraded := false
	if cfg.Outbox.Persist {
		if db == nil {
			degraded = true
		} else if s, err := outbox.OpenSQLStore(ctx, db, cfg.Outbox.StoreCapacity, logger.With("outbox")); err != nil {
			logger.Warn("Failed to open persisted outbox: %v", err)
			degraded = true
		} else {
			store = s
		}
	}

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	ob := outbox.New(cfg.Outbox, transport, store, clock, logger.With("outbox"))
	if degraded {
		ob.MarkDegraded()
	}
	defer ob.Close()

	gw := gateway.New(cfg.Gateway, clock, logger.With("gateway"))
	ob.SetSensorStats(gw.SensorStats)
	defer gw.Disconnect()

	orch := orchestrator.New(cfg, gw, gw.Actuators(cfg.Door.WindowLockInstalled), ob, kv, clock, logger.With("orchestrator"))
	orch.SetOverrunHook(ob.NoteOverrun)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(ctx) })
	g.Go(func() error { return ob.Run(ctx) })

	waitForGateway(ctx, gw)
	orch.Begin(clock.NowMs())
	g.Go(func() error { return orch.Run(ctx) })

	<-ctx.Done()
	logger.Info("Shutting down...")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func waitForGateway(ctx context.Context, gw *gateway.Gateway) {
	deadline := time.NewTimer(gatewayGrace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !gw.Connected() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// openStorage returns nil when storage is disabled or cannot be opened.
func openStorage(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) *storage.DB {
	db, err := storage.Open(cfg)
	if errors.Is(err, storage.ErrDisabled) {
		logger.Info("Storage disabled")
		return nil
	}
	if err != nil {
		logger.Error("Failed to open storage: %v", err)
		return nil
	}
	if err := db.Init(ctx); err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		db.Close()
		return nil
	}
	logger.Info("Storage ready (%s)", cfg.Driver)
	return db
}

// openNVS prefers the database, then the JSON file, and otherwise reports
// persistence as unavailable.
func openNVS(cfg config.StorageConfig, db *storage.DB, logger *log.Logger) nvs.KV {
	if db != nil {
		kv := nvs.NewSQL(db)
		if nvs.Probe(kv) {
			return kv
		}
		logger.Warn("Database NVS unreadable, trying file")
	}
	f, err := nvs.OpenFile(cfg.NVSFile)
	if err != nil {
		logger.Warn("File NVS unavailable: %v", err)
		return nvs.Unavailable{}
	}
	logger.Info("Using file NVS at %s", f.Path())
	return f
}

func newTransport(cfg *config.Config, logger *log.Logger) (outbox.Transport, error) {
	switch strings.ToLower(cfg.Outbox.Transport) {
	case "mqtt":
		client := mqtt.NewMQTT(&cfg.MQTT, logger.With("mqtt"))
		if cfg.HomeAssistant.Discovery {
			ha := homeassistant.New(&cfg.HomeAssistant, client, logger.With("homeassistant"))
			client.OnConnect(ha.Start)
		}
		return client, nil
	case "kafka":
		return kafka.New(cfg.Kafka, logger.With("kafka")), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported outbox.transport: %s", cfg.Outbox.Transport)
	}
}
