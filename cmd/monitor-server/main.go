package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/api"
	"github.com/fleetfence/fleetfence-server/internal/config"
	"github.com/fleetfence/fleetfence-server/internal/evaluator"
	"github.com/fleetfence/fleetfence-server/internal/integration"
	"github.com/fleetfence/fleetfence-server/internal/monitor"
	"github.com/fleetfence/fleetfence-server/internal/notify"
	"github.com/fleetfence/fleetfence-server/internal/server"
	"github.com/fleetfence/fleetfence-server/internal/statecache"
	"github.com/fleetfence/fleetfence-server/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/monitor-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ownerID, err := uuid.Parse(cfg.Monitor.OwnerID)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid monitor owner_id in configuration")
	}

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional: connect to NATS
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("fleetfence-monitor-server"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				log.Error().
					Err(err).
					Str("subject", sub.Subject).
					Msg("NATS error")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	var bus *server.Bus
	if nc != nil {
		bus = server.NewBus(nc)
	}

	// Build the monitoring pipeline
	cache := statecache.New(
		statecache.WithTTL(cfg.Monitor.StateTTL),
		statecache.WithStats(cfg.Monitor.CacheStats),
	)
	eval := evaluator.New(cfg.Monitor.ToleranceMeters)

	monCfg := monitor.DefaultConfig()
	monCfg.MinInterval = cfg.Monitor.MinInterval
	monCfg.MinDistance = cfg.Monitor.MinDistance
	monCfg.PruneInterval = cfg.Monitor.PruneInterval

	opts := []monitor.Option{
		monitor.WithDeviceRepository(store),
	}
	if bus != nil {
		opts = append(opts,
			monitor.WithPositionSource(server.NewPositionRecorder(bus, store)),
			monitor.WithGeofenceWatcher(bus),
		)
	}
	if cfg.Monitor.RestoreSnapshot {
		opts = append(opts, monitor.WithSnapshotStore(store))
	}

	mon := monitor.New(monCfg, eval, cache, store, store, opts...)

	if err := mon.Start(ctx, ownerID); err != nil {
		log.Fatal().Err(err).Msg("Failed to start geofence monitor")
	}

	// Notification bridge: local notifications go to the log, push goes
	// out over NATS when available
	var push notify.PushSink
	if bus != nil {
		push = bus
	}
	bridge := notify.New(mon, store, server.LogSink{}, push,
		notify.WithDedupWindow(cfg.Monitor.DedupWindow))
	bridge.Attach(mon)

	// WaitGroup for services
	var wg sync.WaitGroup

	// Republish events onto NATS for external consumers
	if nc != nil {
		publisher := server.NewEventPublisher(nc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Start(ctx, mon); err != nil {
				log.Error().Err(err).Msg("Event publisher stopped")
			}
		}()
	}

	// Forward events to configured webhooks
	if len(cfg.Integration.Webhooks) > 0 {
		webhooks := make([]integration.Webhook, 0, len(cfg.Integration.Webhooks))
		for _, w := range cfg.Integration.Webhooks {
			webhooks = append(webhooks, integration.Webhook{
				Name:     w.Name,
				Endpoint: w.Endpoint,
				Headers:  w.Headers,
				Events:   w.Events,
			})
		}
		forwarder := integration.NewWebhookForwarder(webhooks)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := forwarder.Start(ctx, mon); err != nil {
				log.Error().Err(err).Msg("Webhook forwarder stopped")
			}
		}()
	}

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, mon, bus)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Shutdown API server first so no new positions or CRUD arrive
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Stop the pipeline: bridge drains its stream, then the monitor stops
	// workers and saves its state snapshot
	bridge.Detach()
	mon.Stop()

	// Cancel context and wait for all services
	cancel()
	wg.Wait()

	log.Info().Msg("Monitor server stopped")
}
