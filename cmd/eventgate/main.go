package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	gwhttp "github.com/orderline/eventgate/internal/adapter/http"
	"github.com/orderline/eventgate/internal/adapter/otel"
	"github.com/orderline/eventgate/internal/adapter/ristretto"
	"github.com/orderline/eventgate/internal/adapter/ws"
	"github.com/orderline/eventgate/internal/config"
	"github.com/orderline/eventgate/internal/logger"
	"github.com/orderline/eventgate/internal/middleware"
	"github.com/orderline/eventgate/internal/port/pubsub"
	"github.com/orderline/eventgate/internal/resilience"
	"github.com/orderline/eventgate/internal/service"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "listen":
		err = runListen(args)
	case "publish":
		err = runPublish(args)
	case "help":
		printHelp()
	default:
		printHelp()
		err = fmt.Errorf("unknown command: %s", cmd)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: eventgate [command] [options]

Commands:
  serve     Run the gateway (default)
  listen    Connect as a client and print every received frame
  publish   Post an event to a running gateway
  help      Show this help message

Examples:
  eventgate --port 8080 --bridge-url nats://localhost:4222
  eventgate listen --url ws://localhost:8080/ws --tenant R1
  eventgate publish --url http://localhost:8080 --tenant R1 '{"type":"ping"}'
`)
}

func runServe(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	instanceID := uuid.NewString()
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log.With("instance", instanceID))

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"bridge", cfg.Bridge.URL != "",
		"backends", pubsub.Available(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL, instanceID)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Delivery ---
	reg := ws.NewRegistry()
	unregisterGauges, err := otel.RegisterGauges(reg.ConnectionCount, reg.TenantCount)
	if err != nil {
		return fmt.Errorf("gauges: %w", err)
	}
	defer func() { _ = unregisterGauges() }()

	window, err := ristretto.New(cfg.Bridge.DedupMaxBytes)
	if err != nil {
		return fmt.Errorf("dedup cache: %w", err)
	}
	defer window.Close()

	bridge := service.NewBridge(service.BridgeConfig{
		URL:           cfg.Bridge.URL,
		ChannelPrefix: cfg.Bridge.ChannelPrefix,
		QueueSize:     cfg.Bridge.QueueSize,
		DedupTTL:      cfg.Bridge.DedupTTL,
		InstanceID:    instanceID,
		Breaker:       resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		Window:        window,
		Metrics:       metrics,
	}, reg)
	bridge.Start(ctx)

	gateway := service.NewGateway(reg, bridge, metrics)

	// --- HTTP ---
	handlers := &gwhttp.Handlers{
		Broadcaster: gateway,
		Stats:       reg,
		Bridge:      bridge,
		InstanceID:  instanceID,
	}
	wsHandler := ws.NewHandler(reg, ws.Options{
		WriteTimeout: cfg.WS.WriteTimeout,
		ReadLimit:    cfg.WS.ReadLimit,
	})

	r := chi.NewRouter()

	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(gwhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(gwhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	gwhttp.MountRoutes(r, handlers, wsHandler)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown.
		reg.CloseAll()
		err := srv.Shutdown(shutdownCtx)
		if cerr := bridge.Close(); cerr != nil {
			slog.Warn("bridge close failed", "error", cerr)
		}
		return err
	})

	return g.Wait()
}
