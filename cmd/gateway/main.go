// Command gateway runs the BitMEX connectivity adapter as a standalone
// process: it connects both venue channels, subscribes the configured
// instruments, and tails the event bus into the structured log.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"

	"github.com/quayside/bitmexgw/config"
	"github.com/quayside/bitmexgw/internal/bitmex"
	"github.com/quayside/bitmexgw/internal/bus/eventbus"
	"github.com/quayside/bitmexgw/internal/observability"
	"github.com/quayside/bitmexgw/internal/schema"
	"github.com/quayside/bitmexgw/internal/telemetry"
)

const (
	gatewayCloseTimeout      = 10 * time.Second
	busDrainTimeout          = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	loadDotEnv()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogrus(observability.LogrusConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}, "gateway")
	observability.SetLogger(logger)

	if err := cfg.RequireCredentials(); err != nil {
		fatal(logger, "credentials", err)
	}
	logger.Info("configuration loaded",
		observability.String("environment", string(cfg.Environment)),
		observability.String("server", string(cfg.Gateway.Server)),
		observability.Int("symbols", len(cfg.Gateway.Symbols)))

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.EnableMetrics,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  string(cfg.Environment),
	})
	if err != nil {
		fatal(logger, "telemetry", err)
	}
	metrics, err := telemetry.NewGatewayMetrics(provider.Meter("bitmexgw"))
	if err != nil {
		fatal(logger, "metrics", err)
	}

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{
		BufferSize:    cfg.Eventbus.BufferSize,
		FanoutWorkers: cfg.Eventbus.FanoutWorkers,
	})

	var lifecycle conc.WaitGroup
	if err := tailBus(&lifecycle, bus, logger); err != nil {
		fatal(logger, "bus subscriptions", err)
	}

	gateway, err := bitmex.New(cfg, bus, logger, metrics)
	if err != nil {
		fatal(logger, "gateway", err)
	}

	for _, symbol := range cfg.Gateway.Symbols {
		if err := gateway.Subscribe(schema.SubscribeRequest{Symbol: symbol}); err != nil {
			fatal(logger, "subscribe "+symbol, err)
		}
	}

	if err := gateway.Connect(ctx); err != nil {
		logger.Warn("venue not reachable yet; dialing continues in the background",
			observability.Err(err))
	}

	logger.Info("gateway started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownStart := time.Now()
	performGracefulShutdown(logger, gateway, bus, &lifecycle, provider)
	logger.Info("shutdown completed",
		observability.String("elapsed", time.Since(shutdownStart).String()))
}

func parseFlags() string {
	cfgPath := flag.String("config", "",
		"path to the gateway configuration file (default: config/gateway.yaml)")
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadDotEnv pulls a local .env into the process environment so credentials
// never have to live in the YAML file. A missing .env is not an error.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
}

// tailBus mirrors gateway log and error events into the process log, which
// keeps a headless deployment observable without any downstream consumer.
func tailBus(lifecycle *conc.WaitGroup, bus eventbus.Bus, logger observability.Logger) error {
	_, logs, err := bus.Subscribe(context.Background(), schema.EventLog)
	if err != nil {
		return err
	}
	_, errors, err := bus.Subscribe(context.Background(), schema.EventError)
	if err != nil {
		return err
	}

	lifecycle.Go(func() {
		for evt := range logs {
			if entry, ok := evt.Payload.(schema.LogData); ok {
				logger.Info(entry.Message, observability.String("source", evt.Source))
			}
		}
	})
	lifecycle.Go(func() {
		for evt := range errors {
			if emitted, ok := evt.Payload.(error); ok {
				logger.Error("venue error", observability.Err(emitted),
					observability.String("source", evt.Source))
			}
		}
	})
	return nil
}

func performGracefulShutdown(
	logger observability.Logger,
	gateway *bitmex.Gateway,
	bus *eventbus.MemoryBus,
	lifecycle *conc.WaitGroup,
	provider *telemetry.Provider,
) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			logger.Warn("shutdown step failed",
				observability.String("step", name), observability.Err(err))
			return
		}
		logger.Info("shutdown step completed", observability.String("step", name))
	}

	shutdownStep("close gateway", gatewayCloseTimeout, func(context.Context) error {
		return gateway.Close()
	})

	shutdownStep("drain event bus", busDrainTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			bus.Close()
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return stepCtx.Err()
		}
	})

	shutdownStep("flush telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
		return provider.Shutdown(stepCtx)
	})
}

func fatal(logger observability.Logger, stage string, err error) {
	logger.Error("startup failed",
		observability.String("stage", stage), observability.Err(err))
	os.Exit(1)
}
