package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"futarchy/native/futarchy"
	"futarchy/observability/logging"
	obsmetrics "futarchy/observability/metrics"
	telemetry "futarchy/observability/otel"
	"futarchy/services/futarchyd/config"
	"futarchy/services/futarchyd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/futarchyd/config.yaml", "path to futarchyd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("futarchyd", cfg.Env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "futarchyd",
		Environment: cfg.Env,
		Endpoint:    otlpEndpoint,
		Insecure:    true,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	engines := bootstrapEngines(logger)
	obsmetrics.Futarchy() // registers the futarchy collector set on first use

	handler := server.New(engines, cfg, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runCrankLoop(rootCtx, engines, cfg.Crank.PollInterval, logger)

	httpServer := &http.Server{Addr: cfg.ListenAddress, Handler: handler}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("futarchyd listening", slog.String("addr", cfg.ListenAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
		}
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// bootstrapEngines wires every native/futarchy engine against a shared
// in-process Store, following native/governance's pattern of constructing
// one engine per concern and wiring them together at the service's
// composition root rather than inside the engines themselves.
func bootstrapEngines(logger *slog.Logger) server.Engines {
	store := futarchy.NewStore()

	lifecycle := futarchy.NewLifecycleEngine()
	lifecycle.SetState(store)

	queueEngine := futarchy.NewQueueEngine()
	propFees := futarchy.NewProposalFeeManager()
	propFees.SetState(store)
	queueEngine.SetFeeManager(propFees)

	configEngine := futarchy.NewConfigEngine()
	configEngine.SetState(store)

	feeManager := futarchy.NewFeeManager()
	feeManager.SetState(store)

	treasury := futarchy.NewTreasuryEngine()
	treasury.SetState(store)

	registry := futarchy.NewActionRegistry()
	dispatcher := futarchy.NewDispatcher(registry, configEngine, feeManager, treasury)
	dispatcher.SetState(store)

	policyRegistry := futarchy.NewPolicyRegistry()
	council := futarchy.NewCouncilEngine(policyRegistry)

	audit := futarchy.NewAuditLog(logger)

	return server.Engines{
		Store:      store,
		Lifecycle:  lifecycle,
		Queue:      queueEngine,
		Queues:     server.NewQueueRegistry(),
		Config:     configEngine,
		Fees:       feeManager,
		PropFees:   propFees,
		Dispatcher: dispatcher,
		Council:    council,
		Audit:      audit,
	}
}

// runCrankLoop periodically advances every known active proposal's stage,
// acting as the always-on
// operator of the otherwise manually-triggered lifecycle transitions
// (SPEC_FULL.md supplemented "metrics-driven crank scheduler").
func runCrankLoop(ctx context.Context, engines server.Engines, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, proposalID := range engines.Store.ListActiveProposalIDs() {
				if _, err := engines.Lifecycle.AdvanceStage(proposalID); err != nil {
					logger.Debug("crank: advance stage skipped", slog.Uint64("proposalId", proposalID), slog.String("reason", err.Error()))
					continue
				}
				logger.Info("crank: advanced proposal", slog.String("proposalId", strconv.FormatUint(proposalID, 10)))
			}
		}
	}
}
