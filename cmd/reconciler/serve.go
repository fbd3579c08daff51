package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/app/service"
	"balance_reconciler/internal/config"
	"balance_reconciler/internal/infrastructure/enginebridge"
	clientprovider "balance_reconciler/internal/infrastructure/network/client"
	networkdefinition "balance_reconciler/internal/infrastructure/network/definition"
	"balance_reconciler/internal/infrastructure/restapi"
	"balance_reconciler/internal/infrastructure/sessionstore"
	"balance_reconciler/internal/infrastructure/tokenhash"
	"balance_reconciler/internal/pkg/logger"
	"balance_reconciler/internal/pkg/metrics"
)

func newServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingress and API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts.ConfigPath)
		},
	}
}

func runServe(ctx context.Context, cfgPath string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	zapLogger, err := logger.InitZap(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return err
	}
	defer zapLogger.Sync() //nolint:errcheck
	zapLogger.Info("Configuration loaded", zap.String("path", cfgPath))

	metrics.MustRegisterMetrics()

	store, closeStore, err := openSessionStore(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer closeStore()

	netDefs := networkdefinition.NewNetworkDefinitionProvider(logger.Named("NetworkDefinitions"), cfg.Networks)

	probe := clientprovider.NewEVMClientProvider(
		time.Duration(cfg.ProviderRegistration.ProbeTimeoutMs)*time.Millisecond,
		logger.Named("ChainProbe"),
	)
	defer probe.Close()

	engine := enginebridge.NewClient(enginebridge.Options{
		BaseURL:      cfg.Engine.BridgeURL,
		Timeout:      time.Duration(cfg.Engine.RequestTimeoutMillis) * time.Millisecond,
		RateLimit:    cfg.Engine.RateLimit,
		BurstLimit:   cfg.Engine.BurstLimit,
		WalletSource: cfg.Engine.WalletSource,
	}, zapLogger)
	zapLogger.Info("Engine bridge client initialized", zap.String("baseURL", cfg.Engine.BridgeURL))

	svc, err := buildService(cfg, engine, store, probe, netDefs)
	if err != nil {
		return err
	}
	defer svc.Close()

	gin.SetMode(gin.ReleaseMode)
	handler := restapi.NewReconcilerHandler(svc, logger.Named("RestAPI"))
	router := restapi.SetupRouter(handler, cfg.Server.AllowOrigins, zapLogger)

	srv := &http.Server{
		Addr:         listenAddr(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zapLogger.Info(fmt.Sprintf("Server starting on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zapLogger.Info("Shutting down server...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	zapLogger.Info("Server exiting")
	return nil
}

// buildService wires the reconciliation layer on top of its infrastructure.
func buildService(
	cfg *config.Config,
	engine port.WalletEngine,
	store port.SessionStore,
	probe port.ChainProbe,
	netDefs port.NetworkDefinitionProvider,
) (port.ShieldedWalletService, error) {
	scale, err := service.ParseProgressScale(cfg.Watchdog.ProgressScale)
	if err != nil {
		return nil, err
	}
	normalizer := service.NewTokenNormalizer(tokenhash.NewHasher(), logger.Named("TokenNormalizer"))
	cache := service.NewBalanceCache(normalizer, logger.Named("BalanceCache"))
	watchdog := service.NewScanWatchdog(time.Duration(cfg.Watchdog.BudgetSeconds)*time.Second, logger.Named("ScanWatchdog"))
	watchdog.SetProgressScale(scale)

	orchestrator := service.NewConnectionOrchestrator(engine, store, probe, service.OrchestratorConfig{
		Networks:            netDefs.GetAllNetworkDefinitions(),
		ProviderMaxAttempts: cfg.ProviderRegistration.MaxAttempts,
		ProviderRetryDelay:  time.Duration(cfg.ProviderRegistration.RetryDelayMs) * time.Millisecond,
		ProbeTimeout:        time.Duration(cfg.ProviderRegistration.ProbeTimeoutMs) * time.Millisecond,
		EngineStartAttempts: cfg.Engine.StartAttempts,
		EngineStartDelay:    time.Duration(cfg.Engine.StartRetryDelayMs) * time.Millisecond,
		SessionKey:          cfg.Session.RecordKey,
	}, logger.Named("ConnectionOrchestrator"))

	return service.NewShieldedWalletService(cache, watchdog, orchestrator, logger.Named("ShieldedWalletService")), nil
}

func openSessionStore(ctx context.Context, cfg config.SessionConfig) (port.SessionStore, func(), error) {
	switch cfg.Store {
	case config.SessionStoreSQLite:
		store, err := sessionstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return sessionstore.NewMemoryStore(), func() {}, nil
	}
}

func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}
