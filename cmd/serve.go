package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/21chrisab/mailbrief/internal/analysis"
	"github.com/21chrisab/mailbrief/internal/auth"
	"github.com/21chrisab/mailbrief/internal/config"
	"github.com/21chrisab/mailbrief/internal/enrich"
	"github.com/21chrisab/mailbrief/internal/instrumentation"
	"github.com/21chrisab/mailbrief/internal/logging"
	"github.com/21chrisab/mailbrief/internal/mail"
	"github.com/21chrisab/mailbrief/internal/server"
	"github.com/21chrisab/mailbrief/internal/session"
)

func newServeCmd() *cobra.Command {
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Long: `Starts the HTTP API server that handles Google sign-in, session
management and enriched mail fetches. Configuration comes from the
environment and an optional .env file in the working directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(logJSON)
		},
	}

	cmd.Flags().BoolVar(&logJSON, "log-json", true, "emit logs as JSON")

	return cmd
}

func runServe(logJSON bool) error {
	logger := newLogger(logJSON)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", logging.Err(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	instrCfg := instrumentation.DefaultConfig()
	instrCfg.ServiceVersion = version
	instrCfg.Enabled = cfg.MetricsEnabled
	provider, err := instrumentation.NewProvider(ctx, instrCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	broker := auth.NewBroker(auth.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, logger, metrics)
	defer broker.Stop()

	sessions := session.NewStoreWithTimeout(cfg.SessionTTL(), logger)
	defer sessions.Stop()

	gateway := mail.NewGateway(logger, metrics)
	analyzer := analysis.NewClient(analysis.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, logger, metrics)

	pipeline := enrich.NewPipeline(broker, gateway, analyzer, cfg.AnalysisConcurrency, logger)

	srv := server.New(server.Config{
		Addr:          cfg.Addr,
		CookieSecure:  cfg.CookieSecure,
		SessionSecret: cfg.SessionSecret,
		Origins:       cfg.Origins(),
		PageSize:      cfg.MailPageSize,
	}, broker, sessions, pipeline, logger, metrics)

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	err = srv.Start(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if merr := metricsServer.Shutdown(shutdownCtx); merr != nil {
			logger.Warn("metrics server shutdown failed", logging.Err(merr))
		}
	}

	return err
}

func newLogger(logJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
