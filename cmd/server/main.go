package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/candidate"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/config"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/handler"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/history"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/predictor"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/retrain"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/router"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/scorer"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "psp-router",
		Short:        "Intelligent PSP routing engine",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func run(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	v := viper.New()
	v.SetEnvPrefix("PSP_ROUTER")
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New(prometheus.DefaultRegisterer)

	outcomes, err := history.NewBadgerStore(history.BadgerOptions{
		Path:      cfg.History.Path,
		InMemory:  cfg.History.InMemory,
		Retention: daysToDuration(cfg.History.RetentionDays),
	}, logger)
	if err != nil {
		return err
	}
	defer outcomes.Close()

	store := candidate.New(cfg.Candidates, cfg.Retrain, outcomes, logger, metrics)
	store.Seed(candidate.DefaultRoster())
	if err := store.Retrain(ctx); err != nil {
		logger.Warn("initial_retrain_failed", zap.Error(err))
	}

	weights := config.NewWeightsProvider(logger)
	if cfg.Weights.Path != "" {
		if err := weights.Watch(cfg.Weights.Path); err != nil {
			return err
		}
		defer weights.Close()
	}

	pred, reloader := buildPredictor(ctx, cfg, logger)
	if obs, ok := pred.(candidate.Observer); ok {
		store.SetObserver(obs)
	}

	rtr := router.New(router.Params{
		Candidates:     store,
		Predictor:      pred,
		Scorer:         scorer.New(weights),
		Routing:        cfg.Routing,
		RoutableHealth: cfg.Candidates.RoutableHealth,
		PredictTimeout: cfg.Predictor.Timeout,
		Logger:         logger,
		Metrics:        metrics,
	})

	ingestor := candidate.NewIngestor(store, cfg.Candidates.FeedbackQueueDepth, logger, metrics)
	ingestor.Start()
	defer ingestor.Close()

	scheduler := retrain.New(store, reloader, cfg.Retrain.PollInterval, cfg.Retrain.MaxTries, logger, metrics)
	go scheduler.Run(ctx)

	api := mux.NewRouter()
	handler.New(rtr, store, ingestor, pred, logger).RegisterRoutes(api)
	api.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, api)),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildPredictor(ctx context.Context, cfg config.Config, logger *zap.Logger) (predictor.Predictor, predictor.Reloader) {
	switch cfg.Predictor.Kind {
	case "bandit":
		return predictor.NewBandit(
			cfg.Predictor.BanditEpsilon,
			cfg.Candidates.GreenCutoff,
			cfg.Candidates.YellowCutoff,
		), nil
	case "none":
		return predictor.Null{}, nil
	default:
		ensemble := predictor.NewLocalEnsemble(cfg.Predictor.ModelPath, logger)
		if err := ensemble.Load(ctx); err != nil {
			// Decisions proceed on the deterministic fallback until a
			// working artifact is loaded.
			logger.Warn("model_load_failed", zap.Error(err))
		}
		return ensemble, ensemble
	}
}

func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
