package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	apihttp "ozzus/agent-upkeep/internal/api/http"
	"ozzus/agent-upkeep/internal/checks"
	"ozzus/agent-upkeep/internal/config"
	"ozzus/agent-upkeep/internal/driver"
	"ozzus/agent-upkeep/internal/lib/clock"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
	"ozzus/agent-upkeep/internal/lib/logger/slogpretty"
	"ozzus/agent-upkeep/internal/repository"
	"ozzus/agent-upkeep/internal/repository/kafka"
	"ozzus/agent-upkeep/internal/service"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	version = "1.0.0"

	rosterDrainWindow = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	flags := config.Flags()
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n%s\n%s", os.Args[0], flags.FlagUsages(), driver.Usage())
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := setupLogger(cfg.Env)
	logger.Info("starting application",
		slog.String("env", cfg.Env),
		slog.String("agent", cfg.Agent.Name),
		slog.String("version", version),
	)

	once, _ := flags.GetBool("once")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, once, logger); err != nil {
		logger.Error("agent stopped with error", sl.Err(err))
		os.Exit(1)
	}
	logger.Info("agent stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, once bool, logger *slog.Logger) error {
	driverCfg, err := driver.LoadConfig()
	if err != nil {
		return err
	}
	drv, err := driver.NewHTTPDriver(driverCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize driver: %w", err)
	}

	statusRepo := repository.NewFileStatusRepository(cfg.Status.File, logger)

	source, closeSource, err := setupAccountSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	outcomes, closeOutcomes := setupOutcomes(cfg, logger)
	defer closeOutcomes()

	machine := service.NewAccountMachine(drv, statusRepo, outcomes, clock.Real(), service.MachineConfig{
		AgentID:                  cfg.Agent.Name,
		MaxLoginRetries:          cfg.Rounds.MaxLoginRetries,
		MaxRemediationAttempts:   cfg.Rounds.MaxRemediationAttempts,
		SafeMarginThresholdHours: cfg.Rounds.SafeMarginThresholdHours,
		LoginRetryDelay:          cfg.GetLoginRetryDelay(),
	}, logger)

	scheduler := service.NewScheduler(machine, statusRepo, clock.Real(), service.SchedulerConfig{
		MaxConcurrent:      cfg.Rounds.MaxConcurrent,
		MaxAccountFailures: cfg.Rounds.MaxAccountFailures,
	}, logger)

	controller := service.NewRoundController(source, statusRepo, scheduler, clock.Real(), service.ControllerConfig{
		AgentID:       cfg.Agent.Name,
		RoundInterval: cfg.GetRoundInterval(),
	}, logger)

	if once {
		report := controller.RunOnce(ctx)
		logger.Info("single round finished",
			slog.String("round_id", report.RoundID),
			slog.Int("completed", report.Completed),
			slog.Int("dropped", len(report.Dropped)),
		)
		return nil
	}

	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}
	healthController := apihttp.NewHealthController(controller, statusRepo, cfg.Agent.Name, version, logger).
		WithDependencyChecks(dependencyChecks(cfg, driverCfg)...)
	httpServer := &nethttp.Server{
		Addr:              ":" + cfg.Server.HealthPort,
		Handler:           apihttp.NewRouter(healthController, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return controller.Run(gctx)
	})

	g.Go(func() error {
		return serveHealth(gctx, httpServer, logger)
	})

	logger.Info("application started and ready",
		slog.String("health_port", cfg.Server.HealthPort),
		slog.String("agent_id", cfg.Agent.Name),
		slog.String("status_file", statusRepo.Path()),
	)

	return g.Wait()
}

// serveHealth runs srv until ctx is done. A listener failure is logged and
// returns nil so the round controller keeps running without the API.
func serveHealth(ctx context.Context, srv *nethttp.Server, logger *slog.Logger) error {
	logger.Info("starting health server", slog.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("health server failed, continuing without it", sl.Err(err))
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown failed: %w", err)
	}
	return nil
}

func setupAccountSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.AccountSource, func(), error) {
	if cfg.Accounts.Source != config.SourceKafka {
		logger.Info("reading accounts from file", slog.String("path", cfg.Accounts.File))
		return repository.NewFileAccountSource(cfg.Accounts.File, cfg.Accounts.RequireAtSign), func() {}, nil
	}

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Roster, logger)

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := consumer.CheckConnection(checkCtx); err != nil {
		consumer.Close()
		return nil, nil, fmt.Errorf("roster topic unavailable: %w", err)
	}

	logger.Info("reading accounts from kafka roster", slog.String("topic", consumer.Topic()))
	closeFn := func() {
		if err := consumer.Close(); err != nil {
			logger.Warn("failed to close roster consumer", sl.Err(err))
		}
	}
	return repository.NewKafkaRosterSource(consumer, rosterDrainWindow, logger), closeFn, nil
}

func setupOutcomes(cfg *config.Config, logger *slog.Logger) (repository.OutcomeRepository, func()) {
	if !cfg.Kafka.Enabled {
		return repository.NewLogOutcomeRepository(logger), func() {}
	}

	logger.Info("initializing Kafka producers", slog.Any("brokers", cfg.Kafka.Brokers))
	outcomesProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Outcomes)
	logsProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Logs)

	closeFn := func() {
		for _, p := range []*kafka.Producer{outcomesProducer, logsProducer} {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close producer", slog.String("topic", p.Topic()), sl.Err(err))
			}
		}
	}
	return repository.NewKafkaOutcomeRepository(outcomesProducer, logsProducer, logger), closeFn
}

func dependencyChecks(cfg *config.Config, driverCfg driver.Config) []checks.Checker {
	deps := []checks.Checker{checks.NewHTTPChecker("driver", driverCfg.URL, 0)}
	if cfg.Kafka.Enabled {
		for _, broker := range cfg.Kafka.Brokers {
			deps = append(deps, checks.NewTCPChecker("kafka", broker, 0))
		}
	}
	return deps
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case envLocal:
		return setupPrettySlog()
	default:
		return setupPrettySlog()
	}
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	return slog.New(opts.NewPrettyHandler(os.Stdout))
}
