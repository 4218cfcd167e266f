package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"beatrelay/database"
	"beatrelay/internal/config"
	"beatrelay/internal/journal"
	"beatrelay/internal/metrics"
	httpapi "beatrelay/internal/microservices/http-api"
	"beatrelay/internal/microservices/http-api/middleware/auth"
	"beatrelay/internal/microservices/http-api/service"
	"beatrelay/internal/microservices/tcp"
	udp "beatrelay/internal/microservices/udp-server"
	"beatrelay/internal/targets"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

func main() {
	hashPassword := pflag.Bool("hash-password", false, "read a password from stdin, print its bcrypt hash for ADMIN_PASSWORD_HASH and exit")
	targetsFile := pflag.String("targets", "", "character registry file, overrides BEAT_TARGETS_FILE")
	port := pflag.Int("port", -1, "BEAT listener port, overrides BEAT_PORT")
	pflag.Parse()

	if *hashPassword {
		if err := printHash(os.Stdin, os.Stdout); err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *targetsFile != "" {
		cfg.TargetsFile = *targetsFile
	}
	if *port >= 0 {
		cfg.BeatPort = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := targets.Deps{Logger: logger}
	var repo journal.Repository

	if cfg.RedisURL != "" {
		client, err := targets.NewRedisClient(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.Redis = client
		logger.Info("redis_connected")
	}

	if cfg.DatabaseURL != "" {
		pool, err := database.ConnectPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		deps.Pool = pool

		db, err := database.ConnectDB(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer database.Close(db)
		repo = journal.NewRepository(db)
	}

	if cfg.UDPEnabled {
		fanout, err := udp.NewServer(cfg.UDPAddr(), cfg.UDPSubscriberTimeout, logger)
		if err != nil {
			return err
		}
		fanout.Start()
		defer fanout.Shutdown()
		deps.UDP = fanout
	}

	registry, err := buildRegistry(cfg, deps, logger)
	if err != nil {
		return err
	}

	dispatcherCfg, err := dispatcherConfig(cfg)
	if err != nil {
		return err
	}
	manager := tcp.NewConnectionManager(dispatcherCfg.Policy, logger)
	opts := []tcp.Option{tcp.WithLogger(logger), tcp.WithConnectionManager(manager)}

	var metricsHandler http.Handler
	if cfg.PrometheusEnabled {
		reg := metrics.NewRegistry()
		collector, err := metrics.NewCollector(reg, manager)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		opts = append(opts, tcp.WithObserver(collector))
		metricsHandler = metrics.Handler(reg)
	}

	var journalWriter *journal.Writer
	if repo != nil {
		journalWriter = journal.NewWriter(repo, journal.WriterConfig{
			BatchSize:     cfg.JournalBatchSize,
			FlushInterval: cfg.JournalFlushInterval,
		}, logger)
		opts = append(opts, tcp.WithObserver(journalWriter))
	}

	// a bind failure ends the process
	dispatcher, err := tcp.NewDispatcher(registry, dispatcherCfg, opts...)
	if err != nil {
		return err
	}
	defer dispatcher.Stop()

	if journalWriter != nil {
		journalWriter.Start(ctx)
		defer func() {
			if err := journalWriter.Close(); err != nil {
				logger.Error("journal_close_failed", "error", err)
			}
		}()
	}

	if cfg.AdminEnabled {
		gin.SetMode(ginMode(cfg))
		router := httpapi.NewRouter(httpapi.Deps{
			Auth:       service.NewAuthService(cfg),
			Dispatcher: dispatcher,
			Journal:    repo,
			Metrics:    metricsHandler,
			Logger:     logger,
		})
		srv := httpapi.NewServer(cfg.AdminAddr(), router)
		go func() {
			logger.Info("admin_api_started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin_api_failed", "error", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("admin_api_shutdown_failed", "error", err)
			}
		}()
	}

	if err := dispatcher.Run(ctx, cfg.BeatTickInterval); err != nil {
		return err
	}
	logger.Info("received_shutdown_signal")
	return nil
}

func buildRegistry(cfg *config.Config, deps targets.Deps, logger *slog.Logger) (*tcp.Registry, error) {
	if cfg.TargetsFile != "" {
		registry, err := targets.LoadRegistryFile(cfg.TargetsFile, deps)
		if err != nil {
			return nil, err
		}
		logger.Info("registry_loaded",
			"file", cfg.TargetsFile,
			"characters", registry.Keys(),
		)
		return registry, nil
	}
	return targets.LogRegistry(cfg.Characters, logger)
}

// ginMode keeps gin quiet unless debug logging was asked for
func ginMode(cfg *config.Config) string {
	if cfg.LogLevel == "debug" && !cfg.IsProduction() {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func dispatcherConfig(cfg *config.Config) (tcp.Config, error) {
	framing, err := tcp.ParseFraming(cfg.BeatFraming)
	if err != nil {
		return tcp.Config{}, err
	}
	policy, err := tcp.ParseConnPolicy(cfg.BeatConnPolicy)
	if err != nil {
		return tcp.Config{}, err
	}
	return tcp.Config{
		Addr: cfg.BeatAddr(),
		Reader: tcp.ReaderConfig{
			Framing:        framing,
			MaxMessageSize: cfg.BeatMaxMessageSize,
			IdleTimeout:    cfg.BeatIdleTimeout,
			RateLimit:      cfg.BeatRateLimit,
			RateBurst:      cfg.BeatRateBurst,
		},
		Policy:        policy,
		InboxSize:     cfg.BeatInboxSize,
		MaxPerTick:    cfg.BeatMaxPerTick,
		TargetTimeout: cfg.BeatTargetTimeout,
	}, nil
}

func printHash(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
