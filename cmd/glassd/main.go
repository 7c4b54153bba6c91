package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/glasslm/internal/audit"
	"github.com/raaihank/glasslm/internal/cache"
	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/logger"
	"github.com/raaihank/glasslm/internal/privacy"
	"github.com/raaihank/glasslm/internal/proxy"
	"github.com/raaihank/glasslm/internal/session"
	"github.com/raaihank/glasslm/internal/websocket"
)

var (
	version = proxy.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("glassd %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server)
		return
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting glassd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	detector, err := privacy.New(cfg.Privacy, log)
	if err != nil {
		log.Fatal("Failed to create privacy detector", zap.Error(err))
	}

	sessions := session.NewStore(cfg.Privacy.Registry.SessionTTL)
	sweeper, err := session.NewSweeper(sessions, cfg.Privacy.Registry.SweepSchedule, log, nil)
	if err != nil {
		log.Fatal("Failed to create session sweeper", zap.Error(err))
	}
	sweeper.Start()

	counter, err := cache.NewCounter(&cache.Config{
		RedisURL:     cfg.Stats.RedisURL,
		KeyPrefix:    cfg.Stats.KeyPrefix,
		Retention:    cfg.Stats.Retention,
		PoolSize:     cfg.Stats.PoolSize,
		MinIdleConns: cfg.Stats.MinIdleConns,
	}, log.WithComponent("stats").Logger)
	if err != nil {
		log.Warn("Redis stats unavailable, counting in memory", zap.Error(err))
		counter = cache.NewMemoryCounter(cfg.Stats.Retention)
	}
	defer counter.Close()

	deps := proxy.Dependencies{
		Detector: detector,
		Sessions: sessions,
		Counter:  counter,
		Hub: websocket.NewHub(&websocket.HubConfig{
			BroadcastMasking:     cfg.WebSocket.Events.BroadcastMasking,
			BroadcastLeakage:     cfg.WebSocket.Events.BroadcastLeakage,
			BroadcastRequests:    cfg.WebSocket.Events.BroadcastRequests,
			BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			MaxConnections:       cfg.WebSocket.MaxConnections,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
		}, log.WithComponent("websocket").Logger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit, log.WithComponent("audit").Logger)
		if err != nil {
			log.Warn("Audit trail unavailable, continuing without it", zap.Error(err))
		} else {
			deps.Audit = store
			store.StartRetention(ctx, cfg.Audit.Retention)
			defer store.Close()
		}
	}

	server, err := proxy.New(cfg, log, deps)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	if v.ConfigFileUsed() != "" {
		config.Watch(v, func(updated *config.Config) {
			if err := detector.Reconfigure(updated.Privacy.Preset, updated.Privacy.Detectors); err != nil {
				log.Error("Failed to apply detector settings", zap.Error(err))
				return
			}
			log.Info("Configuration reloaded",
				zap.String("preset", updated.Privacy.Preset),
				zap.Strings("rules", detector.GetEnabledRules()))
		}, func(err error) {
			log.Warn("Ignoring invalid configuration change", zap.Error(err))
		})
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()

		if err := server.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		<-sweeper.Stop().Done()

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck probes /health on the configured address
func performHealthCheck(cfg config.ServerConfig) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	resp, err := client.Get("http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)) + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
