package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/exaroton/internal/auth"
	"github.com/rickgao/exaroton/internal/config"
	"github.com/rickgao/exaroton/internal/connection"
	"github.com/rickgao/exaroton/internal/database"
	"github.com/rickgao/exaroton/internal/governor"
	"github.com/rickgao/exaroton/internal/metrics"
	"github.com/rickgao/exaroton/internal/poller"
	"github.com/rickgao/exaroton/internal/protocol"
	"github.com/rickgao/exaroton/internal/recorder"
	"github.com/rickgao/exaroton/internal/version"
	"github.com/rickgao/exaroton/pkg/exaroton"
)

func main() {
	configPath := flag.String("config", "configs/exawatch.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the configured one is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	configured, err := newLogger(cfg.Log)
	if err != nil {
		logger.Error("invalid log config", "error", err)
		os.Exit(1)
	}
	logger = configured
	slog.SetDefault(logger)

	logger.Info("starting exawatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"servers", len(cfg.Servers),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("exawatch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("exawatch stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	creds, err := auth.Resolve(cfg.API.Token, cfg.API.TokenFile)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	logger.Info("credentials loaded", "credentials", creds.String())

	m := metrics.New()

	client, err := exaroton.New(creds.Token,
		exaroton.WithRestURL(cfg.API.RestURL),
		exaroton.WithStreamURL(cfg.API.WSURL),
		exaroton.WithTimeout(cfg.API.Timeout),
		exaroton.WithRetries(cfg.API.MaxRetries, time.Second),
		exaroton.WithLogger(logger),
		exaroton.WithMetrics(m),
		exaroton.WithManagerConfig(managerConfig(cfg)),
	)
	if err != nil {
		return err
	}

	account, err := client.Account(ctx)
	if err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	logger.Info("account verified", "name", account.Name, "credits", account.Credits)

	// Recorder
	var (
		pool *pgxpool.Pool
		rec  *recorder.Recorder
	)
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, pool, m, logger)
		if err := rec.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			rec.Stop(stopCtx)
		}()
	}

	// Health server starts early so connection progress can be watched
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newRouter(cfg.Metrics.Path, client, pool, m),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	// Sessions
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		logNotifications(client.Notifications(), logger)
	}()
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("closing sessions", "error", err)
		}
		<-notifyDone
	}()

	if err := client.Open(ctx, cfg.Servers...); err != nil {
		// Servers that opened keep running.
		logger.Error("some sessions failed to open", "error", err)
	}

	channels := make([]protocol.Channel, 0, len(cfg.Streams.Channels))
	for _, name := range cfg.Streams.Channels {
		ch, _ := protocol.ParseChannel(name)
		channels = append(channels, ch)
	}
	subscribeAll(ctx, client, channels, rec, logger)

	// Poller
	if cfg.Poller.Enabled {
		var handler poller.StatusHandler
		if rec != nil {
			handler = rec
		}
		p := poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			Concurrency: cfg.Poller.Concurrency,
			Timeout:     cfg.API.Timeout,
		}, client, poller.StaticServers(cfg.Servers), handler, m, logger)
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			p.Stop(stopCtx)
		}()
	}

	logger.Info("exawatch running",
		"sessions", len(client.Sessions()),
		"channels", cfg.Streams.Channels,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// managerConfig maps the file configuration onto session settings.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.OpenConcurrency = cfg.Connection.OpenConcurrency

	s := &mc.Session
	s.Client.HandshakeTimeout = cfg.Connection.HandshakeTimeout
	s.Client.PingInterval = cfg.Connection.PingInterval
	s.Client.PingTimeout = cfg.Connection.PingTimeout
	s.Client.WriteTimeout = cfg.Connection.WriteTimeout
	s.RequestTimeout = cfg.Connection.RequestTimeout
	s.ListenerBuffer = cfg.Connection.ListenerBuffer
	s.ConsoleTail = cfg.Streams.ConsoleTail
	s.Reconnect = connection.ReconnectConfig{
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		Factor:      cfg.Reconnect.Factor,
		Jitter:      cfg.Reconnect.Jitter,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Schedule:    cfg.Reconnect.Schedule,
	}
	s.Governor = governor.Config{
		Rate:      cfg.Governor.Rate,
		Burst:     cfg.Governor.Burst,
		QueueSize: cfg.Governor.QueueSize,
	}
	return mc
}

// subscribeAll attaches the log listener and the recorder to every session.
func subscribeAll(ctx context.Context, client *exaroton.Client, channels []protocol.Channel, rec *recorder.Recorder, logger *slog.Logger) {
	for _, s := range client.Sessions() {
		for _, ch := range channels {
			if err := s.Subscribe(ctx, ch, "log", logListener(logger)); err != nil {
				logger.Error("subscribe failed",
					"server_id", s.ServerID(),
					"channel", ch,
					"error", err,
				)
				continue
			}
			if rec == nil {
				continue
			}
			if err := s.Subscribe(ctx, ch, "recorder", rec); err != nil {
				logger.Error("recorder subscribe failed",
					"server_id", s.ServerID(),
					"channel", ch,
					"error", err,
				)
			}
		}
	}
}

func logListener(logger *slog.Logger) exaroton.ListenerFunc {
	return func(ctx context.Context, ev exaroton.Event) error {
		switch e := ev.(type) {
		case exaroton.StatusChanged:
			logger.Info("status", "server_id", e.ServerID(), "status", e.State.Status.String())
		case exaroton.ConsoleLine:
			logger.Info("console", "server_id", e.ServerID(), "line", e.Line)
		case exaroton.DroppedEvents:
			logger.Warn("events dropped", "server_id", e.ServerID(), "channel", e.Chan, "count", e.Count)
		default:
			logger.Debug("event", "server_id", ev.ServerID(), "channel", ev.Channel())
		}
		return nil
	}
}

// logNotifications logs session notifications until the channel closes.
func logNotifications(ch <-chan exaroton.Notification, logger *slog.Logger) {
	for n := range ch {
		attrs := []any{"server_id", n.ServerID, "kind", n.Kind.String()}
		switch n.Kind {
		case connection.NotifyStateChanged:
			logger.Info("session state", append(attrs, "state", n.State.String())...)
		case connection.NotifyDroppedEvents:
			logger.Warn("listener overflow", append(attrs, "key", n.Key.String(), "listener", n.ListenerID, "count", n.Count)...)
		case connection.NotifyFailed:
			logger.Error("session failed", append(attrs, "error", n.Err)...)
		default:
			logger.Warn("session problem", append(attrs, "error", n.Err)...)
		}
	}
}

// newRouter serves health, metrics and session diagnostics.
func newRouter(metricsPath string, client *exaroton.Client, pool *pgxpool.Pool, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := "healthy"
		components := gin.H{}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				status = "unhealthy"
				components["timescaledb"] = gin.H{"status": "disconnected", "error": err.Error()}
			} else {
				components["timescaledb"] = "connected"
			}
		}

		stats := client.SessionStats()
		components["sessions"] = gin.H{
			"total":     stats.Sessions,
			"connected": stats.Connected,
			"failed":    stats.Failed,
		}
		if status == "healthy" && stats.Connected < stats.Sessions {
			status = "degraded"
		}

		code := http.StatusOK
		if status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "components": components})
	})

	r.GET(metricsPath, gin.WrapH(m.Handler()))

	r.GET("/debug/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, client.SessionStats())
	})

	return r
}
