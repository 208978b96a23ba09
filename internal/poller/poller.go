package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/exaroton/internal/metrics"
	"github.com/rickgao/exaroton/internal/model"
)

// Fetcher fetches one server. *api.Client satisfies it.
type Fetcher interface {
	Server(ctx context.Context, serverID string) (*model.Server, error)
}

// ServerSource provides the server ids to poll.
type ServerSource interface {
	ServerIDs() []string
}

// StaticServers is a fixed ServerSource.
type StaticServers []string

func (s StaticServers) ServerIDs() []string { return s }

// StatusHandler receives fetched statuses.
type StatusHandler interface {
	HandleStatus(ctx context.Context, server model.Server, at time.Time) error
}

// StatusHandlerFunc is a function adapter for StatusHandler.
type StatusHandlerFunc func(context.Context, model.Server, time.Time) error

func (f StatusHandlerFunc) HandleStatus(ctx context.Context, s model.Server, at time.Time) error {
	return f(ctx, s, at)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 1m)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// CycleStats summarises one poll cycle.
type CycleStats struct {
	Servers  int
	Fetched  int64
	Errors   int64
	Duration time.Duration
}

// Poller periodically fetches server statuses via the REST API.
type Poller struct {
	cfg     Config
	client  Fetcher
	servers ServerSource
	handler StatusHandler
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu   sync.RWMutex
	last map[string]model.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler and m may be nil.
func New(cfg Config, client Fetcher, servers ServerSource, handler StatusHandler, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		servers: servers,
		handler: handler,
		metrics: m,
		logger:  logger,
		last:    make(map[string]model.Server),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent status fetched for serverID.
func (p *Poller) Last(serverID string) (model.Server, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.last[serverID]
	return s, ok
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollAll(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(p.ctx)
		}
	}
}

// PollAll fetches every server once, at most Concurrency at a time.
func (p *Poller) PollAll(ctx context.Context) CycleStats {
	start := time.Now()

	ids := p.servers.ServerIDs()
	if len(ids) == 0 {
		p.logger.Debug("no servers to poll")
		return CycleStats{}
	}

	var fetched, errs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.pollServer(gctx, id); err != nil {
				p.logger.Warn("failed to poll server",
					"server_id", id,
					"error", err,
				)
				errs.Add(1)
				// One failing server does not cancel the others.
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	g.Wait()

	stats := CycleStats{
		Servers:  len(ids),
		Fetched:  fetched.Load(),
		Errors:   errs.Load(),
		Duration: time.Since(start),
	}

	p.logger.Info("poll cycle complete",
		"servers", stats.Servers,
		"fetched", stats.Fetched,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)
	return stats
}

// pollServer fetches and handles a single server's status.
func (p *Poller) pollServer(ctx context.Context, serverID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	server, err := p.client.Server(ctx, serverID)
	p.metrics.PollerFetch(err)
	if err != nil {
		return err
	}
	at := time.Now()

	p.mu.Lock()
	p.last[serverID] = *server
	p.mu.Unlock()

	if p.handler != nil {
		if err := p.handler.HandleStatus(ctx, *server, at); err != nil {
			return err
		}
	}

	return nil
}
