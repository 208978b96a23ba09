package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/exaroton/internal/metrics"
)

// Errors
var (
	ErrManagerStopped = errors.New("manager stopped")
	ErrUnknownServer  = errors.New("unknown server")
)

// Manager owns the sessions of several servers and fans their
// notifications into a single channel.
type Manager interface {
	// Open opens a session for every server id that has none yet. Sessions
	// that fail to open are discarded; their errors are joined.
	Open(ctx context.Context, serverIDs ...string) error

	// Session returns the session of serverID.
	Session(serverID string) (Session, bool)

	// Sessions returns all sessions ordered by server id.
	Sessions() []Session

	// Close closes and forgets the session of serverID.
	Close(ctx context.Context, serverID string) error

	// Notifications returns the notifications of every session.
	Notifications() <-chan Notification

	// Stop closes every session. The manager cannot be reused.
	Stop(ctx context.Context) error

	// Stats returns current statistics.
	Stats() ManagerStats
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Session            SessionConfig // Template; ServerID is set per session
	OpenConcurrency    int           // Max sessions opened at once
	NotificationBuffer int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Session:            DefaultSessionConfig(),
		OpenConcurrency:    8,
		NotificationBuffer: 1024,
	}
}

// ManagerStats provides statistics about the manager.
type ManagerStats struct {
	Sessions  int
	Connected int
	Failed    int
	Servers   []SessionStats
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]Session
	stopped  bool

	notifications chan Notification
	wg            sync.WaitGroup // notification forwarders
}

// NewManager creates a new Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger, m *metrics.Metrics) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultManagerConfig()
	if cfg.OpenConcurrency < 1 {
		cfg.OpenConcurrency = def.OpenConcurrency
	}
	if cfg.NotificationBuffer < 1 {
		cfg.NotificationBuffer = def.NotificationBuffer
	}

	return &manager{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		sessions:      make(map[string]Session),
		notifications: make(chan Notification, cfg.NotificationBuffer),
	}
}

// Open opens sessions concurrently, at most OpenConcurrency at a time.
func (m *manager) Open(ctx context.Context, serverIDs ...string) error {
	m.mu.RLock()
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return ErrManagerStopped
	}

	var (
		errMu sync.Mutex
		errs  []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.OpenConcurrency)

	for _, id := range serverIDs {
		if id == "" {
			errMu.Lock()
			errs = append(errs, fmt.Errorf("open: %w", ErrUnknownServer))
			errMu.Unlock()
			continue
		}
		if _, ok := m.Session(id); ok {
			continue
		}

		g.Go(func() error {
			if err := m.open(ctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("open %s: %w", id, err))
				errMu.Unlock()
			}
			// Other servers keep opening.
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

func (m *manager) open(ctx context.Context, serverID string) error {
	cfg := m.cfg.Session
	cfg.ServerID = serverID

	s := NewSession(cfg, m.logger, WithMetrics(m.metrics))
	if err := s.Open(ctx); err != nil {
		s.Close(context.Background())
		return err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		s.Close(context.Background())
		return ErrManagerStopped
	}
	if _, exists := m.sessions[serverID]; exists {
		m.mu.Unlock()
		s.Close(context.Background())
		return nil
	}
	m.sessions[serverID] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go m.forward(s)
	return nil
}

// forward copies one session's notifications until the session closes.
func (m *manager) forward(s Session) {
	defer m.wg.Done()
	for n := range s.Notifications() {
		select {
		case m.notifications <- n:
		default:
			m.logger.Debug("manager notification channel full, dropping",
				"server_id", n.ServerID,
				"kind", n.Kind.String(),
			)
		}
	}
}

func (m *manager) Session(serverID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[serverID]
	return s, ok
}

func (m *manager) Sessions() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServerID() < out[j].ServerID() })
	return out
}

func (m *manager) Close(ctx context.Context, serverID string) error {
	m.mu.Lock()
	s, ok := m.sessions[serverID]
	delete(m.sessions, serverID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	return s.Close(ctx)
}

func (m *manager) Notifications() <-chan Notification {
	return m.notifications
}

// Stop closes every session and then the notifications channel.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	m.logger.Info("stopping session manager", "sessions", len(sessions))

	var (
		errMu sync.Mutex
		errs  []error
		wg    sync.WaitGroup
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s Session) {
			defer wg.Done()
			if err := s.Close(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", s.ServerID(), err))
				errMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	// Forwarders exit once their session's channel is closed.
	m.wg.Wait()
	close(m.notifications)

	m.logger.Info("session manager stopped")
	return errors.Join(errs...)
}

func (m *manager) Stats() ManagerStats {
	sessions := m.Sessions()
	stats := ManagerStats{
		Sessions: len(sessions),
		Servers:  make([]SessionStats, 0, len(sessions)),
	}
	for _, s := range sessions {
		switch s.State() {
		case StateConnected:
			stats.Connected++
		case StateFailed:
			stats.Failed++
		}
		stats.Servers = append(stats.Servers, s.Stats())
	}
	return stats
}
