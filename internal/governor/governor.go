package governor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Errors
var (
	ErrOverloaded = errors.New("outbound queue full")
	ErrClosed     = errors.New("governor closed")
)

// SendFunc writes one frame to the connection.
type SendFunc func(frame []byte) error

// DoneFunc receives the outcome of a submitted frame. It may be nil.
type DoneFunc func(err error)

// Config configures the governor.
type Config struct {
	Rate      float64 // Frames per second; <= 0 disables pacing
	Burst     int     // Token bucket size
	QueueSize int     // Max frames waiting to be sent
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Rate:      10,
		Burst:     5,
		QueueSize: 100,
	}
}

// Governor releases queued frames at a bounded rate.
type Governor interface {
	// Start begins the sender goroutine.
	Start(ctx context.Context) error

	// Stop fails queued frames with ErrClosed and waits for the sender.
	Stop(ctx context.Context) error

	// Submit queues frame for sending. done is called exactly once with the
	// send result. Returns ErrOverloaded without queueing when full.
	Submit(frame []byte, done DoneFunc) error

	// Reset fails every queued frame, and the one waiting for a token, with
	// err. Returns the number of frames failed.
	Reset(err error) int

	// Drain blocks until no frame is queued or in flight, or ctx is done.
	Drain(ctx context.Context) error

	// Len returns the number of frames queued or in flight.
	Len() int

	// Stats returns current statistics.
	Stats() Stats
}

// Stats contains runtime statistics.
type Stats struct {
	Queued   int
	Sent     int64
	Failed   int64
	Rejected int64
}

type item struct {
	frame []byte
	done  DoneFunc
	gen   uint64
}

// governor implements the Governor interface.
type governor struct {
	cfg     Config
	send    SendFunc
	limiter *rate.Limiter
	logger  *slog.Logger

	queue chan item

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	gen      uint64 // bumped by Reset; stale items are failed with resetErr
	resetErr error
	stopped  bool

	outstanding atomic.Int64
	sent        atomic.Int64
	failed      atomic.Int64
	rejected    atomic.Int64
}

// New creates a governor that writes frames with send.
func New(cfg Config, send SendFunc, logger *slog.Logger) Governor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	return &governor{
		cfg:     cfg,
		send:    send,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
		queue:   make(chan item, cfg.QueueSize),
	}
}

// Start begins the sender goroutine.
func (g *governor) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)

	g.wg.Add(1)
	go g.sendLoop()

	g.logger.Debug("governor started",
		"rate", g.cfg.Rate,
		"burst", g.cfg.Burst,
		"queue_size", g.cfg.QueueSize,
	)
	return nil
}

// Stop shuts the sender down.
func (g *governor) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	g.mu.Unlock()

	g.Reset(ErrClosed)

	if g.cancel != nil {
		g.cancel()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.logger.Warn("governor stop timed out")
		return ctx.Err()
	}
}

// Submit queues a frame.
func (g *governor) Submit(frame []byte, done DoneFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return ErrClosed
	}

	it := item{frame: frame, done: done, gen: g.gen}
	g.outstanding.Add(1)
	select {
	case g.queue <- it:
		return nil
	default:
		g.outstanding.Add(-1)
		g.rejected.Add(1)
		return ErrOverloaded
	}
}

// Reset fails queued frames.
func (g *governor) Reset(err error) int {
	g.mu.Lock()
	g.gen++
	g.resetErr = err

	var drained []item
drain:
	for {
		select {
		case it := <-g.queue:
			drained = append(drained, it)
		default:
			break drain
		}
	}
	g.mu.Unlock()

	for _, it := range drained {
		g.finish(it, err)
	}

	if len(drained) > 0 {
		g.logger.Debug("outbound queue reset", "failed", len(drained), "error", err)
	}
	return len(drained)
}

// Drain waits for the queue to empty.
func (g *governor) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for g.outstanding.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Len returns frames queued or in flight.
func (g *governor) Len() int {
	return int(g.outstanding.Load())
}

// Stats returns current statistics.
func (g *governor) Stats() Stats {
	return Stats{
		Queued:   g.Len(),
		Sent:     g.sent.Load(),
		Failed:   g.failed.Load(),
		Rejected: g.rejected.Load(),
	}
}

// sendLoop releases frames as tokens become available.
func (g *governor) sendLoop() {
	defer g.wg.Done()

	for {
		var it item
		select {
		case <-g.ctx.Done():
			return
		case it = <-g.queue:
		}

		if err := g.limiter.Wait(g.ctx); err != nil {
			g.finish(it, ErrClosed)
			return
		}

		if stale, err := g.resetSince(it); stale {
			g.finish(it, err)
			continue
		}

		g.finish(it, g.send(it.frame))
	}
}

// resetSince reports whether a Reset happened after it was queued, and
// the error that Reset failed the queue with.
func (g *governor) resetSince(it item) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if it.gen != g.gen {
		return true, g.resetErr
	}
	return false, nil
}

func (g *governor) finish(it item, err error) {
	if err != nil {
		g.failed.Add(1)
	} else {
		g.sent.Add(1)
	}
	g.outstanding.Add(-1)
	if it.done != nil {
		it.done(err)
	}
}
