package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/exaroton/internal/metrics"
	"github.com/rickgao/exaroton/internal/model"
	"github.com/rickgao/exaroton/internal/protocol"
)

// Tables
const (
	TableStatus  = "server_status"
	TableConsole = "console_lines"
	TableStats   = "server_stats"
)

// Status sources
const (
	SourceStream = "stream"
	SourcePoll   = "poll"
)

// BatchSender sends a batch of queries. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Stats tracks recorder activity.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Skipped   int64 // events of channels that are not recorded
}

// row is one pending insert.
type row struct {
	table string
	sql   string
	args  []any
}

// Recorder batches events and writes them to the database.
type Recorder struct {
	cfg     Config
	db      BatchSender
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Batching
	batch   []row
	batchMu sync.Mutex
	seq     atomic.Int64 // disambiguates console lines within one microsecond

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// New creates a Recorder. m may be nil.
func New(cfg Config, db BatchSender, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	return &Recorder{
		cfg:     cfg,
		db:      db,
		metrics: m,
		logger:  logger,
		batch:   make([]row, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop stops the periodic flush and writes what is pending.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush
	r.flush(ctx)

	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.stats
}

// Pending returns the number of rows waiting to be flushed.
func (r *Recorder) Pending() int {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return len(r.batch)
}

// HandleEvent records status, console and stats events. Other events are
// counted and ignored.
func (r *Recorder) HandleEvent(ctx context.Context, ev protocol.Event) error {
	rw, ok := r.transform(ev)
	if !ok {
		r.batchMu.Lock()
		r.stats.Skipped++
		r.batchMu.Unlock()
		return nil
	}
	r.add(ctx, rw)
	return nil
}

// HandleStatus records a status fetched over REST.
func (r *Recorder) HandleStatus(ctx context.Context, server model.Server, at time.Time) error {
	r.add(ctx, statusRow(server, at, SourcePoll))
	return nil
}

func (r *Recorder) add(ctx context.Context, rw row) {
	r.batchMu.Lock()
	r.batch = append(r.batch, rw)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(ctx)
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush(r.ctx)
		}
	}
}

// transform converts an event into a row.
func (r *Recorder) transform(ev protocol.Event) (row, bool) {
	switch e := ev.(type) {
	case protocol.StatusChanged:
		return statusRow(e.State, e.Received(), SourceStream), true

	case protocol.ConsoleLine:
		return row{
			table: TableConsole,
			sql: `INSERT INTO console_lines (received_at, server_id, seq, line)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (server_id, received_at, seq) DO NOTHING`,
			args: []any{e.Received().UnixMicro(), e.ServerID(), r.seq.Add(1), e.Line},
		}, true

	case protocol.StatsUpdate:
		return row{
			table: TableStats,
			sql: `INSERT INTO server_stats (received_at, server_id, memory_percent, memory_usage)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (server_id, received_at) DO NOTHING`,
			args: []any{e.Received().UnixMicro(), e.ServerID(), e.MemoryPercent, e.MemoryUsage},
		}, true
	}
	return row{}, false
}

func statusRow(s model.Server, at time.Time, source string) row {
	return row{
		table: TableStatus,
		sql: `INSERT INTO server_status (received_at, server_id, status, players, max_players, source)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (server_id, received_at, source) DO NOTHING`,
		args: []any{at.UnixMicro(), s.ID, int16(s.Status), s.Players.Count, s.Players.Max, source},
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]row, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	inserted, conflicts, err := r.batchInsert(ctx, batch)
	r.metrics.Flush(err)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.stats.Errors++
		r.batchMu.Unlock()
		return
	}

	for table, n := range inserted {
		r.metrics.RowsWritten(table, n)
	}

	total := 0
	for _, n := range inserted {
		total += n
	}

	r.batchMu.Lock()
	r.stats.Inserts += int64(total)
	r.stats.Conflicts += int64(conflicts)
	r.stats.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends rows in one pgx.Batch and counts inserted rows per table.
func (r *Recorder) batchInsert(ctx context.Context, rows []row) (inserted map[string]int, conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, rw := range rows {
		batch.Queue(rw.sql, rw.args...)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted = make(map[string]int, 3)
	for _, rw := range rows {
		ct, err := results.Exec()
		if err != nil {
			return nil, 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
			continue
		}
		inserted[rw.table]++
	}

	return inserted, conflicts, nil
}
