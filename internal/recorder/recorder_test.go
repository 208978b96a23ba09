package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/exaroton/internal/metrics"
	"github.com/rickgao/exaroton/internal/model"
	"github.com/rickgao/exaroton/internal/protocol"
)

// fakeDB records every batch it receives.
type fakeDB struct {
	mu       sync.Mutex
	batches  [][]*pgx.QueuedQuery
	err      error
	conflict func(sql string) bool
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{queries: b.QueuedQueries, err: f.err, conflict: f.conflict}
}

func (f *fakeDB) queries() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*pgx.QueuedQuery
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeResults struct {
	queries  []*pgx.QueuedQuery
	next     int
	err      error
	conflict func(sql string) bool
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	q := r.queries[r.next]
	r.next++
	if r.conflict != nil && r.conflict(q.SQL) {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

var receivedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func meta() protocol.Meta {
	return protocol.Meta{Server: "srv1", ReceivedAt: receivedAt}
}

func TestRecorder_Transform(t *testing.T) {
	r := New(DefaultConfig(), &fakeDB{}, nil, nil)

	status := protocol.StatusChanged{
		Meta: meta(),
		State: model.Server{
			ID:      "srv1",
			Status:  model.StatusOnline,
			Players: model.ServerPlayers{Max: 20, Count: 3},
		},
	}
	rw, ok := r.transform(status)
	if !ok {
		t.Fatal("status should be recorded")
	}
	if rw.table != TableStatus {
		t.Errorf("table = %s, want %s", rw.table, TableStatus)
	}
	wantArgs := []any{receivedAt.UnixMicro(), "srv1", int16(1), 3, 20, SourceStream}
	for i, want := range wantArgs {
		if rw.args[i] != want {
			t.Errorf("args[%d] = %v, want %v", i, rw.args[i], want)
		}
	}

	line := protocol.ConsoleLine{Meta: meta(), Line: "Done (3.1s)!"}
	first, _ := r.transform(line)
	second, _ := r.transform(line)
	if first.table != TableConsole || first.args[3] != "Done (3.1s)!" {
		t.Errorf("console row = %+v", first)
	}
	if first.args[2] == second.args[2] {
		t.Error("console lines in the same microsecond should get distinct seq values")
	}

	stats := protocol.StatsUpdate{Meta: meta(), MemoryPercent: 42.5, MemoryUsage: 1 << 30}
	rw, _ = r.transform(stats)
	if rw.table != TableStats || rw.args[2] != 42.5 || rw.args[3] != int64(1<<30) {
		t.Errorf("stats row = %+v", rw)
	}

	if _, ok := r.transform(protocol.TickUpdate{Meta: meta(), AverageTickTime: 50}); ok {
		t.Error("tick updates should not be recorded")
	}
}

func TestRecorder_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	r := New(Config{BatchSize: 3, FlushInterval: time.Hour}, db, nil, nil)

	for i := 0; i < 7; i++ {
		r.HandleEvent(context.Background(), protocol.ConsoleLine{Meta: meta(), Line: "line"})
	}

	if n := db.batchCount(); n != 2 {
		t.Errorf("batches = %d, want 2", n)
	}
	if n := r.Pending(); n != 1 {
		t.Errorf("Pending() = %d, want 1", n)
	}
	if s := r.Stats(); s.Inserts != 6 || s.Flushes != 2 {
		t.Errorf("Stats() = %+v, want 6 inserts in 2 flushes", s)
	}
}

func TestRecorder_FlushOnInterval(t *testing.T) {
	db := &fakeDB{}
	r := New(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, db, nil, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	r.HandleEvent(context.Background(), protocol.StatsUpdate{Meta: meta(), MemoryPercent: 1})

	deadline := time.Now().Add(2 * time.Second)
	for db.batchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecorder_StopFlushesPending(t *testing.T) {
	db := &fakeDB{}
	r := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, nil)
	r.Start(context.Background())

	r.HandleEvent(context.Background(), protocol.ConsoleLine{Meta: meta(), Line: "a"})
	r.HandleStatus(context.Background(), model.Server{ID: "srv1", Status: model.StatusOffline}, receivedAt)

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	queries := db.queries()
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(queries))
	}
	if !strings.Contains(queries[1].SQL, "INSERT INTO server_status") {
		t.Errorf("second query = %q, want server_status insert", queries[1].SQL)
	}
	if src := queries[1].Arguments[5]; src != SourcePoll {
		t.Errorf("source = %v, want %s", src, SourcePoll)
	}
}

func TestRecorder_CountsConflicts(t *testing.T) {
	db := &fakeDB{conflict: func(sql string) bool { return strings.Contains(sql, "server_stats") }}
	r := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, nil)

	r.HandleEvent(context.Background(), protocol.StatsUpdate{Meta: meta()})
	r.HandleEvent(context.Background(), protocol.ConsoleLine{Meta: meta(), Line: "x"})
	r.flush(context.Background())

	s := r.Stats()
	if s.Inserts != 1 || s.Conflicts != 1 {
		t.Errorf("Stats() = %+v, want 1 insert and 1 conflict", s)
	}
}

func TestRecorder_InsertErrorDropsBatch(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	m := metrics.New()
	r := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, m, nil)

	r.HandleEvent(context.Background(), protocol.ConsoleLine{Meta: meta(), Line: "x"})
	r.flush(context.Background())

	s := r.Stats()
	if s.Errors != 1 || s.Inserts != 0 {
		t.Errorf("Stats() = %+v, want 1 error", s)
	}
	if n := r.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0 after failed flush", n)
	}
}

func TestRecorder_SkipsOtherEvents(t *testing.T) {
	db := &fakeDB{}
	r := New(DefaultConfig(), db, nil, nil)

	r.HandleEvent(context.Background(), protocol.HeapUpdate{Meta: meta(), Usage: 1})
	r.HandleEvent(context.Background(), protocol.DroppedEvents{Meta: meta(), Count: 3})

	if s := r.Stats(); s.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", s.Skipped)
	}
	if n := r.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestRecorder_ConcurrentHandlers(t *testing.T) {
	db := &fakeDB{}
	r := New(Config{BatchSize: 10, FlushInterval: time.Hour}, db, nil, nil)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				r.HandleEvent(context.Background(), protocol.ConsoleLine{Meta: meta(), Line: "x"})
			}
		}()
	}
	wg.Wait()
	r.flush(context.Background())

	if n := len(db.queries()); n != 100 {
		t.Errorf("queries = %d, want 100", n)
	}
}
