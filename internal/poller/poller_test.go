package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/exaroton/internal/api"
	"github.com/rickgao/exaroton/internal/auth"
	"github.com/rickgao/exaroton/internal/model"
)

// fakeFetcher returns a status per id and tracks concurrency.
type fakeFetcher struct {
	delay    time.Duration
	fail     map[string]bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (f *fakeFetcher) Server(ctx context.Context, id string) (*model.Server, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxSeen.Load()
		if n <= peak || f.maxSeen.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if f.fail[id] {
		return nil, fmt.Errorf("server %s unavailable", id)
	}
	return &model.Server{ID: id, Status: model.StatusOnline}, nil
}

func TestPoller_PollAll(t *testing.T) {
	// The real client against a fake API.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/servers/"), "/")
		fmt.Fprintf(w, `{"success":true,"data":{"id":%q,"name":"test","status":1,"players":{"max":10,"count":2}}}`, id)
	}))
	defer server.Close()

	client := api.NewClient(server.URL, &auth.Credentials{Token: "t"}, api.WithTimeout(5*time.Second))

	var mu sync.Mutex
	got := map[string]model.Server{}
	handler := StatusHandlerFunc(func(_ context.Context, s model.Server, _ time.Time) error {
		mu.Lock()
		got[s.ID] = s
		mu.Unlock()
		return nil
	})

	p := New(Config{Interval: time.Hour, Concurrency: 2}, client, StaticServers{"a", "b", "c"}, handler, nil, nil)

	stats := p.PollAll(context.Background())
	if stats.Servers != 3 || stats.Fetched != 3 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want 3 fetched", stats)
	}
	if len(got) != 3 || got["b"].Players.Count != 2 {
		t.Errorf("handled = %+v", got)
	}
	if last, ok := p.Last("c"); !ok || last.Status != model.StatusOnline {
		t.Errorf("Last(c) = %+v, %v", last, ok)
	}
}

func TestPoller_BoundedConcurrency(t *testing.T) {
	f := &fakeFetcher{delay: 20 * time.Millisecond}
	ids := StaticServers{"a", "b", "c", "d", "e", "f", "g", "h"}
	p := New(Config{Interval: time.Hour, Concurrency: 3}, f, ids, nil, nil, nil)

	p.PollAll(context.Background())

	if n := f.calls.Load(); n != int32(len(ids)) {
		t.Errorf("calls = %d, want %d", n, len(ids))
	}
	if peak := f.maxSeen.Load(); peak > 3 {
		t.Errorf("max concurrent requests = %d, want <= 3", peak)
	}
}

func TestPoller_ErrorsDoNotStopCycle(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"b": true}}
	p := New(Config{Interval: time.Hour, Concurrency: 1}, f, StaticServers{"a", "b", "c"}, nil, nil, nil)

	stats := p.PollAll(context.Background())
	if stats.Fetched != 2 || stats.Errors != 1 {
		t.Errorf("stats = %+v, want 2 fetched and 1 error", stats)
	}
	if _, ok := p.Last("b"); ok {
		t.Error("failed server should have no last status")
	}
}

func TestPoller_HandlerError(t *testing.T) {
	f := &fakeFetcher{}
	handler := StatusHandlerFunc(func(context.Context, model.Server, time.Time) error {
		return errors.New("db down")
	})
	p := New(Config{Interval: time.Hour}, f, StaticServers{"a"}, handler, nil, nil)

	if stats := p.PollAll(context.Background()); stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
}

func TestPoller_NoServers(t *testing.T) {
	f := &fakeFetcher{}
	p := New(DefaultConfig(), f, StaticServers{}, nil, nil, nil)

	if stats := p.PollAll(context.Background()); stats.Servers != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
	if f.calls.Load() != 0 {
		t.Error("no requests expected")
	}
}

func TestPoller_StartStop(t *testing.T) {
	f := &fakeFetcher{}
	p := New(Config{Interval: 10 * time.Millisecond, Concurrency: 2}, f, StaticServers{"a"}, nil, nil, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not run repeatedly")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
