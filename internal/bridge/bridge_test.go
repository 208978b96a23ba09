package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/exaroton/internal/protocol"
)

var errLost = errors.New("connection lost")

func waitResult(t *testing.T, call *Call) (protocol.RequestAck, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ack, err := call.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("call %s was never resolved", call.ID)
	}
	return ack, err
}

func TestBridge_ResolveAck(t *testing.T) {
	b := New(nil)

	call, err := b.Register("", time.Second)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if call.ID == "" {
		t.Fatal("Register returned empty id")
	}
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}

	if !b.Resolve(call.ID, protocol.RequestAck{ID: call.ID, Stream: "console"}) {
		t.Fatal("Resolve returned false for pending id")
	}

	ack, err := waitResult(t, call)
	if err != nil {
		t.Fatalf("Wait error = %v", err)
	}
	if ack.ID != call.ID || ack.Stream != "console" {
		t.Errorf("ack = %+v", ack)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
}

func TestBridge_ResolveError(t *testing.T) {
	b := New(nil)
	call, _ := b.Register("", time.Second)

	b.Resolve(call.ID, protocol.RequestError{ID: call.ID, Code: "offline", Message: "server is offline"})

	_, err := waitResult(t, call)
	var rejected *protocol.RequestError
	if !errors.As(err, &rejected) {
		t.Fatalf("Wait error = %v, want *protocol.RequestError", err)
	}
	if rejected.Code != "offline" {
		t.Errorf("Code = %q, want offline", rejected.Code)
	}
}

func TestBridge_LateResponseDiscarded(t *testing.T) {
	b := New(nil)
	call, _ := b.Register("", time.Second)

	b.Resolve(call.ID, protocol.RequestAck{ID: call.ID})
	if b.Resolve(call.ID, protocol.RequestError{ID: call.ID, Message: "late"}) {
		t.Error("second Resolve returned true")
	}

	if _, err := waitResult(t, call); err != nil {
		t.Errorf("Wait error = %v, want first response to win", err)
	}
}

func TestBridge_ResolveIgnoresOtherEvents(t *testing.T) {
	b := New(nil)
	call, _ := b.Register("", time.Second)

	if b.Resolve(call.ID, protocol.ConsoleLine{Line: "x"}) {
		t.Error("Resolve accepted a console line")
	}
	if b.Resolve("unknown", protocol.RequestAck{}) {
		t.Error("Resolve accepted an unknown id")
	}
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}
}

func TestBridge_Timeout(t *testing.T) {
	b := New(nil)
	call, _ := b.Register("", 20*time.Millisecond)

	_, err := waitResult(t, call)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait error = %v, want ErrTimeout", err)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after timeout", b.Pending())
	}
	if b.Resolve(call.ID, protocol.RequestAck{ID: call.ID}) {
		t.Error("Resolve after timeout returned true")
	}
}

func TestBridge_WaitContextCancelled(t *testing.T) {
	b := New(nil)
	call, _ := b.Register("", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := call.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait error = %v, want context.Canceled", err)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
}

func TestBridge_FailAll(t *testing.T) {
	b := New(nil)

	calls := make([]*Call, 3)
	for i := range calls {
		calls[i], _ = b.Register("", time.Minute)
	}

	if n := b.FailAll(errLost); n != 3 {
		t.Errorf("FailAll() = %d, want 3", n)
	}

	for i, call := range calls {
		if _, err := waitResult(t, call); !errors.Is(err, errLost) {
			t.Errorf("call %d error = %v, want errLost", i, err)
		}
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
}

func TestBridge_FailTag(t *testing.T) {
	b := New(nil)

	console, _ := b.Register("srv1/console", time.Minute)
	stats, _ := b.Register("srv1/stats", time.Minute)

	if n := b.FailTag("srv1/console", errLost); n != 1 {
		t.Errorf("FailTag() = %d, want 1", n)
	}
	if _, err := waitResult(t, console); !errors.Is(err, errLost) {
		t.Errorf("console call error = %v, want errLost", err)
	}

	select {
	case <-stats.Done():
		t.Error("call with another tag was resolved")
	default:
	}
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}
}

func TestBridge_ResolveTag(t *testing.T) {
	b := New(nil)

	console, _ := b.Register("srv1/console", time.Minute)
	other, _ := b.Register("srv1/tick", time.Minute)

	if n := b.ResolveTag("srv1/console", protocol.RequestAck{Stream: "console"}); n != 1 {
		t.Errorf("ResolveTag() = %d, want 1", n)
	}
	ack, err := waitResult(t, console)
	if err != nil {
		t.Fatalf("console call error = %v, want nil", err)
	}
	if ack.ID != console.ID || ack.Stream != "console" {
		t.Errorf("ack = %+v, want id %s on console", ack, console.ID)
	}

	if n := b.ResolveTag("srv1/console", protocol.RequestAck{}); n != 0 {
		t.Errorf("second ResolveTag() = %d, want 0", n)
	}
	select {
	case <-other.Done():
		t.Error("call with another tag was resolved")
	default:
	}
}

func TestBridge_IDCollision(t *testing.T) {
	ids := []string{"a", "a", "b", "b", "b", "b"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}

	b := New(nil, WithIDGenerator(next))

	first, err := b.Register("", 0)
	if err != nil || first.ID != "a" {
		t.Fatalf("first Register = %v, %v", first, err)
	}

	// "a" is taken, so the generator is asked again.
	second, err := b.Register("", 0)
	if err != nil || second.ID != "b" {
		t.Fatalf("second Register = %v, %v", second, err)
	}

	if _, err := b.Register("", 0); !errors.Is(err, ErrIDCollision) {
		t.Errorf("third Register error = %v, want ErrIDCollision", err)
	}
}

func TestBridge_Close(t *testing.T) {
	b := New(nil)
	call, _ := b.Register("", 0)

	b.Close(errLost)

	if _, err := waitResult(t, call); !errors.Is(err, errLost) {
		t.Errorf("Wait error = %v, want errLost", err)
	}
	if _, err := b.Register("", 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after Close error = %v, want ErrClosed", err)
	}
}

func TestBridge_UniqueIDs(t *testing.T) {
	b := New(nil)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		call, err := b.Register("", 0)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if seen[call.ID] {
			t.Fatalf("duplicate id %s", call.ID)
		}
		seen[call.ID] = true
	}
	b.FailAll(errLost)
}
