package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/exaroton/internal/protocol"
)

// Errors
var (
	ErrTimeout     = errors.New("request timeout")
	ErrClosed      = errors.New("bridge closed")
	ErrIDCollision = errors.New("could not allocate unique correlation id")
)

// maxIDAttempts bounds id regeneration on collision.
const maxIDAttempts = 3

// Bridge tracks pending requests by correlation id.
type Bridge interface {
	// Register allocates a correlation id and starts the timeout. A zero
	// timeout waits until resolved or failed. tag groups calls so they can
	// be failed together (e.g. the subscription key a start command is for).
	Register(tag string, timeout time.Duration) (*Call, error)

	// Resolve completes the call with the given id using a RequestAck or
	// RequestError event. Returns false for unknown or already resolved ids.
	Resolve(id string, ev protocol.Event) bool

	// Cancel fails the call with the given id. Returns false if it was
	// already resolved.
	Cancel(id string, err error) bool

	// FailAll fails every pending call and returns how many there were.
	FailAll(err error) int

	// FailTag fails every pending call registered with tag.
	FailTag(tag string, err error) int

	// ResolveTag completes every pending call registered with tag with
	// ack. Used for replies that carry no correlation id.
	ResolveTag(tag string, ack protocol.RequestAck) int

	// Pending returns the number of unresolved calls.
	Pending() int

	// Close fails all pending calls with err and rejects further Register
	// calls.
	Close(err error)
}

// Option configures a bridge.
type Option func(*bridge)

// WithIDGenerator overrides the correlation id source.
func WithIDGenerator(fn func() string) Option {
	return func(b *bridge) {
		b.newID = fn
	}
}

// bridge implements the Bridge interface.
type bridge struct {
	logger *slog.Logger
	newID  func() string

	mu      sync.Mutex
	pending map[string]*Call
	closed  bool
}

// New creates a request/response bridge.
func New(logger *slog.Logger, opts ...Option) Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	b := &bridge{
		logger:  logger,
		newID:   uuid.NewString,
		pending: make(map[string]*Call),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register allocates a new pending call.
func (b *bridge) Register(tag string, timeout time.Duration) (*Call, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	id, err := b.allocateID()
	if err != nil {
		return nil, err
	}

	call := &Call{
		ID:      id,
		Tag:     tag,
		SentAt:  time.Now(),
		Timeout: timeout,
		done:    make(chan struct{}),
		cancel:  b.Cancel,
	}
	b.pending[id] = call

	if timeout > 0 {
		call.timer = time.AfterFunc(timeout, func() {
			if b.finish(id, protocol.RequestAck{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)) {
				b.logger.Debug("request timed out", "id", id, "tag", tag, "timeout", timeout)
			}
		})
	}

	return call, nil
}

// allocateID returns an id not currently pending. Must be called with lock
// held.
func (b *bridge) allocateID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := b.newID()
		if _, taken := b.pending[id]; !taken && id != "" {
			return id, nil
		}
		b.logger.Warn("correlation id collision", "id", id)
	}
	return "", ErrIDCollision
}

// Resolve completes a call from a response event.
func (b *bridge) Resolve(id string, ev protocol.Event) bool {
	switch resp := ev.(type) {
	case protocol.RequestAck:
		return b.finish(id, resp, nil)
	case protocol.RequestError:
		return b.finish(id, protocol.RequestAck{}, &resp)
	}
	return false
}

// Cancel fails one call.
func (b *bridge) Cancel(id string, err error) bool {
	return b.finish(id, protocol.RequestAck{}, err)
}

// FailAll fails every pending call.
func (b *bridge) FailAll(err error) int {
	b.mu.Lock()
	calls := make([]*Call, 0, len(b.pending))
	for id, call := range b.pending {
		calls = append(calls, call)
		delete(b.pending, id)
	}
	b.mu.Unlock()

	for _, call := range calls {
		call.complete(protocol.RequestAck{}, err)
	}
	return len(calls)
}

// FailTag fails the pending calls registered with tag.
func (b *bridge) FailTag(tag string, err error) int {
	calls := b.takeTag(tag)
	for _, call := range calls {
		call.complete(protocol.RequestAck{}, err)
	}
	return len(calls)
}

// ResolveTag acknowledges the pending calls registered with tag.
func (b *bridge) ResolveTag(tag string, ack protocol.RequestAck) int {
	calls := b.takeTag(tag)
	for _, call := range calls {
		ack.ID = call.ID
		call.complete(ack, nil)
	}
	return len(calls)
}

// takeTag removes and returns the pending calls registered with tag.
func (b *bridge) takeTag(tag string) []*Call {
	b.mu.Lock()
	defer b.mu.Unlock()

	var calls []*Call
	for id, call := range b.pending {
		if call.Tag == tag {
			calls = append(calls, call)
			delete(b.pending, id)
		}
	}
	return calls
}

// Pending returns the number of unresolved calls.
func (b *bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close fails pending calls and rejects new ones.
func (b *bridge) Close(err error) {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	if n := b.FailAll(err); n > 0 {
		b.logger.Debug("failed pending requests on close", "count", n)
	}
}

// finish removes id from the pending set and completes its call. The
// removal makes the first caller the only one to complete it.
func (b *bridge) finish(id string, ack protocol.RequestAck, err error) bool {
	b.mu.Lock()
	call, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	call.complete(ack, err)
	return true
}

// Call is a pending request.
type Call struct {
	ID      string
	Tag     string
	SentAt  time.Time
	Timeout time.Duration

	done   chan struct{}
	once   sync.Once
	timer  *time.Timer
	cancel func(id string, err error) bool

	ack protocol.RequestAck
	err error
}

// Done is closed once the call is resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of a resolved call. It must only be called
// after Done is closed.
func (c *Call) Result() (protocol.RequestAck, error) {
	return c.ack, c.err
}

// Wait blocks until the call is resolved or ctx is done. A rejected request
// returns a *protocol.RequestError. When ctx ends first the call is
// cancelled with ctx.Err(), unless a response won the race.
func (c *Call) Wait(ctx context.Context) (protocol.RequestAck, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		c.cancel(c.ID, ctx.Err())
		<-c.done
	}
	return c.ack, c.err
}

func (c *Call) complete(ack protocol.RequestAck, err error) {
	c.once.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.ack = ack
		c.err = err
		close(c.done)
	})
}
