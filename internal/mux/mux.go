package mux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/exaroton/internal/protocol"
)

// Mux routes events to the listeners registered for their key.
type Mux interface {
	// Subscribe registers listener under (key, listenerID). It is idempotent
	// per (key, listenerID): a second call keeps the first listener. Reports
	// whether key had no listeners before.
	Subscribe(key Key, listenerID string, listener Listener) (created bool, err error)

	// Unsubscribe removes (key, listenerID). Unknown pairs are a no-op.
	// Reports whether key lost its last listener.
	Unsubscribe(key Key, listenerID string) (removed bool)

	// UnsubscribeAll removes every listener of key.
	UnsubscribeAll(key Key) (removed bool)

	// Dispatch queues ev for every listener registered under its key at the
	// time of the call. Returns the number of listeners it was queued for.
	Dispatch(ev protocol.Event) int

	// Keys returns the keys with at least one listener for serverID, or for
	// every server when serverID is empty.
	Keys(serverID string) []Key

	// Listeners returns the number of listeners registered under key.
	Listeners(key Key) int

	// Close removes all listeners and waits for delivery goroutines to exit
	// or ctx to be done. It must not be called from a listener.
	Close(ctx context.Context) error

	// Stats returns current statistics.
	Stats() Stats
}

// subscription holds the listeners of one key in registration order.
type subscription struct {
	key       Key
	listeners []*listenerState
}

// listenerState is one registered listener and its delivery queue.
type listenerState struct {
	id       string
	key      Key
	listener Listener
	buf      *RingBuffer[protocol.Event]
	removed  atomic.Bool
}

// mux implements the Mux interface.
type mux struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	subs   map[Key]*subscription
	closed bool

	dispatched atomic.Int64
	unrouted   atomic.Int64
	dropped    atomic.Int64
}

// New creates a multiplexer.
func New(cfg Config, logger *slog.Logger) Mux {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &mux{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[Key]*subscription),
	}
}

// Subscribe registers a listener.
func (m *mux) Subscribe(key Key, listenerID string, listener Listener) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if listenerID == "" {
		return false, ErrEmptyListenerID
	}
	if listener == nil {
		return false, ErrNilListener
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}

	sub, exists := m.subs[key]
	if !exists {
		sub = &subscription{key: key}
		m.subs[key] = sub
	}

	for _, ls := range sub.listeners {
		if ls.id == listenerID {
			return false, nil
		}
	}

	ls := &listenerState{
		id:       listenerID,
		key:      key,
		listener: listener,
		buf:      NewRingBuffer[protocol.Event](m.cfg.BufferSize),
	}
	sub.listeners = append(sub.listeners, ls)

	m.wg.Add(1)
	go m.deliverLoop(ls)

	m.logger.Debug("listener subscribed",
		"key", key.String(),
		"listener", listenerID,
		"new_key", !exists,
	)

	return !exists, nil
}

// Unsubscribe removes a listener.
func (m *mux) Unsubscribe(key Key, listenerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok {
		return false
	}

	for i, ls := range sub.listeners {
		if ls.id != listenerID {
			continue
		}
		ls.stop()
		sub.listeners = append(sub.listeners[:i], sub.listeners[i+1:]...)
		break
	}

	if len(sub.listeners) > 0 {
		return false
	}

	delete(m.subs, key)
	m.logger.Debug("subscription removed", "key", key.String())
	return true
}

// UnsubscribeAll removes every listener of key.
func (m *mux) UnsubscribeAll(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok {
		return false
	}

	for _, ls := range sub.listeners {
		ls.stop()
	}
	delete(m.subs, key)
	return true
}

// Dispatch queues ev for the listeners of its key.
func (m *mux) Dispatch(ev protocol.Event) int {
	key := KeyOf(ev)
	if key.Channel == "" {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[key]
	if !ok || len(sub.listeners) == 0 {
		m.unrouted.Add(1)
		return 0
	}

	n := 0
	for _, ls := range sub.listeners {
		if ls.buf.Send(ev) {
			n++
		}
	}
	m.dispatched.Add(1)
	return n
}

// Keys lists the active keys of a server.
func (m *mux) Keys(serverID string) []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.subs))
	for key := range m.subs {
		if serverID == "" || key.ServerID == serverID {
			keys = append(keys, key)
		}
	}
	return keys
}

// Listeners returns the listener count of key.
func (m *mux) Listeners(key Key) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sub, ok := m.subs[key]; ok {
		return len(sub.listeners)
	}
	return 0
}

// Close removes all listeners and waits for their goroutines.
func (m *mux) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for key, sub := range m.subs {
		for _, ls := range sub.listeners {
			ls.stop()
		}
		delete(m.subs, key)
	}
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("multiplexer close timed out waiting for listeners")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (m *mux) Stats() Stats {
	m.mu.RLock()
	keys := len(m.subs)
	listeners := 0
	for _, sub := range m.subs {
		listeners += len(sub.listeners)
	}
	m.mu.RUnlock()

	return Stats{
		Keys:       keys,
		Listeners:  listeners,
		Dispatched: m.dispatched.Load(),
		Unrouted:   m.unrouted.Load(),
		Dropped:    m.dropped.Load(),
	}
}

// deliverLoop drains one listener's buffer until it is removed.
func (m *mux) deliverLoop(ls *listenerState) {
	defer m.wg.Done()

	for {
		ev, dropped, ok := ls.buf.Receive()
		if !ok || ls.removed.Load() {
			return
		}

		if dropped > 0 {
			m.dropped.Add(int64(dropped))
			notice := protocol.DroppedEvents{
				Meta:  protocol.Meta{Server: ls.key.ServerID, ReceivedAt: ev.Received()},
				Chan:  ls.key.Channel,
				Count: dropped,
			}
			m.logger.Warn("listener fell behind, events dropped",
				"key", ls.key.String(),
				"listener", ls.id,
				"dropped", dropped,
			)
			if m.cfg.OnDrop != nil {
				m.cfg.OnDrop(ls.key, ls.id, dropped)
			}
			m.deliver(ls, notice)
			if ls.removed.Load() {
				return
			}
		}

		m.deliver(ls, ev)
	}
}

// deliver calls the listener, converting errors and panics into OnError
// reports.
func (m *mux) deliver(ls *listenerState, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.report(ls, fmt.Errorf("%w: %v", ErrListenerPanic, r))
		}
	}()

	if err := ls.listener.HandleEvent(m.ctx, ev); err != nil {
		m.report(ls, err)
	}
}

func (m *mux) report(ls *listenerState, err error) {
	m.logger.Warn("listener failed",
		"key", ls.key.String(),
		"listener", ls.id,
		"error", err,
	)
	if m.cfg.OnError != nil {
		m.cfg.OnError(ls.key, ls.id, err)
	}
}

// stop marks the listener removed and releases its delivery goroutine.
// Must be called with the mux lock held.
func (ls *listenerState) stop() {
	ls.removed.Store(true)
	ls.buf.Close()
}
