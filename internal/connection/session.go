package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/exaroton/internal/bridge"
	"github.com/rickgao/exaroton/internal/governor"
	"github.com/rickgao/exaroton/internal/metrics"
	"github.com/rickgao/exaroton/internal/model"
	"github.com/rickgao/exaroton/internal/mux"
	"github.com/rickgao/exaroton/internal/protocol"
)

// Session owns the real-time connection to one server. It multiplexes
// subscriptions over that connection, bridges requests to their responses
// and reconnects after failures, replaying active subscriptions.
type Session interface {
	// ServerID returns the server this session is bound to.
	ServerID() string

	// Open connects to the server. A rejected token returns *AuthError,
	// any other connection failure *NetworkError; Open may then be retried.
	Open(ctx context.Context) error

	// Close releases the connection and all listeners. Blocked requests
	// fail with ErrConnectionLost. Calling Close again is a no-op.
	Close(ctx context.Context) error

	// Subscribe registers listener for ch under listenerID. The first
	// listener of a streamed channel sends its start command.
	Subscribe(ctx context.Context, ch protocol.Channel, listenerID string, listener mux.Listener) error

	// Unsubscribe removes a listener. Removing the last listener of a
	// streamed channel sends its stop command. Unknown listeners are a no-op.
	Unsubscribe(ch protocol.Channel, listenerID string) error

	// Request sends cmd and waits for its acknowledgement.
	Request(ctx context.Context, cmd protocol.Command) (protocol.RequestAck, error)

	// Notifications reports state changes, dropped events, protocol and
	// listener errors and terminal failure. It is closed by Close.
	Notifications() <-chan Notification

	// State returns the current session state.
	State() State

	// Done is closed when the session is Closed or Failed.
	Done() <-chan struct{}

	// Err returns the terminal error of a Failed session, nil otherwise.
	Err() error

	// Stats returns a snapshot for diagnostics.
	Stats() SessionStats
}

// NotificationKind classifies a Notification.
type NotificationKind int

const (
	NotifyStateChanged NotificationKind = iota
	NotifyDroppedEvents
	NotifyProtocolError
	NotifyListenerError
	NotifyFailed
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyStateChanged:
		return "state_changed"
	case NotifyDroppedEvents:
		return "dropped_events"
	case NotifyProtocolError:
		return "protocol_error"
	case NotifyListenerError:
		return "listener_error"
	case NotifyFailed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Notification is an out-of-band report about a session.
type Notification struct {
	Kind       NotificationKind
	ServerID   string
	State      State   // NotifyStateChanged, NotifyFailed
	Key        mux.Key // NotifyDroppedEvents, NotifyListenerError
	ListenerID string  // NotifyDroppedEvents, NotifyListenerError
	Count      int     // NotifyDroppedEvents
	Err        error   // NotifyProtocolError, NotifyListenerError, NotifyFailed
	At         time.Time
}

// SessionStats is a diagnostic snapshot of a session.
type SessionStats struct {
	ServerID        string
	State           string
	Phase           string
	Attempt         int
	Subscriptions   []string
	PendingRequests int
	QueueDepth      int
	Dispatched      int64
	Dropped         int64
	LastStatus      *model.Server
	LastFrameAt     time.Time
}

// SessionOption configures a session.
type SessionOption func(*session)

// WithMetrics records session activity in m.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *session) {
		s.metrics = m
	}
}

// session implements the Session interface.
type session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mux    mux.Mux
	bridge bridge.Bridge
	gov    governor.Governor
	recon  *Reconnector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lifeMu sync.Mutex // serialises Open and Close

	mu          sync.RWMutex
	client      Client
	state       State
	err         error
	opened      bool
	released    bool
	lastStatus  *model.Server
	lastFrameAt time.Time

	notifyMu      sync.RWMutex
	notifications chan Notification
	notifyClosed  bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates a session for cfg.ServerID. Call Open to connect.
func NewSession(cfg SessionConfig, logger *slog.Logger, opts ...SessionOption) Session {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSessionConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.NotificationBuffer < 1 {
		cfg.NotificationBuffer = def.NotificationBuffer
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}

	logger = logger.With("server_id", cfg.ServerID)

	s := &session{
		cfg:           cfg,
		logger:        logger,
		notifications: make(chan Notification, cfg.NotificationBuffer),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = mux.New(mux.Config{
		BufferSize: cfg.ListenerBuffer,
		OnError:    s.onListenerError,
		OnDrop:     s.onDrop,
	}, logger)
	s.bridge = bridge.New(logger)
	s.gov = governor.New(cfg.Governor, s.send, logger)
	s.recon = NewReconnector(cfg.Reconnect, s.onTransition)

	return s
}

func (s *session) ServerID() string {
	return s.cfg.ServerID
}

// Open connects and starts the drive goroutine.
func (s *session) Open(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.RLock()
	state, opened := s.state, s.opened
	s.mu.RUnlock()

	if state.Terminal() {
		return ErrSessionClosed
	}
	if opened {
		return nil
	}

	s.setState(StateConnecting)

	client := s.newClient()
	if err := client.Connect(ctx); err != nil {
		s.logger.Warn("connect failed", "error", err)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			s.recon.Fail(err)
			s.fail(err)
			return err
		}
		s.setState(StateDisconnected)
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.gov.Start(s.ctx); err != nil {
		client.Close()
		s.cancel()
		s.setState(StateDisconnected)
		return fmt.Errorf("start governor: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.opened = true
	s.mu.Unlock()

	s.recon.Established()
	s.setState(StateConnected)
	s.replaySubscriptions()

	s.wg.Add(1)
	go s.run(client)

	s.logger.Info("session opened")
	return nil
}

// Close shuts the session down.
func (s *session) Close(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	client := s.client
	s.client = nil
	s.mu.Unlock()

	// A Failed session stays Failed; Close only releases its resources.
	s.setState(StateClosed)

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CloseTimeout)
	defer cancel()

	var errs []error

	s.bridge.Close(ErrConnectionLost)
	if err := s.gov.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop governor: %w", err))
	}
	if client != nil {
		client.Close()
	}

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		s.logger.Warn("session close timed out waiting for drive loop")
		errs = append(errs, ctx.Err())
	}

	if err := s.mux.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close multiplexer: %w", err))
	}

	s.closeDone()

	s.notifyMu.Lock()
	s.notifyClosed = true
	close(s.notifications)
	s.notifyMu.Unlock()

	s.logger.Info("session closed")
	return errors.Join(errs...)
}

// Subscribe registers a listener.
func (s *session) Subscribe(ctx context.Context, ch protocol.Channel, listenerID string, listener mux.Listener) error {
	if s.State().Terminal() {
		return ErrSessionClosed
	}

	key := mux.Key{ServerID: s.cfg.ServerID, Channel: ch}
	created, err := s.mux.Subscribe(key, listenerID, listener)
	if err != nil {
		return err
	}
	if !created || !ch.Streamed() || s.State() != StateConnected {
		// Streams of keys created while disconnected start on (re)connect.
		return nil
	}

	_, err = s.request(ctx, startCommand(ch, s.cfg.ConsoleTail), key.String())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnsubscribed):
		// The listener is already gone.
		return fmt.Errorf("start %s stream: %w", ch, err)
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrConnectionLost):
		// The subscription stays registered and is replayed on reconnect.
		s.logger.Debug("start deferred until reconnect", "channel", ch, "error", err)
		return nil
	}

	s.mux.Unsubscribe(key, listenerID)
	return fmt.Errorf("start %s stream: %w", ch, err)
}

// Unsubscribe removes a listener.
func (s *session) Unsubscribe(ch protocol.Channel, listenerID string) error {
	key := mux.Key{ServerID: s.cfg.ServerID, Channel: ch}
	if !s.mux.Unsubscribe(key, listenerID) || s.mux.Listeners(key) > 0 {
		return nil
	}

	s.bridge.FailTag(key.String(), ErrUnsubscribed)

	if !ch.Streamed() || s.State() != StateConnected {
		return nil
	}

	frame, err := protocol.Encode(protocol.StopStream(ch), "")
	if err != nil {
		return err
	}
	if err := s.gov.Submit(frame, s.untracked("stop", ch)); err != nil {
		return fmt.Errorf("stop %s stream: %w", ch, err)
	}
	return nil
}

// Request sends a command and waits for the response.
func (s *session) Request(ctx context.Context, cmd protocol.Command) (protocol.RequestAck, error) {
	return s.request(ctx, cmd, "")
}

func (s *session) request(ctx context.Context, cmd protocol.Command, tag string) (protocol.RequestAck, error) {
	switch state := s.State(); {
	case state.Terminal():
		return protocol.RequestAck{}, ErrSessionClosed
	case state != StateConnected:
		return protocol.RequestAck{}, ErrNotConnected
	}

	if err := cmd.Validate(); err != nil {
		return protocol.RequestAck{}, err
	}

	call, err := s.bridge.Register(tag, s.cfg.RequestTimeout)
	if err != nil {
		return protocol.RequestAck{}, err
	}
	s.metrics.SetPending(s.cfg.ServerID, s.bridge.Pending())

	frame, err := protocol.Encode(cmd, call.ID)
	if err != nil {
		s.bridge.Cancel(call.ID, err)
		return protocol.RequestAck{}, err
	}

	err = s.gov.Submit(frame, func(err error) {
		if err != nil {
			s.bridge.Cancel(call.ID, err)
		}
	})
	if err != nil {
		s.bridge.Cancel(call.ID, err)
		s.metrics.RequestDone(s.cfg.ServerID, metrics.OutcomeError, 0)
		return protocol.RequestAck{}, err
	}
	s.metrics.SetQueueDepth(s.cfg.ServerID, s.gov.Len())

	ack, err := call.Wait(ctx)
	s.metrics.RequestDone(s.cfg.ServerID, outcome(err), time.Since(call.SentAt))
	s.metrics.SetPending(s.cfg.ServerID, s.bridge.Pending())

	if err != nil {
		s.logger.Debug("request failed", "stream", cmd.Stream, "type", cmd.Type, "id", call.ID, "error", err)
	}
	return ack, err
}

func (s *session) Notifications() <-chan Notification {
	return s.notifications
}

func (s *session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

func (s *session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *session) Stats() SessionStats {
	keys := s.mux.Keys(s.cfg.ServerID)
	subs := make([]string, 0, len(keys))
	for _, key := range keys {
		subs = append(subs, string(key.Channel))
	}
	muxStats := s.mux.Stats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionStats{
		ServerID:        s.cfg.ServerID,
		State:           s.state.String(),
		Phase:           s.recon.Phase().String(),
		Attempt:         s.recon.Attempt(),
		Subscriptions:   subs,
		PendingRequests: s.bridge.Pending(),
		QueueDepth:      s.gov.Len(),
		Dispatched:      muxStats.Dispatched,
		Dropped:         muxStats.Dropped,
		LastStatus:      s.lastStatus,
		LastFrameAt:     s.lastFrameAt,
	}
}

// run is the drive goroutine: it reads frames from the current connection
// and reconnects when the connection ends.
func (s *session) run(client Client) {
	defer s.wg.Done()

	for {
		cause := s.readFrames(client)
		if s.ctx.Err() != nil {
			client.Close()
			return
		}

		client.Close()
		s.connectionLost(cause)

		if err := s.recon.Run(s.ctx, cause, s.redial); err != nil {
			if s.ctx.Err() != nil || errors.Is(err, ErrSessionClosed) {
				return
			}
			s.fail(err)
			return
		}

		client = s.currentClient()
		if client == nil {
			return
		}
		s.setState(StateConnected)
		s.replaySubscriptions()
		s.logger.Info("reconnected")
	}
}

// readFrames consumes one connection. It returns the reason the
// connection can no longer be used, or nil when the session is closing.
func (s *session) readFrames(client Client) error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case msg, ok := <-client.Messages():
			if !ok {
				if err := client.Err(); err != nil {
					return err
				}
				return ErrConnectionLost
			}

			s.metrics.FrameReceived(s.cfg.ServerID)
			s.mu.Lock()
			s.lastFrameAt = msg.ReceivedAt
			s.mu.Unlock()

			ev, err := protocol.Decode(s.cfg.ServerID, msg.Data, msg.ReceivedAt)
			if err != nil {
				s.metrics.ProtocolError(s.cfg.ServerID)
				s.logger.Warn("protocol error, reconnecting", "error", err)
				s.notify(Notification{Kind: NotifyProtocolError, Err: err})
				return err
			}

			s.handleEvent(ev)
		}
	}
}

func (s *session) handleEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.RequestAck:
		if e.ID != "" && !s.bridge.Resolve(e.ID, e) {
			s.logger.Debug("discarding late or unknown ack", "id", e.ID)
		}
		return

	case protocol.RequestError:
		if e.ID == "" {
			s.logger.Warn("server reported error", "code", e.Code, "message", e.Message)
			return
		}
		if !s.bridge.Resolve(e.ID, e) {
			s.logger.Debug("discarding late or unknown error response", "id", e.ID)
		}
		return

	case protocol.Control:
		if e.Type == protocol.TypeStarted {
			s.streamStarted(e)
			return
		}
		s.logger.Debug("control frame", "type", e.Type, "stream", e.Stream)
		return

	case protocol.StatusChanged:
		state := e.State
		s.mu.Lock()
		s.lastStatus = &state
		s.mu.Unlock()

	case protocol.UnrecognizedEvent:
		s.logger.Debug("unrecognized frame", "stream", e.Stream, "type", e.Type)
	}

	s.mux.Dispatch(ev)
}

// streamStarted acknowledges the pending start of a stream. The server
// answers a start with a "started" frame that carries no correlation id.
func (s *session) streamStarted(e protocol.Control) {
	ch, ok := protocol.ParseChannel(e.Stream)
	if !ok {
		s.logger.Debug("started frame for unknown stream", "stream", e.Stream)
		return
	}
	key := mux.Key{ServerID: s.cfg.ServerID, Channel: ch}
	ack := protocol.RequestAck{Meta: e.Meta, Stream: e.Stream, Data: e.Data}
	if s.bridge.ResolveTag(key.String(), ack) == 0 {
		s.logger.Debug("stream started", "stream", e.Stream)
	}
}

// connectionLost fails everything bound to the dead connection.
func (s *session) connectionLost(cause error) {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()

	s.logger.Warn("connection lost", "error", cause)
	s.setState(StateReconnecting)

	if n := s.bridge.FailAll(ErrConnectionLost); n > 0 {
		s.logger.Info("failed in-flight requests", "count", n)
	}
	s.gov.Reset(ErrConnectionLost)
	s.metrics.SetPending(s.cfg.ServerID, 0)
	s.metrics.SetQueueDepth(s.cfg.ServerID, 0)
}

// redial is the reconnector's DialFunc.
func (s *session) redial(ctx context.Context) error {
	s.metrics.ReconnectAttempt(s.cfg.ServerID)

	client := s.newClient()
	if err := client.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.released || s.state.Terminal() {
		s.mu.Unlock()
		client.Close()
		return ErrSessionClosed
	}
	s.client = client
	s.mu.Unlock()
	return nil
}

// replaySubscriptions sends the start command of every streamed key.
// Responses are not awaited.
func (s *session) replaySubscriptions() {
	for _, key := range s.mux.Keys(s.cfg.ServerID) {
		if !key.Channel.Streamed() {
			continue
		}
		frame, err := protocol.Encode(startCommand(key.Channel, s.cfg.ConsoleTail), "")
		if err != nil {
			s.logger.Error("encode start command", "channel", key.Channel, "error", err)
			continue
		}
		if err := s.gov.Submit(frame, s.untracked("start", key.Channel)); err != nil {
			s.logger.Warn("replay subscription failed", "channel", key.Channel, "error", err)
		}
	}
}

// untracked returns a DoneFunc that logs the outcome of a fire-and-forget
// frame.
func (s *session) untracked(action string, ch protocol.Channel) governor.DoneFunc {
	return func(err error) {
		if err != nil {
			s.logger.Debug("untracked command failed", "action", action, "channel", ch, "error", err)
		}
	}
}

// send is the governor's SendFunc.
func (s *session) send(frame []byte) error {
	client := s.currentClient()
	if client == nil {
		return ErrNotConnected
	}
	if err := client.Send(frame); err != nil {
		return err
	}
	s.metrics.FrameSent(s.cfg.ServerID)
	return nil
}

func (s *session) newClient() Client {
	cfg := s.cfg.Client
	cfg.URL = StreamURL(s.cfg.BaseURL, s.cfg.ServerID)
	cfg.Token = s.cfg.Token
	return NewClient(cfg, s.logger)
}

func (s *session) currentClient() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// setState moves to a new state unless the session is already terminal.
func (s *session) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to || from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.metrics.SetState(s.cfg.ServerID, int(to))
	s.logger.Info("session state changed", "from", from.String(), "to", to.String())
	s.notify(Notification{Kind: NotifyStateChanged, State: to})
}

// fail moves to Failed and records err as the terminal error.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.err = err
	s.client = nil
	s.mu.Unlock()

	s.metrics.SetState(s.cfg.ServerID, int(StateFailed))
	s.logger.Error("session failed", "error", err)

	s.bridge.FailAll(err)
	s.gov.Reset(err)

	s.notify(Notification{Kind: NotifyFailed, State: StateFailed, Err: err})
	s.closeDone()
}

func (s *session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// notify publishes n without blocking; notifications are dropped when the
// channel is full.
func (s *session) notify(n Notification) {
	n.ServerID = s.cfg.ServerID
	if n.At.IsZero() {
		n.At = time.Now()
	}

	s.notifyMu.RLock()
	defer s.notifyMu.RUnlock()
	if s.notifyClosed {
		return
	}

	select {
	case s.notifications <- n:
	default:
		s.logger.Debug("notification channel full, dropping", "kind", n.Kind.String())
	}
}

func (s *session) onTransition(t Transition) {
	switch t.To {
	case PhaseBackoff:
		s.logger.Info("reconnect scheduled", "attempt", t.Attempt, "delay", t.Delay, "error", t.Err)
	case PhaseConnecting:
		s.logger.Debug("reconnect attempt", "attempt", t.Attempt)
	case PhaseFailed:
		s.logger.Warn("reconnect gave up", "attempt", t.Attempt, "error", t.Err)
	}
}

func (s *session) onListenerError(key mux.Key, listenerID string, err error) {
	s.metrics.ListenerError(key.ServerID, string(key.Channel))
	s.notify(Notification{Kind: NotifyListenerError, Key: key, ListenerID: listenerID, Err: err})
}

func (s *session) onDrop(key mux.Key, listenerID string, count int) {
	s.metrics.EventsDropped(key.ServerID, string(key.Channel), count)
	s.notify(Notification{Kind: NotifyDroppedEvents, Key: key, ListenerID: listenerID, Count: count})
}

func startCommand(ch protocol.Channel, consoleTail int) protocol.Command {
	if ch == protocol.ChannelConsole {
		return protocol.StartConsole(consoleTail)
	}
	return protocol.StartStream(ch)
}

func outcome(err error) string {
	var rejected *protocol.RequestError
	switch {
	case err == nil:
		return metrics.OutcomeAck
	case errors.As(err, &rejected):
		return metrics.OutcomeRejected
	case errors.Is(err, bridge.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrConnectionLost):
		return metrics.OutcomeLost
	}
	return metrics.OutcomeError
}
