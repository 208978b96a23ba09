package exaroton

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/exaroton/internal/api"
	"github.com/rickgao/exaroton/internal/auth"
	"github.com/rickgao/exaroton/internal/bridge"
	"github.com/rickgao/exaroton/internal/connection"
	"github.com/rickgao/exaroton/internal/governor"
	"github.com/rickgao/exaroton/internal/metrics"
	"github.com/rickgao/exaroton/internal/model"
	"github.com/rickgao/exaroton/internal/mux"
	"github.com/rickgao/exaroton/internal/protocol"
)

// DefaultStreamURL is the production WebSocket endpoint.
const DefaultStreamURL = "wss://api.exaroton.com/v1"

// Re-exported types so callers never import internal packages.
type (
	Session          = connection.Session
	SessionStats     = connection.SessionStats
	State            = connection.State
	Notification     = connection.Notification
	NotificationKind = connection.NotificationKind
	ManagerStats     = connection.ManagerStats

	Channel      = protocol.Channel
	Command      = protocol.Command
	Event        = protocol.Event
	RequestAck   = protocol.RequestAck
	RequestError = protocol.RequestError

	StatusChanged = protocol.StatusChanged
	ConsoleLine   = protocol.ConsoleLine
	StatsUpdate   = protocol.StatsUpdate
	TickUpdate    = protocol.TickUpdate
	HeapUpdate    = protocol.HeapUpdate
	CreditsUpdate = protocol.CreditsUpdate
	DroppedEvents = protocol.DroppedEvents

	Listener     = mux.Listener
	ListenerFunc = mux.ListenerFunc

	Server  = model.Server
	Account = model.Account

	AuthError     = connection.AuthError
	NetworkError  = connection.NetworkError
	ProtocolError = protocol.ProtocolError
	APIError      = api.APIError

	Metrics = metrics.Metrics
)

// Channels
const (
	ChannelStatus  = protocol.ChannelStatus
	ChannelConsole = protocol.ChannelConsole
	ChannelStats   = protocol.ChannelStats
	ChannelTick    = protocol.ChannelTick
	ChannelHeap    = protocol.ChannelHeap
	ChannelCredits = protocol.ChannelCredits
)

// Session states
const (
	StateDisconnected = connection.StateDisconnected
	StateConnecting   = connection.StateConnecting
	StateConnected    = connection.StateConnected
	StateReconnecting = connection.StateReconnecting
	StateClosed       = connection.StateClosed
	StateFailed       = connection.StateFailed
)

// Notification kinds
const (
	NotifyStateChanged  = connection.NotifyStateChanged
	NotifyDroppedEvents = connection.NotifyDroppedEvents
	NotifyProtocolError = connection.NotifyProtocolError
	NotifyListenerError = connection.NotifyListenerError
	NotifyFailed        = connection.NotifyFailed
)

// Errors
var (
	ErrMissingToken       = auth.ErrMissingToken
	ErrUnknownServer      = connection.ErrUnknownServer
	ErrNotConnected       = connection.ErrNotConnected
	ErrConnectionLost     = connection.ErrConnectionLost
	ErrReconnectExhausted = connection.ErrReconnectExhausted
	ErrSessionClosed      = connection.ErrSessionClosed
	ErrUnsubscribed       = connection.ErrUnsubscribed
	ErrTimeout            = bridge.ErrTimeout
	ErrOverloaded         = governor.ErrOverloaded
	ErrInvalidCommand     = protocol.ErrInvalidCommand
)

// NewMetrics creates a Prometheus registry with the session metrics. Pass
// it to WithMetrics and serve its Handler.
func NewMetrics() *Metrics {
	return metrics.New()
}

// Client combines the REST API with real-time sessions for many servers.
// REST methods are promoted from the embedded api.Client.
type Client struct {
	*api.Client

	manager connection.Manager
	logger  *slog.Logger
}

type options struct {
	restURL    string
	streamURL  string
	logger     *slog.Logger
	metrics    *Metrics
	manager    connection.ManagerConfig
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	backoff    time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithRestURL overrides the REST endpoint.
func WithRestURL(u string) Option {
	return func(o *options) {
		o.restURL = u
	}
}

// WithStreamURL overrides the WebSocket endpoint.
func WithStreamURL(u string) Option {
	return func(o *options) {
		o.streamURL = u
	}
}

// WithLogger sets the logger of the client and its sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records session activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithManagerConfig replaces the session settings. Token and stream URL
// are always filled in by the client.
func WithManagerConfig(cfg connection.ManagerConfig) Option {
	return func(o *options) {
		o.manager = cfg
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithTimeout sets the REST request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithRetries sets how often failed REST calls are retried.
func WithRetries(n int, backoff time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.backoff = backoff
	}
}

// New creates a Client authenticated with token.
func New(token string, opts ...Option) (*Client, error) {
	creds, err := auth.New(token)
	if err != nil {
		return nil, err
	}

	o := options{
		restURL:   api.DefaultBaseURL,
		streamURL: DefaultStreamURL,
		logger:    slog.Default(),
		manager:   connection.DefaultManagerConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	apiOpts := []api.ClientOption{api.WithLogger(o.logger)}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	if o.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(o.timeout))
	}
	if o.backoff > 0 {
		apiOpts = append(apiOpts, api.WithRetries(o.retries, o.backoff))
	}

	mcfg := o.manager
	mcfg.Session.BaseURL = o.streamURL
	mcfg.Session.Token = creds.Token

	return &Client{
		Client:  api.NewClient(o.restURL, creds, apiOpts...),
		manager: connection.NewManager(mcfg, o.logger, o.metrics),
		logger:  o.logger,
	}, nil
}

// Open opens a session for each server id. Servers that fail to open are
// reported in the joined error; the others stay open.
func (c *Client) Open(ctx context.Context, serverIDs ...string) error {
	return c.manager.Open(ctx, serverIDs...)
}

// OpenAll opens a session for every server of the account.
func (c *Client) OpenAll(ctx context.Context) ([]string, error) {
	servers, err := c.Servers(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		ids = append(ids, s.ID)
	}
	c.logger.Info("opening sessions", "servers", len(ids))

	return ids, c.manager.Open(ctx, ids...)
}

// Session returns the open session of serverID.
func (c *Client) Session(serverID string) (Session, bool) {
	return c.manager.Session(serverID)
}

// Sessions returns every open session ordered by server id.
func (c *Client) Sessions() []Session {
	return c.manager.Sessions()
}

// CloseSession closes the session of serverID.
func (c *Client) CloseSession(ctx context.Context, serverID string) error {
	return c.manager.Close(ctx, serverID)
}

// Notifications returns the notifications of every session.
func (c *Client) Notifications() <-chan Notification {
	return c.manager.Notifications()
}

// SessionStats returns statistics of every session.
func (c *Client) SessionStats() ManagerStats {
	return c.manager.Stats()
}

// Close closes every session. The client's REST methods keep working.
func (c *Client) Close(ctx context.Context) error {
	return c.manager.Stop(ctx)
}

// Subscribe registers listener for ch on the session of serverID.
func (c *Client) Subscribe(ctx context.Context, serverID string, ch Channel, listenerID string, listener Listener) error {
	s, err := c.session(serverID)
	if err != nil {
		return err
	}
	return s.Subscribe(ctx, ch, listenerID, listener)
}

// Unsubscribe removes a listener from the session of serverID.
func (c *Client) Unsubscribe(serverID string, ch Channel, listenerID string) error {
	s, err := c.session(serverID)
	if err != nil {
		return err
	}
	return s.Unsubscribe(ch, listenerID)
}

// StartServer starts a server over its session.
func (c *Client) StartServer(ctx context.Context, serverID string, useOwnCredits bool) error {
	return c.request(ctx, serverID, protocol.StartServer(useOwnCredits))
}

// StopServer stops a server over its session.
func (c *Client) StopServer(ctx context.Context, serverID string) error {
	return c.request(ctx, serverID, protocol.StopServer())
}

// RestartServer restarts a server over its session.
func (c *Client) RestartServer(ctx context.Context, serverID string) error {
	return c.request(ctx, serverID, protocol.RestartServer())
}

// ConsoleCommand executes line on the console of a server.
func (c *Client) ConsoleCommand(ctx context.Context, serverID, line string) error {
	return c.request(ctx, serverID, protocol.ConsoleCommand(line))
}

func (c *Client) request(ctx context.Context, serverID string, cmd Command) error {
	s, err := c.session(serverID)
	if err != nil {
		return err
	}
	if _, err := s.Request(ctx, cmd); err != nil {
		return fmt.Errorf("%s %s on %s: %w", cmd.Stream, cmd.Type, serverID, err)
	}
	return nil
}

func (c *Client) session(serverID string) (Session, error) {
	s, ok := c.manager.Session(serverID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	return s, nil
}
