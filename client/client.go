package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stagelink/connect/pkg/logger"
)

// ConnectionStatus describes the state of the link to a content server.
type ConnectionStatus int

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusConnectError
	StatusDisconnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusConnectError:
		return "connect error"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusCallback receives connection status transitions for a server URL.
type StatusCallback func(serverURL string, status ConnectionStatus)

// Entry describes a file or folder returned by Stat and List.
type Entry struct {
	URL      string
	Size     int64
	IsFolder bool
	ModTime  time.Time
}

// ServerInfo describes the server (or local host) behind a URL.
type ServerInfo struct {
	Username           string
	Version            string
	CheckpointsEnabled bool
}

// Checkpoint is a named, immutable version of a file.
type Checkpoint struct {
	ID        string
	Comment   string
	CreatedAt time.Time
}

// Event is a change notification for a subscribed URL. Data holds the new
// content of the file at the time the notification was read.
type Event struct {
	URL  string
	Data []byte
}

// ChannelEventType classifies transport level channel events.
type ChannelEventType int

const (
	ChannelJoin ChannelEventType = iota
	ChannelLeft
	ChannelMessage
	ChannelDeleted
)

func (t ChannelEventType) String() string {
	switch t {
	case ChannelJoin:
		return "join"
	case ChannelLeft:
		return "left"
	case ChannelMessage:
		return "message"
	case ChannelDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// ChannelEvent is a single event observed on a joined channel. From is the
// transport assigned identifier of the peer the event originated from.
type ChannelEvent struct {
	Type ChannelEventType
	From string
	Data []byte
}

// Transport is a joined channel. Implementations deliver peer events on
// Events until Close is called or the channel is deleted.
type Transport interface {
	// ID is the transport assigned identifier of this member.
	ID() string

	// Send broadcasts data to every other member of the channel.
	Send(ctx context.Context, data []byte) error

	// Events returns the stream of peer events. The channel is closed when
	// the transport shuts down.
	Events() <-chan ChannelEvent

	Close() error
}

// backend is the per-storage implementation behind Connection. Backends
// take full content URLs.
type backend interface {
	Stat(ctx context.Context, url string) (Entry, error)
	List(ctx context.Context, url string) ([]Entry, error)
	Delete(ctx context.Context, url string) error
	CreateFolder(ctx context.Context, url string) error
	ReadFile(ctx context.Context, url string) ([]byte, error)
	WriteFile(ctx context.Context, url string, data []byte) error
	ServerInfo(ctx context.Context, url string) (ServerInfo, error)
	CreateCheckpoint(ctx context.Context, url, comment string, force bool) (Checkpoint, error)
	ListCheckpoints(ctx context.Context, url string) ([]Checkpoint, error)
	JoinChannel(ctx context.Context, url string) (Transport, error)
	Subscribe(ctx context.Context, url string, fn func(Event)) (func(), error)
	Close() error
}

// Connection dispatches content operations to the backend owning each URL:
// one remote backend per server, plus a shared local filesystem backend.
// It satisfies stage.Resolver so stages can be opened and saved through it.
type Connection struct {
	lggr logger.Logger
	opts options

	mu        sync.Mutex
	closed    bool
	local     *localBackend
	remotes   map[string]*remoteBackend
	statusCbs map[int]StatusCallback
	nextCbID  int

	pending sync.WaitGroup
}

type options struct {
	authToken     string
	insecure      bool
	retryAttempts uint
	retryDelay    time.Duration
}

// Option configures a Connection.
type Option func(*options)

// WithAuthToken sets the bearer token presented to remote servers.
func WithAuthToken(token string) Option {
	return func(o *options) { o.authToken = token }
}

// WithInsecure switches remote transports to plain HTTP and ws. Intended
// for local development servers.
func WithInsecure() Option {
	return func(o *options) { o.insecure = true }
}

// WithRetry overrides the retry policy applied to remote requests.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		o.retryAttempts = attempts
		o.retryDelay = delay
	}
}

// Connect creates a connection. Remote links are established lazily on
// first use of each server.
func Connect(lggr logger.Logger, opts ...Option) *Connection {
	o := options{
		retryAttempts: 4,
		retryDelay:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Connection{
		lggr:      lggr,
		opts:      o,
		remotes:   make(map[string]*remoteBackend),
		statusCbs: make(map[int]StatusCallback),
	}
}

// RegisterStatusCallback registers cb for connection status transitions and
// returns a function that removes it.
func (c *Connection) RegisterStatusCallback(cb StatusCallback) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextCbID
	c.nextCbID++
	c.statusCbs[id] = cb

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusCbs, id)
	}
}

func (c *Connection) notifyStatus(serverURL string, status ConnectionStatus) {
	c.mu.Lock()
	cbs := make([]StatusCallback, 0, len(c.statusCbs))
	for _, cb := range c.statusCbs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	c.lggr.Debugw("Connection status changed", "server", serverURL, "status", status.String())
	for _, cb := range cbs {
		cb(serverURL, status)
	}
}

// backendFor resolves the backend owning the URL, creating it on first use.
func (c *Connection) backendFor(ctx context.Context, rawURL string) (backend, error) {
	u, err := Parse(rawURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !u.IsRemote() {
		if c.local == nil {
			c.local = newLocalBackend(c.lggr.Named("Local"))
		}
		b := c.local
		c.mu.Unlock()

		return b, nil
	}

	key := u.ServerKey()
	if b, ok := c.remotes[key]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	c.notifyStatus(key, StatusConnecting)
	b, err := newRemoteBackend(c.lggr.Named("Remote"), u, c.opts)
	if err == nil {
		// Probe the server so callers learn about bad hosts up front.
		_, err = b.ServerInfo(ctx, rawURL)
	}
	if err != nil {
		c.notifyStatus(key, StatusConnectError)
		return nil, fmt.Errorf("connect to %s: %w", key, err)
	}

	c.mu.Lock()
	if existing, ok := c.remotes[key]; ok {
		c.mu.Unlock()
		_ = b.Close()

		return existing, nil
	}
	c.remotes[key] = b
	c.mu.Unlock()

	c.notifyStatus(key, StatusConnected)

	return b, nil
}

// Stat describes the entry at the URL.
func (c *Connection) Stat(ctx context.Context, url string) (Entry, error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return Entry{}, err
	}

	return b.Stat(ctx, url)
}

// List returns the immediate children of a folder URL.
func (c *Connection) List(ctx context.Context, url string) ([]Entry, error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return nil, err
	}

	return b.List(ctx, url)
}

// Delete removes the entry at the URL, recursively for folders.
func (c *Connection) Delete(ctx context.Context, url string) error {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return err
	}

	return b.Delete(ctx, url)
}

// CreateFolder creates the folder at the URL, including missing parents.
func (c *Connection) CreateFolder(ctx context.Context, url string) error {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return err
	}

	return b.CreateFolder(ctx, url)
}

// ReadFile returns the content of the file at the URL.
func (c *Connection) ReadFile(ctx context.Context, url string) ([]byte, error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return nil, err
	}

	return b.ReadFile(ctx, url)
}

// WriteFile stores data at the URL, creating missing parent folders.
func (c *Connection) WriteFile(ctx context.Context, url string, data []byte) error {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return err
	}

	return b.WriteFile(ctx, url, data)
}

// Copy copies a file or folder tree from src to dst. Source and destination
// may live on different backends, so resources can be uploaded from the
// local filesystem to a server in one call.
func (c *Connection) Copy(ctx context.Context, src, dst string) error {
	srcB, err := c.backendFor(ctx, src)
	if err != nil {
		return err
	}
	dstB, err := c.backendFor(ctx, dst)
	if err != nil {
		return err
	}

	return c.copyTree(ctx, srcB, dstB, src, dst)
}

func (c *Connection) copyTree(ctx context.Context, srcB, dstB backend, src, dst string) error {
	entry, err := srcB.Stat(ctx, src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if !entry.IsFolder {
		data, err := srcB.ReadFile(ctx, src)
		if err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}

		return dstB.WriteFile(ctx, dst, data)
	}

	if err := dstB.CreateFolder(ctx, dst); err != nil {
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	children, err := srcB.List(ctx, src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	for _, child := range children {
		name := Base(child.URL)
		if err := c.copyTree(ctx, srcB, dstB, child.URL, Join(dst, name)); err != nil {
			return err
		}
	}

	return nil
}

// ServerInfo describes the server (or local host) owning the URL.
func (c *Connection) ServerInfo(ctx context.Context, url string) (ServerInfo, error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return ServerInfo{}, err
	}

	return b.ServerInfo(ctx, url)
}

// CreateCheckpoint records a named version of the file at the URL. With
// force unset, a checkpoint is only taken when the content changed since
// the previous one.
func (c *Connection) CreateCheckpoint(ctx context.Context, url, comment string, force bool) (Checkpoint, error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return Checkpoint{}, err
	}

	return b.CreateCheckpoint(ctx, url, comment, force)
}

// ListCheckpoints returns the checkpoints of the file at the URL, oldest
// first.
func (c *Connection) ListCheckpoints(ctx context.Context, url string) ([]Checkpoint, error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return nil, err
	}

	return b.ListCheckpoints(ctx, url)
}

// JoinChannel joins the message channel at the URL and returns its
// transport.
func (c *Connection) JoinChannel(ctx context.Context, url string) (Transport, error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return nil, err
	}

	return b.JoinChannel(ctx, url)
}

// Subscribe watches the file at the URL and invokes fn with its new content
// after every external change. The returned function cancels the
// subscription; calling it more than once is safe, and deliveries that have
// not reached fn by then are discarded.
func (c *Connection) Subscribe(ctx context.Context, url string, fn func(Event)) (func(), error) {
	b, err := c.backendFor(ctx, url)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		cancelled bool
	)
	wrapped := func(ev Event) {
		mu.Lock()
		if cancelled {
			mu.Unlock()
			return
		}
		c.pending.Add(1)
		mu.Unlock()
		defer c.pending.Done()
		fn(ev)
	}

	cancelBackend, err := b.Subscribe(ctx, url, wrapped)
	if err != nil {
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			mu.Lock()
			cancelled = true
			mu.Unlock()
			cancelBackend()
		})
	}

	return cancel, nil
}

// WaitForPendingUpdates blocks until all in-flight subscription deliveries
// have been handed to their callbacks. Cancel the subscriptions first:
// once a subscription is cancelled no new deliveries start, so the wait
// cannot miss one.
func (c *Connection) WaitForPendingUpdates() {
	c.pending.Wait()
}

// Close shuts down every backend. Registered callbacks receive a
// disconnected notification per remote server.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	local := c.local
	remotes := c.remotes
	c.remotes = nil
	c.mu.Unlock()

	var firstErr error
	for key, b := range remotes {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.notifyStatus(key, StatusDisconnected)
	}
	if local != nil {
		if err := local.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
