package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/stagelink/connect/pkg/logger"
)

// remoteBackend talks to one content server over its REST and websocket
// API. File operations go through /v2/files and friends; channels and
// change subscriptions are websocket upgrades.
type remoteBackend struct {
	lggr      logger.Logger
	serverKey string
	wsBase    string
	rest      *resty.Client
	dialer    *websocket.Dialer
	authToken string
	retryOpts []retry.Option

	mu     sync.Mutex
	closed bool
}

var _ backend = &remoteBackend{}

func newRemoteBackend(lggr logger.Logger, u URL, opts options) (*remoteBackend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("remote url %q has no host", u.String())
	}

	httpScheme, wsScheme := "https", "wss"
	if opts.insecure {
		httpScheme, wsScheme = "http", "ws"
	}

	rest := resty.New().
		SetBaseURL(httpScheme + "://" + u.Host).
		SetTimeout(30 * time.Second)
	if opts.authToken != "" {
		rest.SetAuthToken(opts.authToken)
	}

	return &remoteBackend{
		lggr:      lggr,
		serverKey: u.ServerKey(),
		wsBase:    wsScheme + "://" + u.Host,
		rest:      rest,
		dialer:    websocket.DefaultDialer,
		authToken: opts.authToken,
		retryOpts: []retry.Option{
			retry.Attempts(opts.retryAttempts),
			retry.Delay(opts.retryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		},
	}, nil
}

// pathOf strips the scheme and host so only the server side path goes over
// the wire.
func (b *remoteBackend) pathOf(rawURL string) string {
	u, err := Parse(rawURL)
	if err != nil {
		return rawURL
	}

	return u.Path
}

// urlOf rebuilds a full content URL from a server side path.
func (b *remoteBackend) urlOf(path string) string {
	return b.serverKey + path
}

// execute runs fn with the configured retry policy, retrying transport
// failures and server errors but never client errors.
func (b *remoteBackend) execute(ctx context.Context, fn func() (*resty.Response, error)) (*resty.Response, error) {
	var resp *resty.Response
	err := retry.Do(func() error {
		var err error
		resp, err = fn()
		if err != nil {
			return err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("server error: %s", resp.Status())
		}

		return nil
	}, append(b.retryOpts, retry.Context(ctx))...)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// statusErr maps an HTTP error status to the client's sentinel errors.
func statusErr(resp *resty.Response, url string) error {
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", url, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", url, ErrAccessDenied)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", url, ErrAlreadyExists)
	default:
		return fmt.Errorf("%s: unexpected status %s", url, resp.Status())
	}
}

// wireEntry is an entry as the server reports it.
type wireEntry struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	IsFolder bool      `json:"isFolder"`
	ModTime  time.Time `json:"modTime"`
}

func (b *remoteBackend) entryOf(w wireEntry) Entry {
	return Entry{
		URL:      b.urlOf(w.Path),
		Size:     w.Size,
		IsFolder: w.IsFolder,
		ModTime:  w.ModTime,
	}
}

func (b *remoteBackend) Stat(ctx context.Context, url string) (Entry, error) {
	var result wireEntry
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			SetResult(&result).
			Get("/v2/stat")
	})
	if err != nil {
		return Entry{}, err
	}
	if resp.IsError() {
		return Entry{}, statusErr(resp, url)
	}

	return b.entryOf(result), nil
}

func (b *remoteBackend) List(ctx context.Context, url string) ([]Entry, error) {
	var result struct {
		Entries []wireEntry `json:"entries"`
	}
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			SetResult(&result).
			Get("/v2/list")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, statusErr(resp, url)
	}

	entries := make([]Entry, 0, len(result.Entries))
	for _, w := range result.Entries {
		entries = append(entries, b.entryOf(w))
	}

	return entries, nil
}

func (b *remoteBackend) Delete(ctx context.Context, url string) error {
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			Delete("/v2/files")
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return statusErr(resp, url)
	}

	return nil
}

func (b *remoteBackend) CreateFolder(ctx context.Context, url string) error {
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			Post("/v2/folders")
	})
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != http.StatusConflict {
		return statusErr(resp, url)
	}

	return nil
}

func (b *remoteBackend) ReadFile(ctx context.Context, url string) ([]byte, error) {
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			Get("/v2/files")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, statusErr(resp, url)
	}

	return resp.Body(), nil
}

func (b *remoteBackend) WriteFile(ctx context.Context, url string, data []byte) error {
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(data).
			Put("/v2/files")
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return statusErr(resp, url)
	}

	return nil
}

func (b *remoteBackend) ServerInfo(ctx context.Context, url string) (ServerInfo, error) {
	var result struct {
		Username           string `json:"username"`
		Version            string `json:"version"`
		CheckpointsEnabled bool   `json:"checkpointsEnabled"`
	}
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetResult(&result).
			Get("/v2/info")
	})
	if err != nil {
		return ServerInfo{}, err
	}
	if resp.IsError() {
		return ServerInfo{}, statusErr(resp, url)
	}

	return ServerInfo{
		Username:           result.Username,
		Version:            result.Version,
		CheckpointsEnabled: result.CheckpointsEnabled,
	}, nil
}

func (b *remoteBackend) CreateCheckpoint(ctx context.Context, url, comment string, force bool) (Checkpoint, error) {
	var result Checkpoint
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			SetBody(map[string]any{"comment": comment, "force": force}).
			SetResult(&result).
			Post("/v2/checkpoints")
	})
	if err != nil {
		return Checkpoint{}, err
	}
	if resp.IsError() {
		return Checkpoint{}, statusErr(resp, url)
	}

	return result, nil
}

func (b *remoteBackend) ListCheckpoints(ctx context.Context, url string) ([]Checkpoint, error) {
	var result struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	resp, err := b.execute(ctx, func() (*resty.Response, error) {
		return b.rest.R().
			SetContext(ctx).
			SetQueryParam("path", b.pathOf(url)).
			SetResult(&result).
			Get("/v2/checkpoints")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, statusErr(resp, url)
	}

	return result.Checkpoints, nil
}

// dial opens a websocket against the given endpoint for a content path.
func (b *remoteBackend) dial(ctx context.Context, endpoint, contentPath string) (*websocket.Conn, error) {
	header := http.Header{}
	if b.authToken != "" {
		header.Set("Authorization", "Bearer "+b.authToken)
	}

	wsURL := b.wsBase + endpoint + "?path=" + contentPath
	conn, resp, err := b.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%s: %w", contentPath, ErrAccessDenied)
		}

		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	return conn, nil
}

// channelFrame is a single websocket message on a channel socket. The
// server sends a "joined" frame carrying the member id first, then peer
// events; clients send frames with only Data set.
type channelFrame struct {
	Event string `json:"event,omitempty"`
	ID    string `json:"id,omitempty"`
	From  string `json:"from,omitempty"`
	Data  string `json:"data,omitempty"`
}

func (b *remoteBackend) JoinChannel(ctx context.Context, url string) (Transport, error) {
	conn, err := b.dial(ctx, "/v2/channels", b.pathOf(url))
	if err != nil {
		return nil, err
	}

	var joined channelFrame
	if err := conn.ReadJSON(&joined); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join channel %s: %w", url, err)
	}
	if joined.Event != "joined" || joined.ID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("join channel %s: unexpected frame %q", url, joined.Event)
	}

	t := &remoteTransport{
		lggr:   b.lggr,
		conn:   conn,
		id:     joined.ID,
		events: make(chan ChannelEvent, 256),
	}
	go t.readPump()

	return t, nil
}

// Subscribe opens a notification socket for the path. The server pushes a
// frame per change; the backend fetches the new content and hands it to fn.
func (b *remoteBackend) Subscribe(ctx context.Context, url string, fn func(Event)) (func(), error) {
	conn, err := b.dial(ctx, "/v2/subscriptions", b.pathOf(url))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			var note struct {
				Path string `json:"path"`
			}
			if err := conn.ReadJSON(&note); err != nil {
				select {
				case <-done:
				default:
					b.lggr.Warnw("Subscription closed", "url", url, "err", err)
				}

				return
			}
			data, err := b.ReadFile(context.Background(), url)
			if err != nil {
				b.lggr.Warnw("Fetch after change notification failed", "url", url, "err", err)
				continue
			}
			fn(Event{URL: url, Data: data})
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	return cancel, nil
}

func (b *remoteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true

	return nil
}

// remoteTransport adapts a channel websocket to the Transport interface.
type remoteTransport struct {
	lggr logger.Logger
	conn *websocket.Conn
	id   string

	writeMu sync.Mutex
	events  chan ChannelEvent

	closeOnce sync.Once
}

var _ Transport = &remoteTransport{}

func (t *remoteTransport) ID() string { return t.id }

func (t *remoteTransport) Send(_ context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	frame := channelFrame{Data: base64.StdEncoding.EncodeToString(data)}
	if err := t.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send on channel: %w", err)
	}

	return nil
}

func (t *remoteTransport) Events() <-chan ChannelEvent {
	return t.events
}

func (t *remoteTransport) readPump() {
	defer close(t.events)

	for {
		var frame channelFrame
		if err := t.conn.ReadJSON(&frame); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !errors.Is(err, websocket.ErrCloseSent) {
				t.lggr.Debugw("Channel read ended", "err", err)
			}

			return
		}

		ev, ok := decodeChannelFrame(frame)
		if !ok {
			continue
		}
		select {
		case t.events <- ev:
		default:
			// Slow consumer, drop rather than stall the socket.
		}
		if ev.Type == ChannelDeleted {
			return
		}
	}
}

func decodeChannelFrame(frame channelFrame) (ChannelEvent, bool) {
	var evType ChannelEventType
	switch frame.Event {
	case "join":
		evType = ChannelJoin
	case "left":
		evType = ChannelLeft
	case "message":
		evType = ChannelMessage
	case "deleted":
		evType = ChannelDeleted
	default:
		return ChannelEvent{}, false
	}

	var data []byte
	if frame.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			return ChannelEvent{}, false
		}
		data = decoded
	}

	return ChannelEvent{Type: evType, From: frame.From, Data: data}, true
}

func (t *remoteTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})

	return err
}
