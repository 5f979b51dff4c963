package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/connect/pkg/logger"
)

// fakeServer is a minimal in-memory content server.
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	files    map[string][]byte
	folders  map[string]bool
	members  map[string]*websocket.Conn
	upgrader websocket.Upgrader
	nextID   atomic.Int64
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()

	fs := &fakeServer{
		t:       t,
		files:   make(map[string][]byte),
		folders: map[string]bool{"/": true},
		members: make(map[string]*websocket.Conn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/info", fs.handleInfo)
	mux.HandleFunc("/v2/stat", fs.handleStat)
	mux.HandleFunc("/v2/files", fs.handleFiles)
	mux.HandleFunc("/v2/folders", fs.handleFolders)
	mux.HandleFunc("/v2/channels", fs.handleChannel)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return fs, srv
}

// serverURL converts the httptest base URL into an omni URL for the path.
func serverURL(srv *httptest.Server, path string) string {
	return "omni://" + strings.TrimPrefix(srv.URL, "http://") + path
}

func (fs *fakeServer) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"username":           "testuser",
		"version":            "1.0.0",
		"checkpointsEnabled": true,
	})
}

func (fs *fakeServer) handleStat(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if data, ok := fs.files[path]; ok {
		writeJSON(w, map[string]any{"path": path, "size": len(data), "isFolder": false})
		return
	}
	if fs.folders[path] {
		writeJSON(w, map[string]any{"path": path, "isFolder": true})
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (fs *fakeServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		data, ok := fs.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		require.NoError(fs.t, err)
		fs.files[path] = data
	case http.MethodDelete:
		if _, ok := fs.files[path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(fs.files, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (fs *fakeServer) handleFolders(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.folders[r.URL.Query().Get("path")] = true
	w.WriteHeader(http.StatusCreated)
}

func (fs *fakeServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := "member-" + strings.Repeat("x", int(fs.nextID.Add(1)))

	fs.mu.Lock()
	fs.members[id] = conn
	fs.mu.Unlock()

	require.NoError(fs.t, conn.WriteJSON(map[string]string{"event": "joined", "id": id}))
	fs.broadcast(id, map[string]string{"event": "join", "from": id})

	go func() {
		defer func() {
			fs.mu.Lock()
			delete(fs.members, id)
			fs.mu.Unlock()
			fs.broadcast(id, map[string]string{"event": "left", "from": id})
			_ = conn.Close()
		}()
		for {
			var frame struct {
				Data string `json:"data"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fs.broadcast(id, map[string]string{"event": "message", "from": id, "data": frame.Data})
		}
	}()
}

func (fs *fakeServer) broadcast(from string, frame map[string]string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for id, conn := range fs.members {
		if id == from {
			continue
		}
		_ = conn.WriteJSON(frame)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestRemoteFileOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, srv := newFakeServer(t)

	conn := Connect(logger.Test(t), WithInsecure())
	t.Cleanup(func() { _ = conn.Close() })

	file := serverURL(srv, "/Users/test/helloworld.stage")

	_, err := conn.Stat(ctx, file)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, conn.WriteFile(ctx, file, []byte("content")))

	entry, err := conn.Stat(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, file, entry.URL)
	assert.Equal(t, int64(7), entry.Size)
	assert.False(t, entry.IsFolder)

	data, err := conn.ReadFile(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)

	info, err := conn.ServerInfo(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, "testuser", info.Username)
	assert.True(t, info.CheckpointsEnabled)

	require.NoError(t, conn.Delete(ctx, file))
	_, err = conn.ReadFile(ctx, file)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"username": "testuser"})
	})
	mux.HandleFunc("/v2/files", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("eventually"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn := Connect(logger.Test(t), WithInsecure(), WithRetry(5, time.Millisecond))
	t.Cleanup(func() { _ = conn.Close() })

	data, err := conn.ReadFile(context.Background(), serverURL(srv, "/flaky.stage"))
	require.NoError(t, err)
	assert.Equal(t, []byte("eventually"), data)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRemoteStatusCallbacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, srv := newFakeServer(t)

	conn := Connect(logger.Test(t), WithInsecure())
	t.Cleanup(func() { _ = conn.Close() })

	var mu sync.Mutex
	var seen []ConnectionStatus
	unregister := conn.RegisterStatusCallback(func(_ string, status ConnectionStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status)
	})
	t.Cleanup(unregister)

	file := serverURL(srv, "/Users/test/helloworld.stage")
	require.NoError(t, conn.WriteFile(ctx, file, []byte("x")))

	mu.Lock()
	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusConnected}, seen)
	mu.Unlock()
}

func TestRemoteConnectError(t *testing.T) {
	t.Parallel()

	conn := Connect(logger.Test(t), WithInsecure(), WithRetry(1, time.Millisecond))
	t.Cleanup(func() { _ = conn.Close() })

	var mu sync.Mutex
	var seen []ConnectionStatus
	conn.RegisterStatusCallback(func(_ string, status ConnectionStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status)
	})

	// Nothing listens on port 1, the dial is refused immediately.
	_, err := conn.ReadFile(context.Background(), "omni://127.0.0.1:1/nope.stage")
	require.Error(t, err)

	mu.Lock()
	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusConnectError}, seen)
	mu.Unlock()
}

func TestRemoteChannel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, srv := newFakeServer(t)

	conn := Connect(logger.Test(t), WithInsecure())
	t.Cleanup(func() { _ = conn.Close() })

	url := serverURL(srv, "/Users/test/session.channel")

	a, err := conn.JoinChannel(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := conn.JoinChannel(ctx, url)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	ev := waitEvent(t, a)
	assert.Equal(t, ChannelJoin, ev.Type)
	assert.Equal(t, b.ID(), ev.From)

	payload := []byte(`{"message_type":"JOIN"}`)
	require.NoError(t, b.Send(ctx, payload))
	ev = waitEvent(t, a)
	assert.Equal(t, ChannelMessage, ev.Type)
	assert.Equal(t, b.ID(), ev.From)
	assert.Equal(t, payload, ev.Data)

	require.NoError(t, b.Close())
	ev = waitEvent(t, a)
	assert.Equal(t, ChannelLeft, ev.Type)
}

func TestDecodeChannelFrame(t *testing.T) {
	t.Parallel()

	ev, ok := decodeChannelFrame(channelFrame{
		Event: "message",
		From:  "peer",
		Data:  base64.StdEncoding.EncodeToString([]byte("payload")),
	})
	require.True(t, ok)
	assert.Equal(t, ChannelMessage, ev.Type)
	assert.Equal(t, []byte("payload"), ev.Data)

	_, ok = decodeChannelFrame(channelFrame{Event: "joined", ID: "self"})
	assert.False(t, ok)
}
