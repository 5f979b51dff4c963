package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/stagelink/connect/pkg/logger"
)

// checkpointDirName is the hidden folder holding checkpoint blobs, keyed
// by file name, next to the files they version.
const checkpointDirName = ".checkpoints"

// localBackend serves content URLs that are plain filesystem paths. It
// gives every sample a server-free mode: checkpoints live in a sibling
// folder, subscriptions use filesystem watches, and channels are an
// in-process loopback hub.
type localBackend struct {
	lggr logger.Logger

	mu       sync.Mutex
	channels map[string]*localChannel
}

var _ backend = &localBackend{}

func newLocalBackend(lggr logger.Logger) *localBackend {
	return &localBackend{
		lggr:     lggr,
		channels: make(map[string]*localChannel),
	}
}

func (b *localBackend) Stat(_ context.Context, url string) (Entry, error) {
	info, err := os.Stat(url)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, fmt.Errorf("%s: %w", url, ErrNotFound)
		}

		return Entry{}, err
	}

	return entryFromInfo(url, info), nil
}

func (b *localBackend) List(_ context.Context, url string) ([]Entry, error) {
	dirents, err := os.ReadDir(url)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
		}

		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.Name() == checkpointDirName {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entryFromInfo(filepath.Join(url, d.Name()), info))
	}

	return entries, nil
}

func entryFromInfo(url string, info fs.FileInfo) Entry {
	return Entry{
		URL:      url,
		Size:     info.Size(),
		IsFolder: info.IsDir(),
		ModTime:  info.ModTime(),
	}
}

func (b *localBackend) Delete(_ context.Context, url string) error {
	if _, err := os.Stat(url); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", url, ErrNotFound)
	}

	return os.RemoveAll(url)
}

func (b *localBackend) CreateFolder(_ context.Context, url string) error {
	return os.MkdirAll(url, 0o755)
}

func (b *localBackend) ReadFile(_ context.Context, url string) ([]byte, error) {
	data, err := os.ReadFile(url)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
		}

		return nil, err
	}

	return data, nil
}

func (b *localBackend) WriteFile(_ context.Context, url string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(url), 0o755); err != nil {
		return err
	}

	return os.WriteFile(url, data, 0o644)
}

func (b *localBackend) ServerInfo(_ context.Context, _ string) (ServerInfo, error) {
	username := "local"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}

	return ServerInfo{
		Username:           username,
		Version:            "local",
		CheckpointsEnabled: true,
	}, nil
}

// checkpointIndex is the on-disk listing of a file's checkpoints.
type checkpointIndex struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
}

func checkpointDir(url string) string {
	return filepath.Join(filepath.Dir(url), checkpointDirName, filepath.Base(url))
}

func (b *localBackend) CreateCheckpoint(ctx context.Context, url, comment string, force bool) (Checkpoint, error) {
	data, err := b.ReadFile(ctx, url)
	if err != nil {
		return Checkpoint{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dir := checkpointDir(url)
	index, err := readCheckpointIndex(dir)
	if err != nil {
		return Checkpoint{}, err
	}

	if !force && len(index.Checkpoints) > 0 {
		last := index.Checkpoints[len(index.Checkpoints)-1]
		prev, err := os.ReadFile(filepath.Join(dir, last.ID))
		if err == nil && bytes.Equal(prev, data) {
			return last, nil
		}
	}

	cp := Checkpoint{
		ID:        ksuid.New().String(),
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Checkpoint{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, cp.ID), data, 0o644); err != nil {
		return Checkpoint{}, err
	}
	index.Checkpoints = append(index.Checkpoints, cp)
	if err := writeCheckpointIndex(dir, index); err != nil {
		return Checkpoint{}, err
	}

	return cp, nil
}

func (b *localBackend) ListCheckpoints(_ context.Context, url string) ([]Checkpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := readCheckpointIndex(checkpointDir(url))
	if err != nil {
		return nil, err
	}

	return index.Checkpoints, nil
}

func readCheckpointIndex(dir string) (checkpointIndex, error) {
	var index checkpointIndex
	data, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return index, err
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return index, fmt.Errorf("decode checkpoint index: %w", err)
	}

	return index, nil
}

func writeCheckpointIndex(dir string, index checkpointIndex) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "index.json"), data, 0o644)
}

// Subscribe watches the file through fsnotify. The parent directory is
// watched rather than the file itself so atomic replaces keep delivering.
// Subscribers also observe their own writes; the stage's dirty tracking
// makes that echo harmless.
func (b *localBackend) Subscribe(_ context.Context, url string, fn func(Event)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(url)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(url)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				data, err := os.ReadFile(target)
				if err != nil {
					continue
				}
				fn(Event{URL: url, Data: data})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.lggr.Warnw("Watcher error", "url", url, "err", err)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = watcher.Close()
		})
	}

	return cancel, nil
}

// JoinChannel joins an in-process loopback channel. Members of the same
// connection see each other; there is no cross-process bridging.
func (b *localBackend) JoinChannel(_ context.Context, url string) (Transport, error) {
	b.mu.Lock()
	ch, ok := b.channels[url]
	if !ok {
		ch = &localChannel{members: make(map[string]*localTransport)}
		b.channels[url] = ch
	}
	b.mu.Unlock()

	return ch.join(), nil
}

func (b *localBackend) Close() error {
	b.mu.Lock()
	channels := b.channels
	b.channels = make(map[string]*localChannel)
	b.mu.Unlock()

	for _, ch := range channels {
		ch.closeAll()
	}

	return nil
}

// localChannel fans events out between in-process transports.
type localChannel struct {
	mu      sync.Mutex
	members map[string]*localTransport
}

func (c *localChannel) join() *localTransport {
	t := &localTransport{
		channel: c,
		id:      uuid.NewString(),
		events:  make(chan ChannelEvent, 256),
	}

	c.mu.Lock()
	c.members[t.id] = t
	c.mu.Unlock()

	c.broadcast(t.id, ChannelEvent{Type: ChannelJoin, From: t.id})

	return t
}

// broadcast delivers ev to every member except the originator. Slow
// consumers drop events rather than blocking the sender.
func (c *localChannel) broadcast(from string, ev ChannelEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, member := range c.members {
		if id == from {
			continue
		}
		select {
		case member.events <- ev:
		default:
		}
	}
}

func (c *localChannel) leave(t *localTransport) {
	c.mu.Lock()
	_, ok := c.members[t.id]
	delete(c.members, t.id)
	c.mu.Unlock()

	if ok {
		c.broadcast(t.id, ChannelEvent{Type: ChannelLeft, From: t.id})
	}
}

func (c *localChannel) closeAll() {
	c.mu.Lock()
	members := make([]*localTransport, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	c.members = make(map[string]*localTransport)
	c.mu.Unlock()

	for _, m := range members {
		m.shutdown(ChannelEvent{Type: ChannelDeleted})
	}
}

type localTransport struct {
	channel *localChannel
	id      string
	events  chan ChannelEvent

	closeOnce sync.Once
}

var _ Transport = &localTransport{}

func (t *localTransport) ID() string { return t.id }

func (t *localTransport) Send(_ context.Context, data []byte) error {
	msg := make([]byte, len(data))
	copy(msg, data)
	t.channel.broadcast(t.id, ChannelEvent{Type: ChannelMessage, From: t.id, Data: msg})

	return nil
}

func (t *localTransport) Events() <-chan ChannelEvent {
	return t.events
}

func (t *localTransport) Close() error {
	t.channel.leave(t)
	t.closeOnce.Do(func() { close(t.events) })

	return nil
}

func (t *localTransport) shutdown(last ChannelEvent) {
	t.closeOnce.Do(func() {
		select {
		case t.events <- last:
		default:
		}
		close(t.events)
	})
}
