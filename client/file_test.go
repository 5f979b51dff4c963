package client

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/connect/pkg/logger"
)

func TestLocalFileOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	dir := t.TempDir()
	file := filepath.Join(dir, "scenes", "helloworld.stage")

	_, err := conn.Stat(ctx, file)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, conn.WriteFile(ctx, file, []byte("v1")))

	entry, err := conn.Stat(ctx, file)
	require.NoError(t, err)
	assert.False(t, entry.IsFolder)
	assert.Equal(t, int64(2), entry.Size)

	data, err := conn.ReadFile(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	entries, err := conn.List(ctx, filepath.Join(dir, "scenes"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, file, entries[0].URL)

	require.NoError(t, conn.CreateFolder(ctx, filepath.Join(dir, "scenes", "props")))
	entries, err = conn.List(ctx, filepath.Join(dir, "scenes"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, conn.Delete(ctx, filepath.Join(dir, "scenes")))
	_, err = conn.Stat(ctx, filepath.Join(dir, "scenes"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalCheckpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	file := filepath.Join(t.TempDir(), "helloworld.stage")
	require.NoError(t, conn.WriteFile(ctx, file, []byte("v1")))

	cp1, err := conn.CreateCheckpoint(ctx, file, "initial", false)
	require.NoError(t, err)
	assert.NotEmpty(t, cp1.ID)
	assert.Equal(t, "initial", cp1.Comment)

	// Unchanged content with force unset reuses the previous checkpoint.
	cp2, err := conn.CreateCheckpoint(ctx, file, "no change", false)
	require.NoError(t, err)
	assert.Equal(t, cp1.ID, cp2.ID)

	cp3, err := conn.CreateCheckpoint(ctx, file, "forced", true)
	require.NoError(t, err)
	assert.NotEqual(t, cp1.ID, cp3.ID)

	require.NoError(t, conn.WriteFile(ctx, file, []byte("v2")))
	cp4, err := conn.CreateCheckpoint(ctx, file, "edited", false)
	require.NoError(t, err)
	assert.NotEqual(t, cp3.ID, cp4.ID)

	cps, err := conn.ListCheckpoints(ctx, file)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, []string{"initial", "forced", "edited"},
		[]string{cps[0].Comment, cps[1].Comment, cps[2].Comment})

	// Checkpoint folders stay hidden from listings.
	entries, err := conn.List(ctx, filepath.Dir(file))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, file, entries[0].URL)
}

func TestConnection_Copy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	src := filepath.Join(t.TempDir(), "Materials")
	require.NoError(t, conn.WriteFile(ctx, filepath.Join(src, "Fieldstone.mdl"), []byte("mdl")))
	require.NoError(t, conn.WriteFile(ctx, filepath.Join(src, "Textures", "Fieldstone_BaseColor.png"), []byte("png")))

	dst := filepath.Join(t.TempDir(), "Materials")
	require.NoError(t, conn.Copy(ctx, src, dst))

	data, err := conn.ReadFile(ctx, filepath.Join(dst, "Fieldstone.mdl"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mdl"), data)

	data, err = conn.ReadFile(ctx, filepath.Join(dst, "Textures", "Fieldstone_BaseColor.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestLocalSubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	file := filepath.Join(t.TempDir(), "root.live")
	require.NoError(t, conn.WriteFile(ctx, file, []byte("v1")))

	got := make(chan Event, 8)
	cancel, err := conn.Subscribe(ctx, file, func(ev Event) { got <- ev })
	require.NoError(t, err)
	t.Cleanup(cancel)

	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		select {
		case ev := <-got:
			return ev.URL == file && string(ev.Data) == "v2"
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubscribeCancelStopsDeliveries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	file := filepath.Join(t.TempDir(), "root.live")
	require.NoError(t, conn.WriteFile(ctx, file, []byte("v1")))

	var delivered atomic.Int32
	cancel, err := conn.Subscribe(ctx, file, func(Event) { delivered.Add(1) })
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	// With the subscription cancelled, nothing new may be delivered and
	// the drain cannot block.
	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))
	conn.WaitForPendingUpdates()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, delivered.Load())
}

func TestLocalChannel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	url := filepath.Join(t.TempDir(), "session.channel")

	a, err := conn.JoinChannel(ctx, url)
	require.NoError(t, err)
	b, err := conn.JoinChannel(ctx, url)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	// a observes b joining.
	ev := waitEvent(t, a)
	assert.Equal(t, ChannelJoin, ev.Type)
	assert.Equal(t, b.ID(), ev.From)

	require.NoError(t, b.Send(ctx, []byte("hello")))
	ev = waitEvent(t, a)
	assert.Equal(t, ChannelMessage, ev.Type)
	assert.Equal(t, b.ID(), ev.From)
	assert.Equal(t, []byte("hello"), ev.Data)

	require.NoError(t, b.Close())
	ev = waitEvent(t, a)
	assert.Equal(t, ChannelLeft, ev.Type)
	assert.Equal(t, b.ID(), ev.From)

	require.NoError(t, a.Close())
}

func waitEvent(t *testing.T, tr Transport) ChannelEvent {
	t.Helper()

	select {
	case ev, ok := <-tr.Events():
		require.True(t, ok, "transport closed while waiting for event")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return ChannelEvent{}
	}
}
