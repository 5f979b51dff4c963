package channel

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/pkg/logger"
)

// recorder collects delivered messages for assertions.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) record(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) byType(msgType MessageType) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Message
	for _, m := range r.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}

	return out
}

// pump runs Update on every manager until cond holds.
func pump(t *testing.T, ctx context.Context, cond func() bool, managers ...*Manager) {
	t.Helper()

	require.Eventually(t, func() bool {
		for _, m := range managers {
			if err := m.Update(ctx); err != nil {
				return false
			}
		}

		return cond()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestManagers_DiscoverEachOther(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := client.Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })
	url := filepath.Join(t.TempDir(), "session.channel")

	alice := NewManager(logger.Test(t), conn, url, "alice", "demoapp")
	bob := NewManager(logger.Test(t), conn, url, "bob", "demoapp")

	var aliceSeen, bobSeen recorder
	alice.Subscribe(aliceSeen.record)
	bob.Subscribe(bobSeen.record)

	require.NoError(t, alice.Join(ctx))
	require.NoError(t, bob.Join(ctx))

	pump(t, ctx, func() bool {
		return len(alice.Users()) == 1 && len(bob.Users()) == 1
	}, alice, bob)

	require.Len(t, alice.Users(), 1)
	assert.Equal(t, "bob", alice.Users()[0].Name)
	assert.Equal(t, "demoapp", alice.Users()[0].App)
	require.Len(t, bob.Users(), 1)
	assert.Equal(t, "alice", bob.Users()[0].Name)

	// Each side announced the other exactly once.
	joins := append(aliceSeen.byType(TypeJoin), aliceSeen.byType(TypeHello)...)
	require.Len(t, joins, 1)
	assert.Equal(t, "bob", joins[0].From.Name)
}

func TestManagers_ApplicationMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := client.Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })
	url := filepath.Join(t.TempDir(), "session.channel")

	alice := NewManager(logger.Test(t), conn, url, "alice", "demoapp")
	bob := NewManager(logger.Test(t), conn, url, "bob", "demoapp")

	var bobSeen recorder
	bob.Subscribe(bobSeen.record)

	require.NoError(t, alice.Join(ctx))
	require.NoError(t, bob.Join(ctx))
	pump(t, ctx, func() bool {
		return len(alice.Users()) == 1 && len(bob.Users()) == 1
	}, alice, bob)

	require.NoError(t, alice.SendMessage(map[string]any{"greeting": "hi bob"}))
	require.NoError(t, alice.Send(TypeMergeStarted, nil))

	pump(t, ctx, func() bool {
		return len(bobSeen.byType(TypeMessage)) == 1 && len(bobSeen.byType(TypeMergeStarted)) == 1
	}, alice, bob)

	msg := bobSeen.byType(TypeMessage)[0]
	assert.Equal(t, "alice", msg.From.Name)
	assert.Equal(t, map[string]any{"greeting": "hi bob"}, msg.Content)

	merge := bobSeen.byType(TypeMergeStarted)[0]
	assert.Equal(t, "alice", merge.From.Name)
}

func TestManager_DropsMalformedMessages(t *testing.T) {
	t.Parallel()

	mgr := NewManager(logger.Test(t), nil, "session.channel", "alice", "demoapp")

	var seen recorder
	mgr.Subscribe(seen.record)

	deliver := func(env envelope) {
		payload := mustEncodeEnvelope(t, env)
		mgr.handleEvent(client.ChannelEvent{Type: client.ChannelMessage, From: "peer-1", Data: payload})
	}

	// Dropped: no content dict, wrong version, anonymous sender.
	deliver(envelope{Version: ProtocolVersion, MessageType: TypeMessage, FromUserName: "bob"})
	deliver(envelope{Version: "2.0", MessageType: TypeMessage, FromUserName: "bob", Content: map[string]any{"text": "hi"}})
	deliver(envelope{Version: ProtocolVersion, MessageType: TypeMessage, Content: map[string]any{"text": "hi"}})
	assert.Empty(t, seen.byType(TypeMessage))

	deliver(envelope{Version: ProtocolVersion, MessageType: TypeMessage, FromUserName: "bob", Content: map[string]any{"text": "hi"}})
	require.Len(t, seen.byType(TypeMessage), 1)

	// Merge notifications carry no content and still go through.
	deliver(envelope{Version: ProtocolVersion, MessageType: TypeMergeFinished, FromUserName: "bob"})
	assert.Len(t, seen.byType(TypeMergeFinished), 1)
}

func TestManager_Leave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := client.Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })
	url := filepath.Join(t.TempDir(), "session.channel")

	alice := NewManager(logger.Test(t), conn, url, "alice", "demoapp")
	bob := NewManager(logger.Test(t), conn, url, "bob", "demoapp")

	var aliceSeen recorder
	alice.Subscribe(aliceSeen.record)

	require.NoError(t, alice.Join(ctx))
	require.NoError(t, bob.Join(ctx))
	pump(t, ctx, func() bool {
		return len(alice.Users()) == 1 && len(bob.Users()) == 1
	}, alice, bob)

	require.NoError(t, bob.Leave(ctx))

	pump(t, ctx, func() bool {
		return len(alice.Users()) == 0 && len(aliceSeen.byType(TypeLeft)) > 0
	}, alice)

	assert.Equal(t, "bob", aliceSeen.byType(TypeLeft)[0].From.Name)

	// Sending after leaving fails.
	require.ErrorIs(t, bob.SendMessage(nil), client.ErrClosed)
}

func TestManager_UpdateBeforeJoin(t *testing.T) {
	t.Parallel()

	conn := client.Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	m := NewManager(logger.Test(t), conn, "/tmp/none.channel", "alice", "demoapp")
	require.ErrorContains(t, m.Update(context.Background()), "not joined")
}
