package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/pkg/logger"
)

// Joiner is the part of the content client the manager needs.
type Joiner interface {
	JoinChannel(ctx context.Context, url string) (client.Transport, error)
}

// PeerUser is a participant seen on the channel.
type PeerUser struct {
	// ID is the transport assigned identifier of the peer.
	ID string
	// Name is the user name the peer announced.
	Name string
	// App is the application name the peer announced.
	App string
}

// Message is a decoded channel message handed to subscribers. Peer
// lifecycle types (join, hello, left) are delivered alongside application
// messages so callers can show presence changes.
type Message struct {
	Type    MessageType
	From    PeerUser
	Content map[string]any
}

// Manager speaks the channel protocol on one joined channel: it announces
// this participant, answers peer discovery, tracks who is present, and
// delivers application messages. Inbound and outbound traffic is buffered
// and exchanged on Update so callers control when messages take effect,
// typically from a periodic tick.
type Manager struct {
	lggr     logger.Logger
	joiner   Joiner
	url      string
	userName string
	app      string

	mu        sync.Mutex
	transport client.Transport
	peers     map[string]PeerUser
	inbound   []client.ChannelEvent
	outbound  [][]byte
	subs      map[int]func(Message)
	nextSubID int
	stopped   bool
}

// NewManager creates a manager for the channel at url. The manager is
// inert until Join is called.
func NewManager(lggr logger.Logger, joiner Joiner, url, userName, app string) *Manager {
	return &Manager{
		lggr:     lggr,
		joiner:   joiner,
		url:      url,
		userName: userName,
		app:      app,
		peers:    make(map[string]PeerUser),
		subs:     make(map[int]func(Message)),
	}
}

// Join connects to the channel, announces this participant, and asks the
// peers already present to identify themselves.
func (m *Manager) Join(ctx context.Context) error {
	transport, err := m.joiner.JoinChannel(ctx, m.url)
	if err != nil {
		return fmt.Errorf("join channel %s: %w", m.url, err)
	}

	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()

	go m.readLoop(transport)

	if err := m.Send(TypeJoin, nil); err != nil {
		return err
	}

	return m.Send(TypeGetUsers, nil)
}

// readLoop buffers transport events until the next Update.
func (m *Manager) readLoop(transport client.Transport) {
	for ev := range transport.Events() {
		m.mu.Lock()
		m.inbound = append(m.inbound, ev)
		m.mu.Unlock()
	}
}

// Send queues a message for broadcast on the next Update.
func (m *Manager) Send(msgType MessageType, content map[string]any) error {
	payload, err := encode(msgType, m.userName, m.app, content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return fmt.Errorf("channel %s: %w", m.url, client.ErrClosed)
	}
	m.outbound = append(m.outbound, payload)

	return nil
}

// SendMessage queues an application message.
func (m *Manager) SendMessage(content map[string]any) error {
	return m.Send(TypeMessage, content)
}

// Update drains buffered peer events and flushes queued outgoing
// messages. Call it on a short periodic tick while the channel is active.
func (m *Manager) Update(ctx context.Context) error {
	m.mu.Lock()
	inbound := m.inbound
	m.inbound = nil
	transport := m.transport
	m.mu.Unlock()

	if transport == nil {
		return fmt.Errorf("channel %s not joined", m.url)
	}

	for _, ev := range inbound {
		m.handleEvent(ev)
	}

	for {
		m.mu.Lock()
		if len(m.outbound) == 0 {
			m.mu.Unlock()
			break
		}
		payload := m.outbound[0]
		m.outbound = m.outbound[1:]
		m.mu.Unlock()

		if err := transport.Send(ctx, payload); err != nil {
			return fmt.Errorf("flush channel %s: %w", m.url, err)
		}
	}

	return nil
}

func (m *Manager) handleEvent(ev client.ChannelEvent) {
	switch ev.Type {
	case client.ChannelJoin:
		// The peer introduces itself with a JOIN envelope; nothing to
		// track until then.
	case client.ChannelLeft, client.ChannelDeleted:
		m.mu.Lock()
		peer, known := m.peers[ev.From]
		delete(m.peers, ev.From)
		m.mu.Unlock()
		if known {
			m.notify(Message{Type: TypeLeft, From: peer})
		}
	case client.ChannelMessage:
		m.handleMessage(ev)
	}
}

func (m *Manager) handleMessage(ev client.ChannelEvent) {
	env, err := decode(ev.Data)
	if err != nil {
		m.lggr.Warnw("Ignoring channel message", "channel", m.url, "from", ev.From, "err", err)
		return
	}

	peer := PeerUser{ID: ev.From, Name: env.FromUserName, App: env.App}

	switch env.MessageType {
	case TypeJoin, TypeHello:
		m.mu.Lock()
		_, known := m.peers[ev.From]
		m.peers[ev.From] = peer
		m.mu.Unlock()
		if !known {
			m.notify(Message{Type: env.MessageType, From: peer})
		}
		if env.MessageType == TypeJoin {
			if err := m.Send(TypeHello, nil); err != nil {
				m.lggr.Warnw("Hello reply failed", "channel", m.url, "err", err)
			}
		}
	case TypeGetUsers:
		if err := m.Send(TypeHello, nil); err != nil {
			m.lggr.Warnw("Hello reply failed", "channel", m.url, "err", err)
		}
	case TypeLeft:
		m.mu.Lock()
		delete(m.peers, ev.From)
		m.mu.Unlock()
		m.notify(Message{Type: TypeLeft, From: peer})
	case TypeMessage, TypeMergeStarted, TypeMergeFinished:
		if env.MessageType == TypeMessage && len(env.Content) == 0 {
			m.lggr.Warnw("Ignoring channel message without content", "channel", m.url, "from", env.FromUserName)
			return
		}
		m.notify(Message{Type: env.MessageType, From: peer, Content: env.Content})
	default:
		m.lggr.Debugw("Unknown message type", "channel", m.url, "type", env.MessageType)
	}
}

func (m *Manager) notify(msg Message) {
	m.mu.Lock()
	subs := make([]func(Message), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

// Subscribe registers fn for every delivered message and returns a
// function that removes the subscription. Callbacks run from Update.
func (m *Manager) Subscribe(fn func(Message)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Users returns the peers currently present, sorted by name.
func (m *Manager) Users() []PeerUser {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]PeerUser, 0, len(m.peers))
	for _, p := range m.peers {
		users = append(users, p)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}

		return users[i].ID < users[j].ID
	})

	return users
}

// Leave announces the departure, flushes it, and closes the transport.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil {
		return nil
	}

	if err := m.Send(TypeLeft, nil); err != nil {
		return err
	}
	if err := m.Update(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.stopped = true
	m.transport = nil
	m.peers = make(map[string]PeerUser)
	m.mu.Unlock()

	return transport.Close()
}
