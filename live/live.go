package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/stagelink/connect/channel"
	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/pkg/logger"
	"github.com/stagelink/connect/stage"
)

// Options configures the joining participant.
type Options struct {
	// UserName identifies this participant on the channel and, for new
	// sessions, becomes the session owner.
	UserName string
	// App is the application name announced on the channel.
	App string
	// Description is stored in the configuration of a newly created
	// session. Ignored when joining an existing one.
	Description string
}

// Session is one participant's view of a live editing session: the shared
// live layer mounted on the stage, and the message channel to the other
// participants.
type Session struct {
	lggr     logger.Logger
	client   Client
	info     Info
	cfg      Config
	userName string

	stg       *stage.Stage
	layer     *stage.Layer
	mgr       *channel.Manager
	cancelSub func()

	mu   sync.Mutex
	left bool
}

// Join joins the named session of the stage, creating it if it does not
// exist. The stage's edit target is redirected to the session's live
// layer; edits replicate to other participants on Update.
func Join(ctx context.Context, lggr logger.Logger, c Client, stg *stage.Stage, name string, opts Options) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if opts.UserName == "" {
		return nil, fmt.Errorf("join session %q: user name is required", name)
	}

	info := Info{StageURL: stg.RootLayer().Identifier(), Name: name}

	cfg, err := LoadConfig(ctx, c, info.ConfigURL())
	switch {
	case client.IsNotFound(err):
		cfg = Config{
			Version:     ConfigVersion,
			UserName:    opts.UserName,
			StageURL:    info.StageURL,
			Mode:        DefaultMode,
			Name:        name,
			Description: opts.Description,
		}
		if err := c.CreateFolder(ctx, info.FolderURL()); err != nil {
			return nil, fmt.Errorf("create session folder %s: %w", info.FolderURL(), err)
		}
		if err := SaveConfig(ctx, c, info.ConfigURL(), cfg); err != nil {
			return nil, err
		}
		lggr.Infow("Created session", "name", name, "stage", info.StageURL, "owner", cfg.UserName)
	case err != nil:
		return nil, err
	default:
		if cfg.StageURL != info.StageURL {
			lggr.Warnw("Session was created for a different stage URL",
				"session", name, "configured", cfg.StageURL, "opened", info.StageURL)
		}
	}

	layer, err := openLiveLayer(ctx, c, info.RootLayerURL())
	if err != nil {
		return nil, err
	}
	stg.InsertSessionSublayer(layer)
	stg.SetEditTarget(layer)

	mgr := channel.NewManager(lggr, c, info.ChannelURL(), opts.UserName, opts.App)
	if err := mgr.Join(ctx); err != nil {
		stg.RemoveSessionSublayers()
		return nil, err
	}

	cancelSub, err := c.Subscribe(ctx, info.RootLayerURL(), func(ev client.Event) {
		stg.QueueExternalUpdate(ev.URL, ev.Data)
	})
	if err != nil {
		_ = mgr.Leave(ctx)
		stg.RemoveSessionSublayers()

		return nil, fmt.Errorf("subscribe to live layer: %w", err)
	}

	return &Session{
		lggr:      lggr,
		client:    c,
		info:      info,
		cfg:       cfg,
		userName:  opts.UserName,
		stg:       stg,
		layer:     layer,
		mgr:       mgr,
		cancelSub: cancelSub,
	}, nil
}

// openLiveLayer reads the shared live layer, creating an empty one for a
// fresh session.
func openLiveLayer(ctx context.Context, c Client, url string) (*stage.Layer, error) {
	data, err := c.ReadFile(ctx, url)
	if client.IsNotFound(err) {
		layer := stage.NewLayer(url)
		encoded, err := layer.Encode()
		if err != nil {
			return nil, err
		}
		if err := c.WriteFile(ctx, url, encoded); err != nil {
			return nil, fmt.Errorf("create live layer %s: %w", url, err)
		}

		return layer, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open live layer %s: %w", url, err)
	}

	return stage.DecodeLayer(url, data)
}

// Stage returns the stage the session is mounted on.
func (s *Session) Stage() *stage.Stage { return s.stg }

// Layer returns the session's shared live layer.
func (s *Session) Layer() *stage.Layer { return s.layer }

// Channel returns the session's message channel manager.
func (s *Session) Channel() *channel.Manager { return s.mgr }

// Info returns the session's location.
func (s *Session) Info() Info { return s.info }

// Config returns the session configuration read or written on join.
func (s *Session) Config() Config { return s.cfg }

// IsOwner reports whether this participant owns the session. Only the
// owner may merge it.
func (s *Session) IsOwner() bool { return s.cfg.UserName == s.userName }

// Update exchanges channel messages and replicates live layer edits. Call
// it on a short periodic tick, and after every local edit.
func (s *Session) Update(ctx context.Context) error {
	if err := s.mgr.Update(ctx); err != nil {
		return err
	}

	return s.stg.LiveProcess(ctx)
}

// Leave announces the departure, stops replication, and restores the
// stage's edit target to its root layer.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return nil
	}
	s.left = true
	s.mu.Unlock()

	s.cancelSub()
	err := s.mgr.Leave(ctx)
	s.stg.RemoveSessionSublayers()

	return err
}
