// Command helloworld connects to a content location, builds a small demo
// scene (geometry with physics, lights, a bound material), checkpoints it,
// and can then live-edit it collaboratively.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelink/connect/channel"
	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/internal/sample"
	"github.com/stagelink/connect/pkg/logger"
	"github.com/stagelink/connect/stage"
)

type flags struct {
	live     bool
	path     string
	existing string
	verbose  bool
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:   "helloworld",
		Short: "Create a demo stage and optionally live-edit it",
		Long: `Creates a stage with a physics-enabled textured box, a dynamic cube, a
ground collider, lights, and a bound material, checkpointing along the way.
With --live (or --existing) the program then joins the stage's message
channel and live-edits it interactively.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().BoolVarP(&f.live, "live", "l", false, "stay connected and live-edit the created stage")
	cmd.Flags().StringVarP(&f.path, "path", "p", "", "destination folder URL (default derived from the connected user)")
	cmd.Flags().StringVarP(&f.existing, "existing", "e", "", "live-edit this existing stage instead of creating one")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg := sample.LoadConfig("helloworld")
	lggr := sample.NewLogger(f.verbose)
	defer func() { _ = lggr.Sync() }()

	conn := sample.Connect(lggr, cfg)
	defer func() { _ = conn.Close() }()

	liveMode := f.live || f.existing != ""

	var (
		stg    *stage.Stage
		target stage.Prim
		err    error
	)
	if f.existing != "" {
		stg, err = stage.Open(ctx, conn, f.existing)
		if err != nil {
			return err
		}
		target = firstMesh(stg)
		if !target.IsValid() {
			return fmt.Errorf("stage %s has no mesh to edit", f.existing)
		}
		lggr.Infow("Opened existing stage", "url", f.existing, "target", target.Path().String())
	} else {
		folderURL := f.path
		if folderURL == "" {
			folderURL = client.Join(cfg.BasePath, "helloworld")
		}

		stg, err = createDemoStage(ctx, lggr, conn, folderURL, liveMode)
		if err != nil {
			return err
		}
		target = stg.GetPrimAtPath(boxPath)
	}

	if !liveMode {
		return nil
	}

	return liveLoop(ctx, lggr, conn, cfg, stg, target)
}

// createDemoStage recreates the demo stage in folderURL and authors the
// scene into it. In live mode the stage itself is a live layer, so edits
// replicate without an explicit save.
func createDemoStage(ctx context.Context, lggr logger.Logger, conn *client.Connection, folderURL string, liveMode bool) (*stage.Stage, error) {
	name := "helloworld.stage"
	if liveMode {
		name = "helloworld.live"
	}
	stageURL := client.Join(folderURL, name)

	if err := conn.CreateFolder(ctx, folderURL); err != nil {
		return nil, err
	}
	if err := conn.Delete(ctx, stageURL); err != nil && !client.IsNotFound(err) {
		return nil, err
	}

	stg, err := stage.CreateNew(ctx, conn, stageURL)
	if err != nil {
		return nil, err
	}
	lggr.Infow("Created stage", "url", stageURL)

	if err := buildScene(ctx, lggr, conn, stg, folderURL); err != nil {
		return nil, err
	}

	return stg, nil
}

// firstMesh returns the first Mesh prim found on the stage.
func firstMesh(stg *stage.Stage) stage.Prim {
	for _, p := range stg.Traverse() {
		if p.IsA(stage.TypeNameMesh) {
			return p
		}
	}

	return stage.Prim{}
}

// liveLoop joins the stage's message channel, replicates remote edits, and
// serves the interactive commands until quit or interrupt.
func liveLoop(ctx context.Context, lggr logger.Logger, conn *client.Connection, cfg sample.Config, stg *stage.Stage, target stage.Prim) error {
	stageURL := stg.RootLayer().Identifier()

	mgr := channel.NewManager(lggr.Named("Channel"), conn, stageURL+".channel", cfg.Username, cfg.App)
	if err := mgr.Join(ctx); err != nil {
		return err
	}
	defer func() { _ = mgr.Leave(context.WithoutCancel(ctx)) }()

	unsubscribe := mgr.Subscribe(func(msg channel.Message) {
		switch msg.Type {
		case channel.TypeJoin, channel.TypeHello:
			lggr.Infow("Peer joined", "user", msg.From.Name, "app", msg.From.App)
		case channel.TypeLeft:
			lggr.Infow("Peer left", "user", msg.From.Name)
		case channel.TypeMessage:
			lggr.Infow("Channel message", "user", msg.From.Name, "content", msg.Content)
		}
	})
	defer unsubscribe()

	cancelSub, err := conn.Subscribe(ctx, stageURL, func(ev client.Event) {
		stg.QueueExternalUpdate(ev.URL, ev.Data)
	})
	if err != nil {
		return err
	}
	defer cancelSub()

	lggr.Infow("Live editing", "stage", stageURL, "target", target.Path().String())
	fmt.Println("Commands: [t] move the mesh, [m] send a message, [l] leave the channel, [q] quit")

	ticker := time.NewTicker(sample.UpdateInterval)
	defer ticker.Stop()
	cmds := sample.ReadCommands(ctx)

	// Stops deliveries so the pending-update drain below cannot race a
	// late one.
	drain := func() {
		cancelSub()
		conn.WaitForPendingUpdates()
	}

	angle := 0.0
	left := false
	for {
		select {
		case <-ctx.Done():
			drain()
			return nil

		case <-ticker.C:
			if !left {
				if err := mgr.Update(ctx); err != nil {
					return err
				}
			}
			if err := stg.LiveProcess(ctx); err != nil {
				return err
			}

		case c, ok := <-cmds:
			if !ok {
				drain()
				return nil
			}
			switch c {
			case 't':
				angle += 15
				if err := stepTransform(target, angle); err != nil {
					return err
				}
				if err := stg.LiveProcess(ctx); err != nil {
					return err
				}
				lggr.Infow("Moved mesh", "angle", angle)
			case 'm':
				fmt.Print("Message: ")
				text := sample.ReadLine()
				if err := mgr.SendMessage(map[string]any{"text": text}); err != nil {
					return err
				}
			case 'l':
				if err := mgr.Leave(ctx); err != nil {
					return err
				}
				left = true
				lggr.Infow("Left the channel")
			case 'q':
				drain()
				return nil
			}
		}
	}
}

// stepTransform places the prim on a 100 unit circle at the given angle,
// rotated to face its direction of travel.
func stepTransform(p stage.Prim, angleDeg float64) error {
	const radius = 100.0

	rad := angleDeg * math.Pi / 180
	_, _, scale, err := stage.GetLocalSRT(p)
	if err != nil {
		return err
	}
	translate := stage.Vec3d{radius * math.Cos(rad), 50, radius * math.Sin(rad)}
	rotate := stage.Vec3d{0, -angleDeg, 0}

	return stage.SetLocalSRT(p, translate, rotate, scale)
}
