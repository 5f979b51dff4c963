// Command livesession joins (or creates) a live editing session on an
// existing stage and serves an interactive command loop: transform a prim,
// rename prims, inspect peers and session config, and merge the session
// back into the stage.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelink/connect/channel"
	"github.com/stagelink/connect/internal/sample"
	"github.com/stagelink/connect/live"
	"github.com/stagelink/connect/pkg/logger"
	"github.com/stagelink/connect/stage"
)

func main() {
	var (
		stageURL string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:          "livesession",
		Short:        "Join a live editing session on an existing stage",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), stageURL, verbose)
		},
	}

	cmd.Flags().StringVarP(&stageURL, "existing", "e", "", "URL of the stage to join a session on (required)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("existing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, stageURL string, verbose bool) error {
	cfg := sample.LoadConfig("livesession")
	lggr := sample.NewLogger(verbose)
	defer func() { _ = lggr.Sync() }()

	conn := sample.Connect(lggr, cfg)
	defer func() { _ = conn.Close() }()
	defer conn.WaitForPendingUpdates()

	stg, err := stage.Open(ctx, conn, stageURL)
	if err != nil {
		return err
	}

	name, err := pickSession(ctx, conn, stageURL)
	if err != nil {
		return err
	}

	sess, err := live.Join(ctx, lggr.Named("Session"), conn, stg, name, live.Options{
		UserName: cfg.Username,
		App:      cfg.App,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.Leave(context.WithoutCancel(ctx)) }()

	lggr.Infow("Joined session", "name", name, "stage", stageURL, "owner", sess.Config().UserName)

	return commandLoop(ctx, lggr, sess, cfg)
}

// pickSession lists the stage's sessions and lets the user join one or
// name a new one.
func pickSession(ctx context.Context, c live.Client, stageURL string) (string, error) {
	names, err := live.ListSessions(ctx, c, stageURL)
	if err != nil {
		return "", err
	}

	if len(names) == 0 {
		fmt.Println("No sessions exist for this stage.")
	} else {
		fmt.Println("Sessions:")
		for i, n := range names {
			fmt.Printf("  [%d] %s\n", i, n)
		}
	}
	fmt.Print("Select a session number, or [n] to create a new one: ")

	choice := sample.ReadLine()
	if choice == "n" || choice == "N" || len(names) == 0 {
		fmt.Print("New session name: ")
		name := sample.ReadLine()
		if err := live.ValidateName(name); err != nil {
			return "", err
		}

		return name, nil
	}

	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 0 || idx >= len(names) {
		return "", fmt.Errorf("invalid session selection %q", choice)
	}

	return names[idx], nil
}

func commandLoop(ctx context.Context, lggr logger.Logger, sess *live.Session, cfg sample.Config) error {
	// Set from channel callbacks, which run on this goroutine inside
	// sess.Update.
	peerMerged := false

	unsubscribe := sess.Channel().Subscribe(func(msg channel.Message) {
		switch msg.Type {
		case channel.TypeJoin, channel.TypeHello:
			lggr.Infow("Peer joined", "user", msg.From.Name, "app", msg.From.App)
		case channel.TypeLeft:
			lggr.Infow("Peer left", "user", msg.From.Name)
		case channel.TypeMessage:
			lggr.Infow("Channel message", "user", msg.From.Name, "content", msg.Content)
		case channel.TypeMergeStarted, channel.TypeMergeFinished:
			lggr.Infow("Peer merged the session", "user", msg.From.Name)
			peerMerged = true
		}
	})
	defer unsubscribe()

	fmt.Println("Commands: [t] transform, [r] rename prim, [o] print owner, [u] list peers,")
	fmt.Println("          [g] refresh peers, [c] show config, [m] merge and end, [q] quit")

	ticker := time.NewTicker(sample.UpdateInterval)
	defer ticker.Stop()
	cmds := sample.ReadCommands(ctx)

	angle := 0.0
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := sess.Update(ctx); err != nil {
				return err
			}
			if peerMerged {
				lggr.Infow("Session was merged by a peer, exiting")
				return nil
			}

		case c, ok := <-cmds:
			if !ok {
				return nil
			}
			done, err := runCommand(ctx, lggr, sess, cfg, c, &angle)
			if err != nil || done {
				return err
			}
		}
	}
}

func runCommand(ctx context.Context, lggr logger.Logger, sess *live.Session, cfg sample.Config, c rune, angle *float64) (bool, error) {
	switch c {
	case 't':
		*angle += 15
		if err := stepTransform(sess, *angle); err != nil {
			return false, err
		}
		if err := sess.Update(ctx); err != nil {
			return false, err
		}
		lggr.Infow("Transformed prim", "angle", *angle)

	case 'r':
		if err := renamePrim(ctx, sess); err != nil {
			lggr.Errorw("Rename failed", "err", err)
		}

	case 'o':
		fmt.Printf("Session owner: %s (you are %s)\n", sess.Config().UserName, cfg.Username)

	case 'u':
		users := sess.Channel().Users()
		fmt.Printf("%d peer(s):\n", len(users))
		for _, u := range users {
			fmt.Printf("  %s (%s)\n", u.Name, u.App)
		}

	case 'g':
		if err := sess.Channel().Send(channel.TypeGetUsers, nil); err != nil {
			return false, err
		}

	case 'c':
		cfg := sess.Config()
		fmt.Printf("version:     %s\n", cfg.Version)
		fmt.Printf("user_name:   %s\n", cfg.UserName)
		fmt.Printf("stage_url:   %s\n", cfg.StageURL)
		fmt.Printf("mode:        %s\n", cfg.Mode)
		fmt.Printf("name:        %s\n", cfg.Name)
		fmt.Printf("description: %s\n", cfg.Description)

	case 'm':
		return true, merge(ctx, lggr, sess)

	case 'q':
		return true, nil
	}

	return false, nil
}

// stepTransform moves the session's demo prim on a 10 unit circle. The
// prim is the stage's first mesh, or a cube created on demand in the live
// layer.
func stepTransform(sess *live.Session, angleDeg float64) error {
	target := firstMesh(sess.Stage())
	if !target.IsValid() {
		cube, err := stage.DefineCube(sess.Stage(), stage.MustParsePath("/Root/cube"))
		if err != nil {
			return err
		}
		if err := cube.SetSize(5); err != nil {
			return err
		}
		target = cube.Prim
	}

	const radius = 10.0
	rad := angleDeg * math.Pi / 180
	_, _, scale, err := stage.GetLocalSRT(target)
	if err != nil {
		return err
	}
	translate := stage.Vec3d{radius * math.Cos(rad), 0, radius * math.Sin(rad)}

	return stage.SetLocalSRT(target, translate, stage.Vec3d{0, -angleDeg, 0}, scale)
}

func firstMesh(stg *stage.Stage) stage.Prim {
	for _, p := range stg.Traverse() {
		if p.IsA(stage.TypeNameMesh) {
			return p
		}
	}

	return stage.Prim{}
}

// renamePrim renames a prim authored in the session's live layer.
func renamePrim(ctx context.Context, sess *live.Session) error {
	fmt.Print("Prim path: ")
	path, err := stage.ParsePath(sample.ReadLine())
	if err != nil {
		return err
	}
	fmt.Print("New name: ")
	newName := sample.ReadLine()

	if sess.Layer().GetPrimAtPath(path) == nil {
		return fmt.Errorf("prim %s is not authored in this session", path)
	}
	if err := sess.Layer().RenamePrim(path, newName); err != nil {
		return err
	}

	return sess.Update(ctx)
}

// merge folds the session into the stage after asking where the edits
// should land.
func merge(ctx context.Context, lggr logger.Logger, sess *live.Session) error {
	fmt.Print("Merge to the [r]oot layer or a [n]ew sublayer? ")
	target := live.MergeToRoot
	if sample.ReadLine() == "n" {
		target = live.MergeToNewLayer
	}

	if err := sess.Merge(ctx, target); err != nil {
		return err
	}
	lggr.Infow("Merged session", "name", sess.Info().Name)

	return sess.Leave(ctx)
}
