// Command simplesensor simulates a fleet of sensors feeding live transform
// updates into one stage: one box per worker, each worker reporting at its
// own cadence until interrupted.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/internal/sample"
	"github.com/stagelink/connect/pkg/logger"
	"github.com/stagelink/connect/stage"
)

func main() {
	var verbose bool

	cmd := &cobra.Command{
		Use:          "simplesensor <folder-url> <worker-count>",
		Short:        "Feed live transform updates into a stage from concurrent workers",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[1])
			if err != nil || count < 1 {
				return fmt.Errorf("invalid worker count %q", args[1])
			}

			return run(cmd.Context(), args[0], count, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// update is one sensor reading: a new angle for one worker's box.
type update struct {
	index int
	angle float64
}

func run(ctx context.Context, folderURL string, workers int, verbose bool) error {
	cfg := sample.LoadConfig("simplesensor")
	lggr := sample.NewLogger(verbose)
	defer func() { _ = lggr.Sync() }()

	conn := sample.Connect(lggr, cfg)
	defer func() { _ = conn.Close() }()

	stg, prims, err := createSensorStage(ctx, lggr, conn, folderURL, workers)
	if err != nil {
		return err
	}

	// Workers only produce readings; the stage itself is touched by a
	// single applier goroutine, since stages are not safe for concurrent
	// edits.
	updates := make(chan update, workers*4)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			return runSensor(gctx, i, updates)
		})
	}
	g.Go(func() error {
		return applyReadings(gctx, lggr, stg, prims, updates)
	})

	lggr.Infow("Sensors running", "workers", workers, "stage", stg.RootLayer().Identifier())
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	conn.WaitForPendingUpdates()
	lggr.Infow("Stopped")

	return nil
}

// createSensorStage recreates the sensor stage with one box per worker,
// lined up on the x axis.
func createSensorStage(ctx context.Context, lggr logger.Logger, conn *client.Connection, folderURL string, workers int) (*stage.Stage, []stage.Prim, error) {
	stageURL := client.Join(folderURL, "simplesensor.live")

	if err := conn.CreateFolder(ctx, folderURL); err != nil {
		return nil, nil, err
	}
	if err := conn.Delete(ctx, stageURL); err != nil && !client.IsNotFound(err) {
		return nil, nil, err
	}

	stg, err := stage.CreateNew(ctx, conn, stageURL)
	if err != nil {
		return nil, nil, err
	}
	stg.SetUpAxis("Y")

	root, err := stage.DefineXform(stg, stage.MustParsePath("/Root"))
	if err != nil {
		return nil, nil, err
	}
	stg.SetDefaultPrim(root.Prim)

	prims := make([]stage.Prim, 0, workers)
	for i := 0; i < workers; i++ {
		cube, err := stage.DefineCube(stg, stage.MustParsePath("/Root").AppendChild(fmt.Sprintf("sensor_%d", i)))
		if err != nil {
			return nil, nil, err
		}
		if err := cube.SetSize(10); err != nil {
			return nil, nil, err
		}
		if err := stage.SetLocalSRT(cube.Prim,
			stage.Vec3d{float64(i) * 25, 0, 0}, stage.Vec3d{}, stage.Vec3d{1, 1, 1}); err != nil {
			return nil, nil, err
		}
		prims = append(prims, cube.Prim)
	}

	if err := stg.LiveProcess(ctx); err != nil {
		return nil, nil, err
	}
	lggr.Infow("Created sensor stage", "url", stageURL, "sensors", workers)

	return stg, prims, nil
}

// runSensor emits readings for one box at a jittered cadence.
func runSensor(ctx context.Context, index int, updates chan<- update) error {
	angle := 0.0
	for {
		delay := time.Duration(100+rand.Intn(400)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		angle += 5 + rand.Float64()*10
		select {
		case updates <- update{index: index, angle: angle}:
		case <-ctx.Done():
			return nil
		}
	}
}

// applyReadings applies readings to the stage and replicates them.
func applyReadings(ctx context.Context, lggr logger.Logger, stg *stage.Stage, prims []stage.Prim, updates <-chan update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			p := prims[u.index]
			translate, _, scale, err := stage.GetLocalSRT(p)
			if err != nil {
				return err
			}
			if err := stage.SetLocalSRT(p, translate, stage.Vec3d{0, u.angle, 0}, scale); err != nil {
				return err
			}
			if err := stg.LiveProcess(ctx); err != nil {
				return err
			}
			lggr.Debugw("Applied reading", "sensor", u.index, "angle", u.angle)
		}
	}
}
