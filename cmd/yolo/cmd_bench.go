package main

import (
	"fmt"
	"time"

	"github.com/born-ml/born/tensor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var benchOpts struct {
	imageSize int
	batch     int
	iters     int
	warmup    int
	fuse      bool
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Time forward passes on random input",
	Args:  cobra.NoArgs,
	RunE:  runBench,
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchOpts.imageSize, "imgsz", 640, "Input size (pixels)")
	f.IntVar(&benchOpts.batch, "batch", 1, "Batch size")
	f.IntVar(&benchOpts.iters, "iters", 10, "Timed iterations")
	f.IntVar(&benchOpts.warmup, "warmup", 1, "Untimed warmup iterations")
	f.BoolVar(&benchOpts.fuse, "fuse", true, "Fold batch norms into convolutions")
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchOpts.batch <= 0 || benchOpts.iters <= 0 || benchOpts.warmup < 0 {
		return fmt.Errorf("batch and iters must be positive, warmup non-negative")
	}
	m, release, err := buildModel()
	if err != nil {
		return err
	}
	defer release()
	if benchOpts.fuse {
		m.Fuse()
	}

	stride := m.MaxStride()
	size := (benchOpts.imageSize + stride - 1) / stride * stride
	x := tensor.Rand[float32](tensor.Shape{benchOpts.batch, m.Config().InputChannels(), size, size}, m.Backend())

	for i := 0; i < benchOpts.warmup; i++ {
		m.Forward(x)
	}

	var best time.Duration
	start := time.Now()
	for i := 0; i < benchOpts.iters; i++ {
		t0 := time.Now()
		m.Forward(x)
		if d := time.Since(t0); best == 0 || d < best {
			best = d
		}
	}
	mean := time.Since(start) / time.Duration(benchOpts.iters)

	logger.Debug("Benchmark finished",
		zap.Int("size", size),
		zap.Int("batch", benchOpts.batch),
		zap.Duration("mean", mean),
		zap.Duration("best", best))
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %dx%d batch %d on %s: mean %v, best %v over %d runs\n",
		m.Summary(), size, size, benchOpts.batch, m.Backend().Name(), mean, best, benchOpts.iters)
	return nil
}
