package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/born-ml/yolo/yolo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var predictOpts struct {
	imageSize int
	conf      float32
	maxDet    int
	workers   int
	auto      bool
	fuse      bool
	output    string
}

var predictCmd = &cobra.Command{
	Use:   "predict IMAGE...",
	Short: "Detect objects in images and print the results as JSON",
	Example: `  yolo predict bus.jpg zidane.jpg
  yolo predict --imgsz 320 --conf 0.5 -o results.json images/*.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPredict,
}

func init() {
	defaults := yolo.DefaultPredictConfig()
	f := predictCmd.Flags()
	f.IntVar(&predictOpts.imageSize, "imgsz", defaults.ImageSize, "Inference size (pixels)")
	f.Float32Var(&predictOpts.conf, "conf", defaults.Conf, "Confidence threshold")
	f.IntVar(&predictOpts.maxDet, "max-det", defaults.MaxDet, "Maximum detections per image")
	f.IntVar(&predictOpts.workers, "workers", defaults.Workers, "Images processed concurrently")
	f.BoolVar(&predictOpts.auto, "auto", false, "Minimal padding to a stride multiple")
	f.BoolVar(&predictOpts.fuse, "fuse", true, "Fold batch norms into convolutions")
	f.StringVarP(&predictOpts.output, "output", "o", "", "Write JSON to a file instead of stdout")
}

// imageResult is one line of predict output.
type imageResult struct {
	Path string `json:"path"`
	yolo.Result
}

func runPredict(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	images := make([]image.Image, len(args))
	for i, path := range args {
		img, err := decodeImage(path)
		if err != nil {
			return err
		}
		images[i] = img
	}

	m, release, err := buildModel()
	if err != nil {
		return err
	}
	defer release()
	if predictOpts.fuse {
		m.Fuse()
	}

	p, err := yolo.NewPredictor(m, yolo.PredictConfig{
		ImageSize: predictOpts.imageSize,
		Conf:      predictOpts.conf,
		MaxDet:    predictOpts.maxDet,
		Workers:   predictOpts.workers,
		Auto:      predictOpts.auto,
	}, yolo.WithPredictLogger(logger))
	if err != nil {
		return err
	}

	results, err := p.Predict(ctx, images)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if predictOpts.output != "" {
		file, err := os.Create(predictOpts.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	for i, r := range results {
		if err := enc.Encode(imageResult{Path: args[i], Result: r}); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		logger.Info("Processed image",
			zap.String("path", args[i]),
			zap.Int("detections", len(r.Detections)),
			zap.Duration("elapsed", r.Elapsed))
	}
	return nil
}

func decodeImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	logger.Debug("Decoded image",
		zap.String("path", path),
		zap.String("format", format),
		zap.Stringer("bounds", img.Bounds()))
	return img, nil
}
