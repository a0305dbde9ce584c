// Package main provides the yolo CLI: model summaries, image prediction and
// forward-pass benchmarks for YOLOv8 models.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "v0.1.0-dev"

var (
	// Global flags
	verbose     bool
	backendName string
	timeout     time.Duration

	// Model flags
	modelPath string
	scale     string
	numClass  int

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "yolo",
	Short: "YOLOv8 object detection on the Born tensor engine",
	Long: `yolo builds YOLOv8 detection models from ultralytics-style YAML
architecture files and runs them on images.

Weights are freshly initialized; the tool is meant for inspecting
architectures and exercising the inference pipeline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "yolo %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "cpu", "Compute backend: cpu, webgpu or auto")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	// Model selection, shared by every model command
	rootCmd.PersistentFlags().StringVarP(&modelPath, "model", "m", "", "Architecture YAML (default: built-in yolov8.yaml)")
	rootCmd.PersistentFlags().StringVarP(&scale, "scale", "s", "", "Model scale (n, s, m, l, x)")
	rootCmd.PersistentFlags().IntVar(&numClass, "nc", 0, "Override the number of classes")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
