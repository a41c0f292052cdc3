// count-once loads the model, runs a single count for one source and prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/app"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/notify"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// output is what gets printed on success
type output struct {
	Event  notify.DetectionCompleteEvent `json:"event"`
	Result detection.Snapshot            `json:"result"`
	Image  string                        `json:"image,omitempty"`
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, app.Options{}))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, opts app.Options) int {
	fs := flag.NewFlagSet("count-once", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file")
	sourceID := fs.String("source", "", "Source id to count (required)")
	outPath := fs.String("out", "", "Write the annotated JPEG to this path")
	timeout := fs.Duration("timeout", 5*time.Minute, "Overall time limit, model load included")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *sourceID == "" {
		fmt.Fprintln(stderr, "count-once: -source is required")
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.LoadWithOverrides(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitError
	}
	if _, ok := cfg.Source(*sourceID); !ok {
		fmt.Fprintf(stderr, "Unknown source %q\n", *sourceID)
		return exitUsage
	}

	// stdout carries the result, so logs go to stderr
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return exitError
	}
	defer log.Sync()

	// A one-shot run restores nothing and serves nothing
	cfg.Counter.State.RestoreOnStart = false
	opts.Serve = false

	a, err := app.New(cfg, log, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return exitError
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn("Shutdown error", "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Failed to start: %v\n", err)
		return exitError
	}

	result, err := a.Coordinator.Count(ctx, *sourceID)
	if err != nil {
		kind, _ := detection.KindOf(err)
		fmt.Fprintf(stderr, "Count failed (%s): %v\n", kind, err)
		return exitError
	}

	out := output{
		Event:  notify.NewDetectionCompleteEvent(result),
		Result: result.Snapshot(),
	}
	if *outPath != "" {
		if err := os.WriteFile(*outPath, result.AnnotatedImage(), 0644); err != nil {
			fmt.Fprintf(stderr, "Failed to write image: %v\n", err)
			return exitError
		}
		out.Image = *outPath
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "Failed to write result: %v\n", err)
		return exitError
	}
	return exitOK
}
