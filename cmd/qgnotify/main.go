package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"qgnotify/internal/app"
	"qgnotify/internal/clock"
	"qgnotify/internal/config"
	"qgnotify/internal/domain"
	"qgnotify/internal/ingest"
)

// main starts notification service or publishes one analysis to NATS ingest.
// Params: CLI flags (--config-file or --config-dir, optional --publish file).
// Returns: process exit code by startup/run result.
func main() {
	var (
		configFile  = flag.String("config-file", "", "path to one TOML config file")
		configDir   = flag.String("config-dir", "", "path to directory with TOML config fragments")
		publishFile = flag.String("publish", "", "publish analysis JSON file to NATS ingest and exit")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if *publishFile != "" {
		if err := publish(source, *publishFile); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "publish failed:", err.Error())
			os.Exit(1)
		}
		return
	}

	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}

// publish reads one analysis document and sends it to the configured ingest stream.
func publish(source config.ConfigSource, path string) error {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read analysis %q: %w", path, err)
	}
	analysis, err := domain.DecodeAnalysis(body)
	if err != nil {
		return err
	}

	publisher, err := ingest.NewPublisher(cfg.Ingest.NATS)
	if err != nil {
		return err
	}
	defer publisher.Close()
	return publisher.Publish(analysis)
}
