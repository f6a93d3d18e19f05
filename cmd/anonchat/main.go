package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"anonchat/internal/app"
	"anonchat/internal/cli"
	"anonchat/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg)
	defer application.Close()

	cmd := cli.NewRootCommand(cfg, application)
	return cmd.ExecuteContext(ctx)
}
