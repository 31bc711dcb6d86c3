package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"polycast/internal/app"
	"polycast/internal/config"
)

const shutdownTimeout = 30 * time.Second

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(context.Background(), os.Getenv("POLYCAST_CONFIG_FILE")); err != nil {
		log.Fatal().Err(err).Msg("polycast exited")
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Configuration precedence is defaults, then the optional file, then env
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}
