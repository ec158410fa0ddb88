package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hiveagent/warden/internal/app"
	"github.com/hiveagent/warden/internal/config"
)

// loadServeConfig loads the config file, if any, and applies the command-line overrides.
func loadServeConfig(flags *ServeFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.Registry != "" {
		cfg.Registry = flags.Registry
	}
	if flags.ServicesDir != "" {
		cfg.ServicesDir = flags.ServicesDir
	}
	return cfg, nil
}

func runServe(ctx context.Context, flags *ServeFlags) error {
	cfg, err := loadServeConfig(flags)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, "")
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
