package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/cachefs/internal/cachefs"
)

var cleanConfiguration struct {
	configPath string
	sourceRoot string
	cacheRoot  string
}

var cleanCommand = &cobra.Command{
	Use:   "clean",
	Short: "Run a single cache-eviction sweep and exit",
	RunE:  runClean,
}

func init() {
	flags := cleanCommand.Flags()
	flags.StringVar(&cleanConfiguration.configPath, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&cleanConfiguration.sourceRoot, "source", "", "Source directory (overrides config)")
	flags.StringVar(&cleanConfiguration.cacheRoot, "cache", "", "Cache directory (overrides config)")
}

func runClean(cmd *cobra.Command, args []string) error {
	mountConfiguration.configPath = cleanConfiguration.configPath
	mountConfiguration.sourceRoot = cleanConfiguration.sourceRoot
	mountConfiguration.cacheRoot = cleanConfiguration.cacheRoot

	cfg, err := loadConfiguration()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	preloadFilter, cleanIgnore, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	core := cachefs.New(cfg, preloadFilter, cleanIgnore)
	core.CleanSync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := core.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown did not finish: %w", err)
	}

	fmt.Println("cachefsd: sweep complete")
	return nil
}
