package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/playclock/internal/config"
	"github.com/goodtune/playclock/internal/playtime"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one enforcement sweep",
	Long: `Scan all open sessions once and force-close those whose account has
reached its daily limit. Expired sessions are closed when
sweeper.close_expired is enabled.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel)

	env, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = env.store.Close() }()

	sweeper := playtime.NewSweeper(env.manager, playtime.SweeperConfig{
		CloseExpired: cfg.Sweeper.CloseExpired,
	}, logger)

	result, err := sweeper.Tick(context.Background())
	if errors.Is(err, playtime.ErrSweepInProgress) {
		_, _ = color.New(color.FgYellow).Println("Another sweep is running; nothing to do.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	_, _ = cyan.Println(separator)
	_, _ = cyan.Println("ENFORCEMENT SWEEP")
	_, _ = cyan.Println(separator)
	fmt.Println()
	fmt.Printf("Scanned:     %d\n", result.Scanned)
	fmt.Printf("Limit hits:  %d\n", result.LimitHits)
	fmt.Printf("Expired:     %d\n", result.Expired)
	fmt.Printf("Vanished:    %d\n", result.Vanished)
	if result.Errors > 0 {
		_, _ = red.Printf("Errors:      %d\n", result.Errors)
	} else {
		fmt.Printf("Errors:      %d\n", result.Errors)
	}
	fmt.Printf("Duration:    %s\n", result.Duration)
	fmt.Println()
	return nil
}
