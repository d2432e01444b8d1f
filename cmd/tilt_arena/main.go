// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/tilt_arena/internal/app"
	"github.com/relabs-tech/tilt_arena/internal/config"
)

var (
	flagConfig string
	flagTicks  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tilt_arena",
		Short: "Tilt Arena - roll a ball around a circular arena by tilting the device",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitGlobal(flagConfig); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "tilt_arena_config.txt", "Path to the KEY=VALUE config file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Sample the sensor, move the ball and publish over MQTT",
			RunE: withSignals(func(ctx context.Context) error {
				return app.RunArena(ctx, config.Get())
			}),
		},
		&cobra.Command{
			Use:   "calibrate",
			Short: "Store the current resting orientation as level (producer must be stopped)",
			RunE: withSignals(func(ctx context.Context) error {
				offset, err := app.RunCalibrate(ctx, config.Get())
				if err != nil {
					return err
				}
				fmt.Printf("offset: x=%.4f y=%.4f z=%.4f\n", offset.X, offset.Y, offset.Z)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "web",
			Short: "Serve the live view and REST API",
			RunE: withSignals(func(ctx context.Context) error {
				return app.RunWeb(ctx, config.Get())
			}),
		},
		&cobra.Command{
			Use:   "console",
			Short: "Print ball state and collisions from MQTT",
			RunE: withSignals(func(ctx context.Context) error {
				return app.RunConsoleMQTT(ctx, config.Get())
			}),
		},
		&cobra.Command{
			Use:   "display",
			Short: "Show ball state on the SSD1306 OLED",
			RunE: withSignals(func(ctx context.Context) error {
				return app.RunDisplay(ctx, config.Get())
			}),
		},
	)

	mockCmd := &cobra.Command{
		Use:   "mock",
		Short: "Run the pipeline on the mock sensor and print every tick (no MQTT)",
		RunE: withSignals(func(ctx context.Context) error {
			cfg := config.Get()
			interval := time.Duration(cfg.SampleInterval) * time.Millisecond
			return app.RunMockConsole(ctx, os.Stdout, app.PipelineParams(cfg), cfg.MockSeed, interval, flagTicks)
		}),
	}
	mockCmd.Flags().IntVar(&flagTicks, "ticks", 0, "Stop after this many samples (0 runs until interrupted)")
	rootCmd.AddCommand(mockCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// withSignals runs fn with a context cancelled on Ctrl+C or SIGTERM.
func withSignals(fn func(ctx context.Context) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(ctx)
	}
}
