package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studiocast/studio/internal/config"
	"github.com/studiocast/studio/internal/logging"
	"github.com/studiocast/studio/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type mode int

const (
	modeAll mode = iota
	modeAPI
	modeWorker
)

func newRootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Studio multi-camera production API and workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, modeAll)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "api",
		Short: "Serve the HTTP and WebSocket API only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, modeAPI)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Process queued jobs only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, modeWorker)
		},
	})
	return rootCmd
}

func run(cmdCtx context.Context, configFile string, m mode) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New("studio", cfg.Server.LogLevel, cfg.Server.Env)

	app, err := server.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error("process stopped", "component", name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				stop()
			}
		}()
	}

	if m != modeWorker {
		start("api", app.RunAPI)
	}
	if m != modeAPI {
		start("worker", app.RunWorker)
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return errors.Join(errs...)
}
