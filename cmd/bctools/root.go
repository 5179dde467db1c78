package main

import (
	"context"
	"fmt"

	"github.com/SzilBalazs/bctools/internal/app"
	"github.com/SzilBalazs/bctools/internal/datagen"
	"github.com/SzilBalazs/bctools/internal/infra/config"
	"github.com/SzilBalazs/bctools/internal/infra/logger"
	"github.com/SzilBalazs/bctools/internal/platform"
	"github.com/SzilBalazs/bctools/internal/store"
	"github.com/SzilBalazs/bctools/internal/tablebase"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bctools",
	Short: "Training data and tablebase tooling for the BlackCore engine",
	Long: `bctools drives the BlackCore chess engine's data generator across several
processes and mirrors Syzygy endgame tablebases from a remote directory listing.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultPath+")")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// bootstrap loads config and logging, and opens the history store when
// withStore is set. The returned cleanup flushes and closes everything.
func bootstrap(withStore bool) (*app.Context, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(logger.Options{
		FilePath:      cfg.Log.Path,
		Level:         logger.ParseLevel(cfg.Log.Level),
		IncludeStdout: cfg.Log.IncludeStdout,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxBackups:    cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(cfg, log)
	closers := []func(){func() { _ = log.Sync() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if withStore {
		st, err := store.Open(cfg.Store)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to open run history: %w", err)
		}
		// A nil *PersistentStore must not end up in the interface
		if st != nil {
			appCtx.Store = st
			closers = append(closers, func() { _ = st.Close() })
		}
	}

	return appCtx, cleanup, nil
}

// newDispatcher resolves the generator binary and prepares its data directory.
func newDispatcher(appCtx *app.Context) (*datagen.Dispatcher, error) {
	g := appCtx.Config.Generator

	bin, err := platform.ResolveGenerator(g.Binary, g.WorkDir)
	if err != nil {
		return nil, err
	}
	if err := platform.PrepareDataDir(g.WorkDir, g.DataDir); err != nil {
		return nil, err
	}

	gen := datagen.NewCLIGenerator(bin, g.Command, g.WorkDir, g.Timeout, appCtx.Logger)
	return datagen.NewDispatcher(gen, appCtx.Logger), nil
}

// newSyncer opens the destination sink and builds the HTTP client from config.
func newSyncer(ctx context.Context, appCtx *app.Context) (*tablebase.Syncer, tablebase.Sink, error) {
	tb := appCtx.Config.Tablebase
	h := appCtx.Config.HTTP

	sink, err := tablebase.OpenSink(ctx, tb.Destination)
	if err != nil {
		return nil, nil, err
	}

	client := tablebase.NewClient(tablebase.ClientOptions{
		Timeout:         h.Timeout,
		RetryAttempts:   h.RetryAttempts,
		RetryBackoff:    h.RetryBackoff,
		RetryMaxBackoff: h.RetryMaxBackoff,
		RateLimit:       h.RateLimit,
	})

	syncer := tablebase.NewSyncer(client, sink, appCtx.Logger, tablebase.Options{
		Concurrency:  tb.Concurrency,
		SaveIndex:    tb.SaveIndex,
		SkipNonFiles: tb.SkipNonFiles,
	})
	return syncer, sink, nil
}
