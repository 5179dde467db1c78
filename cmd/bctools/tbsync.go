package main

import (
	"fmt"

	"github.com/SzilBalazs/bctools/internal/runner"
	"github.com/spf13/cobra"
)

var (
	tbsyncDest        string
	tbsyncConcurrency int
	tbsyncAllLinks    bool
	tbsyncSaveIndex   bool
	tbsyncList        bool
)

var tbsyncCmd = &cobra.Command{
	Use:   "tbsync [source...]",
	Short: "Mirror Syzygy tablebases from a directory listing",
	Long: `Fetches the index page of each named source, then downloads every linked
file into the destination. A failed file is reported and the rest continue.
Without arguments the configured default source is synced.`,
	Example: `  # The 6-man WDL tables into ./tb
  bctools tbsync --dest tb

  # Both lichess directories, 8 downloads at a time
  bctools tbsync -c 8 3-4-5 6-wdl

  # Straight into a bucket
  bctools tbsync --dest "s3://my-tables?region=eu-west-1" 3-4-5`,
	RunE: runTBSync,
}

func init() {
	rootCmd.AddCommand(tbsyncCmd)

	tbsyncCmd.Flags().StringVar(&tbsyncDest, "dest", "", "destination directory or bucket URL (overrides tablebase.destination)")
	tbsyncCmd.Flags().IntVarP(&tbsyncConcurrency, "concurrency", "c", 0, "parallel downloads (overrides tablebase.concurrency)")
	tbsyncCmd.Flags().BoolVar(&tbsyncAllLinks, "all-links", false, "download every link, including parent and sort links")
	tbsyncCmd.Flags().BoolVar(&tbsyncSaveIndex, "save-index", false, "keep the fetched index as index.html")
	tbsyncCmd.Flags().BoolVar(&tbsyncList, "list", false, "print the index and exit")
}

func runTBSync(cmd *cobra.Command, args []string) error {
	appCtx, cleanup, err := bootstrap(!tbsyncList)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := appCtx.Config
	if cmd.Flags().Changed("dest") {
		cfg.Tablebase.Destination = tbsyncDest
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Tablebase.Concurrency = max(tbsyncConcurrency, 1)
	}
	if tbsyncAllLinks {
		cfg.Tablebase.SkipNonFiles = false
	}
	if tbsyncSaveIndex {
		cfg.Tablebase.SaveIndex = true
	}

	names := args
	if len(names) == 0 {
		names = []string{cfg.Tablebase.DefaultSource}
	}

	// Resolve every name up front so a typo fails before any download
	for _, name := range names {
		if _, err := cfg.Source(name); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	syncer, sink, err := newSyncer(ctx, appCtx)
	if err != nil {
		return err
	}
	defer sink.Close()
	appCtx.Synchronizer = syncer

	if tbsyncList {
		for _, name := range names {
			src, _ := cfg.Source(name)
			index, err := syncer.Index(ctx, src.BaseURL)
			if err != nil {
				return err
			}
			for _, entry := range index.Entries {
				fmt.Fprintln(cmd.OutOrStdout(), entry)
			}
		}
		return nil
	}

	m := runner.NewManager(appCtx)

	var failedSources []string
	for _, name := range names {
		run, err := m.NewSyncRun(name)
		if err != nil {
			return err
		}
		if err := m.Execute(ctx, run); err != nil {
			appCtx.Logger.Error("%s: %v", name, runFailure(run, err, "files"))
			failedSources = append(failedSources, name)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if len(failedSources) > 0 {
		return fmt.Errorf("tablebase sync incomplete for %v", failedSources)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
