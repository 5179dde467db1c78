package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "Show run history, or the outcomes of a single run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	appCtx, cleanup, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer cleanup()

	if appCtx.Store == nil {
		return fmt.Errorf("run history is disabled (store.driver is none)")
	}

	out := cmd.OutOrStdout()

	if len(args) == 1 {
		run, err := appCtx.Store.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		return printRun(out, run)
	}

	runs, err := appCtx.Store.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	printRuns(out, runs)
	return nil
}

func printRuns(w io.Writer, runs []*domain.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Kind", "Label", "Status", "Failed", "Started", "Duration"})
	table.SetAutoWrapText(false)

	for _, r := range runs {
		table.Append([]string{
			r.ID,
			string(r.Kind),
			r.Label,
			string(r.Status),
			fmt.Sprintf("%d/%d", r.Failed, r.Total),
			formatStarted(r.StartedAt),
			formatDuration(r),
		})
	}
	table.Render()
}

func printRun(w io.Writer, run *domain.Run) error {
	fmt.Fprintf(w, "Run %s (%s) %s: %s\n", run.ID, run.Kind, run.Label, run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	if len(run.Detail) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)

	switch run.Kind {
	case domain.KindDatagen:
		var outcomes []domain.WorkerOutcome
		if err := json.Unmarshal(run.Detail, &outcomes); err != nil {
			return fmt.Errorf("failed to decode run detail: %w", err)
		}
		table.SetHeader([]string{"Worker", "Share", "Exit", "Kind", "Error"})
		for _, o := range outcomes {
			table.Append([]string{
				strconv.Itoa(o.WorkerID),
				humanize.Comma(o.Share),
				strconv.Itoa(o.ExitCode),
				string(o.Kind),
				o.Error,
			})
		}
	case domain.KindTBSync:
		var outcomes []domain.DownloadOutcome
		if err := json.Unmarshal(run.Detail, &outcomes); err != nil {
			return fmt.Errorf("failed to decode run detail: %w", err)
		}
		table.SetHeader([]string{"File", "Size", "Kind", "Error"})
		for _, o := range outcomes {
			table.Append([]string{
				o.Name,
				humanize.Bytes(uint64(o.Bytes)),
				string(o.Kind),
				o.Error,
			})
		}
	}
	table.Render()
	return nil
}

// runFailure describes a run that returned err. A run that stopped before any
// worker or file was attempted reports err itself instead of a failure count.
func runFailure(run *domain.Run, err error, unit string) error {
	if len(run.Detail) == 0 {
		return fmt.Errorf("%s run %s: %w", run.Kind, run.Status, err)
	}
	return fmt.Errorf("%s run %s: %d of %d %s failed", run.Kind, run.Status, run.Failed, run.Total, unit)
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func formatDuration(r *domain.Run) string {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Truncate(time.Second).String()
}
