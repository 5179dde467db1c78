package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/runner"
	"github.com/spf13/cobra"
)

var (
	datagenBinary  string
	datagenTimeout time.Duration
)

var datagenCmd = &cobra.Command{
	Use:   "datagen <total> <workers>",
	Short: "Split a data generation job across parallel engine processes",
	Long: `Runs "<binary> datagen <share> <id>" once per worker and waits for all of them.
Every worker gets total/workers units; the first total%workers workers get one more.`,
	Example: `  # 1M positions over 4 processes
  bctools datagen 1000000 4

  # Use a different engine build
  bctools datagen --binary ./BlackCore-avx2 500000 8`,
	Args: cobra.ExactArgs(2),
	RunE: runDatagen,
}

func init() {
	rootCmd.AddCommand(datagenCmd)

	datagenCmd.Flags().StringVar(&datagenBinary, "binary", "", "generator binary (overrides generator.binary)")
	datagenCmd.Flags().DurationVar(&datagenTimeout, "timeout", 0, "per-worker time limit, 0 waits forever (overrides generator.timeout)")
}

func parseWorkRequest(args []string) (domain.WorkRequest, error) {
	total, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return domain.WorkRequest{}, fmt.Errorf("invalid total %q: %w", args[0], err)
	}
	workers, err := strconv.Atoi(args[1])
	if err != nil {
		return domain.WorkRequest{}, fmt.Errorf("invalid worker count %q: %w", args[1], err)
	}

	req := domain.WorkRequest{TotalUnits: total, WorkerCount: workers}
	return req, req.Validate()
}

func runDatagen(cmd *cobra.Command, args []string) error {
	req, err := parseWorkRequest(args)
	if err != nil {
		return err
	}

	appCtx, cleanup, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer cleanup()

	if cmd.Flags().Changed("binary") {
		appCtx.Config.Generator.Binary = datagenBinary
	}
	if cmd.Flags().Changed("timeout") {
		appCtx.Config.Generator.Timeout = datagenTimeout
	}

	dispatcher, err := newDispatcher(appCtx)
	if err != nil {
		return err
	}
	appCtx.Dispatcher = dispatcher

	m := runner.NewManager(appCtx)
	run, err := m.NewDatagenRun(req)
	if err != nil {
		return err
	}

	if err := m.Execute(cmd.Context(), run); err != nil {
		return runFailure(run, err, "workers")
	}

	appCtx.Logger.Info("All %d workers finished (run %s)", run.Total, run.ID)
	return nil
}
