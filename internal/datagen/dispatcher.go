package datagen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/infra/logger"
	"github.com/sourcegraph/conc"
)

// Launcher runs one generator process to completion. It returns the exit code
// and a *domain.LaunchError or *domain.WorkerExitError on failure.
type Launcher interface {
	Run(ctx context.Context, task domain.WorkerTask) (exitCode int, err error)
}

type Dispatcher struct {
	launcher Launcher
	log      *logger.Logger
}

func NewDispatcher(launcher Launcher, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{launcher: launcher, log: log}
}

// Partition splits total into workers shares. The first total%workers shares
// get one extra unit, so the shares always sum to total.
func Partition(total int64, workers int) []int64 {
	if workers < 1 {
		return nil
	}

	base := total / int64(workers)
	rem := total % int64(workers)

	shares := make([]int64, workers)
	for i := range shares {
		shares[i] = base
		if int64(i) < rem {
			shares[i]++
		}
	}
	return shares
}

// Dispatch launches one generator per share and waits for all of them.
// Worker failures never stop siblings; they are reported in the result.
// The returned error is only for requests that cannot be dispatched.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.WorkRequest) (*domain.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	shares := Partition(req.TotalUnits, req.WorkerCount)
	outcomes := make([]domain.WorkerOutcome, req.WorkerCount)

	d.log.Info("Dispatching %s", req)
	start := time.Now()

	var wg conc.WaitGroup
	for i, share := range shares {
		task := domain.WorkerTask{WorkerID: i, Share: share}

		wg.Go(func() {
			d.log.Debug("worker %d: starting with share %d", task.WorkerID, task.Share)

			code, err := d.launcher.Run(ctx, task)
			outcomes[task.WorkerID] = domain.NewWorkerOutcome(task, code, err)

			if err != nil {
				d.log.Error("worker %d failed: %v", task.WorkerID, err)
				return
			}
			d.log.Info("worker %d finished (%d units)", task.WorkerID, task.Share)
		})
	}
	wg.Wait()

	result := &domain.RunResult{Request: req, Outcomes: outcomes}

	if failed := result.Failed(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, o := range failed {
			names = append(names, fmt.Sprintf("%d (%s)", o.WorkerID, o.Kind))
		}
		d.log.Warn("Dispatch finished in %s: %d/%d workers failed: %s",
			time.Since(start).Truncate(time.Second), len(failed), req.WorkerCount, strings.Join(names, ", "))
	} else {
		d.log.Info("Dispatch finished in %s: all %d workers succeeded",
			time.Since(start).Truncate(time.Second), req.WorkerCount)
	}

	return result, nil
}
