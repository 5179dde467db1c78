package domain

import (
	"errors"
	"fmt"
)

// WorkRequest is one data-generation request split across WorkerCount processes.
type WorkRequest struct {
	TotalUnits  int64 `json:"total"`
	WorkerCount int   `json:"workers"`
}

func (r WorkRequest) Validate() error {
	if r.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", r.WorkerCount)
	}
	if r.TotalUnits < 0 {
		return fmt.Errorf("total units must not be negative, got %d", r.TotalUnits)
	}
	return nil
}

func (r WorkRequest) String() string {
	return fmt.Sprintf("%d units x %d workers", r.TotalUnits, r.WorkerCount)
}

// WorkerTask is the assignment handed to a single generator process.
type WorkerTask struct {
	WorkerID int   `json:"worker_id"`
	Share    int64 `json:"share"`
}

// WorkerOutcome records how one worker finished. Err is nil on success.
type WorkerOutcome struct {
	WorkerID int       `json:"worker_id"`
	Share    int64     `json:"share"`
	ExitCode int       `json:"exit_code"`
	Kind     ErrorKind `json:"kind,omitempty"`
	Error    string    `json:"error,omitempty"`

	Err error `json:"-"`
}

func NewWorkerOutcome(task WorkerTask, exitCode int, err error) WorkerOutcome {
	o := WorkerOutcome{
		WorkerID: task.WorkerID,
		Share:    task.Share,
		ExitCode: exitCode,
		Err:      err,
	}
	if err != nil {
		o.Kind = KindOf(err)
		o.Error = err.Error()
	}
	return o
}

// RunResult is the aggregate of one Dispatch call, outcomes in worker-id order.
type RunResult struct {
	Request  WorkRequest     `json:"request"`
	Outcomes []WorkerOutcome `json:"outcomes"`
}

func (r *RunResult) Succeeded() bool {
	return len(r.Failed()) == 0
}

func (r *RunResult) Failed() []WorkerOutcome {
	var failed []WorkerOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins every worker failure, nil when all workers succeeded.
func (r *RunResult) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// TotalDispatched is the sum of every share handed out.
func (r *RunResult) TotalDispatched() int64 {
	var sum int64
	for _, o := range r.Outcomes {
		sum += o.Share
	}
	return sum
}
