package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the short label used in summaries and run details.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindLaunch      ErrorKind = "launch"
	KindExit        ErrorKind = "exit"
	KindFetch       ErrorKind = "fetch"
	KindIndexFormat ErrorKind = "index_format"
	KindWrite       ErrorKind = "write"
	KindCancelled   ErrorKind = "cancelled"
	KindOther       ErrorKind = "other"
)

// ErrRunFinished indicates a cancel was requested for a run that already ended
var ErrRunFinished = errors.New("run already finished")

// ErrUnknownSource indicates a tablebase source name that is not configured
var ErrUnknownSource = errors.New("unknown tablebase source")

// LaunchError means the generator process could not be started at all.
type LaunchError struct {
	WorkerID int
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("worker %d: launch failed: %v", e.WorkerID, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// WorkerExitError means the generator ran but exited with a failure status.
type WorkerExitError struct {
	WorkerID int
	ExitCode int
}

func (e *WorkerExitError) Error() string {
	return fmt.Sprintf("worker %d: exited with code %d", e.WorkerID, e.ExitCode)
}

// FetchError covers transport failures and non-success HTTP statuses.
// StatusCode is 0 when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IndexFormatError means the index document could not be read as text.
// Zero links found is not an error.
type IndexFormatError struct {
	URL string
	Err error
}

func (e *IndexFormatError) Error() string {
	return fmt.Sprintf("index %s: unreadable document: %v", e.URL, e.Err)
}

func (e *IndexFormatError) Unwrap() error { return e.Err }

// WriteError is a local (or bucket) write failure for one resource.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// KindOf classifies err by the taxonomy above.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var (
		launchErr *LaunchError
		exitErr   *WorkerExitError
		fetchErr  *FetchError
		formatErr *IndexFormatError
		writeErr  *WriteError
	)

	switch {
	case errors.As(err, &launchErr):
		return KindLaunch
	case errors.As(err, &exitErr):
		return KindExit
	case errors.As(err, &formatErr):
		return KindIndexFormat
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &writeErr):
		return KindWrite
	case isContextErr(err):
		return KindCancelled
	default:
		return KindOther
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
