package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkRequest(t *testing.T) {
	req, err := parseWorkRequest([]string{"1000000", "4"})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkRequest{TotalUnits: 1000000, WorkerCount: 4}, req)

	for _, args := range [][]string{
		{"abc", "4"},
		{"100", "x"},
		{"100", "0"},
		{"-5", "2"},
	} {
		_, err := parseWorkRequest(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestPrintRuns(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	runs := []*domain.Run{{
		ID:         "2abc",
		Kind:       domain.KindTBSync,
		Label:      "6-wdl",
		Status:     domain.StatusPartial,
		Total:      10,
		Failed:     2,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}}

	var buf bytes.Buffer
	printRuns(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "6-wdl")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "2/10")
	assert.Contains(t, out, "1m30s")
}

func TestPrintRunDetail(t *testing.T) {
	detail, err := json.Marshal([]domain.WorkerOutcome{
		{WorkerID: 0, Share: 250000},
		{WorkerID: 1, Share: 250000, ExitCode: 3, Kind: domain.KindExit, Error: "worker 1: exited with code 3"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printRun(&buf, &domain.Run{
		ID:     "2abc",
		Kind:   domain.KindDatagen,
		Label:  "500000 units x 2 workers",
		Status: domain.StatusPartial,
		Detail: detail,
	}))

	out := buf.String()
	assert.Contains(t, out, "250,000")
	assert.Contains(t, out, "exited with code 3")
}

func TestRunFailure(t *testing.T) {
	cause := errors.New("generator binary not found")
	run := &domain.Run{Kind: domain.KindDatagen, Status: domain.StatusFailed, Total: 4}

	err := runFailure(run, cause, "workers")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "generator binary not found")
	assert.NotContains(t, err.Error(), "0 of 4")

	run.Status = domain.StatusPartial
	run.Failed = 1
	run.Detail = json.RawMessage(`[{"worker_id":0},{"worker_id":1}]`)
	err = runFailure(run, &domain.WorkerExitError{WorkerID: 1, ExitCode: 3}, "workers")
	assert.EqualError(t, err, "datagen run partial: 1 of 4 workers failed")
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"datagen", "tbsync", "serve", "runs"} {
		assert.True(t, names[want], want)
	}
}
