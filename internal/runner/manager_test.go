package runner

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/SzilBalazs/bctools/internal/app"
	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/infra/config"
	"github.com/SzilBalazs/bctools/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	failIDs map[int]bool
	block   chan struct{}
	started chan struct{}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req domain.WorkRequest) (*domain.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	res := &domain.RunResult{Request: req}
	for i := 0; i < req.WorkerCount; i++ {
		task := domain.WorkerTask{WorkerID: i, Share: req.TotalUnits / int64(req.WorkerCount)}
		var err error
		switch {
		case ctx.Err() != nil:
			err = &domain.LaunchError{WorkerID: i, Err: ctx.Err()}
		case f.failIDs[i]:
			err = &domain.WorkerExitError{WorkerID: i, ExitCode: 1}
		}
		code := 0
		if err != nil {
			code = 1
		}
		res.Outcomes = append(res.Outcomes, domain.NewWorkerOutcome(task, code, err))
	}
	return res, nil
}

type fakeSynchronizer struct {
	indexErr error
	failed   map[string]bool
	entries  []string
}

func (f *fakeSynchronizer) Sync(ctx context.Context, src domain.Source) (*domain.SyncResult, error) {
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	idx := &domain.RemoteIndex{BaseURL: src.BaseURL, Entries: f.entries}
	res := &domain.SyncResult{Source: src.Name, BaseURL: src.BaseURL}
	for _, job := range idx.Jobs() {
		var err error
		if f.failed[job.Name] {
			err = &domain.FetchError{URL: job.SourceURL, StatusCode: 404, Err: errors.New("not found")}
		}
		res.Outcomes = append(res.Outcomes, domain.NewDownloadOutcome(job, 1, err))
	}
	return res, nil
}

func newTestContext(t *testing.T, withStore bool) *app.Context {
	t.Helper()
	cfg := &config.Config{}
	cfg.Tablebase.Sources = []domain.Source{{Name: "3-4-5", BaseURL: "http://tb/3-4-5/"}}

	appCtx := app.NewContext(cfg, nil)
	if withStore {
		s, err := store.Open(config.StoreConfig{Driver: store.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "runs.db")})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		appCtx.Store = s
	}
	return appCtx
}

func TestExecuteDatagenCompleted(t *testing.T) {
	appCtx := newTestContext(t, true)
	appCtx.Dispatcher = &fakeDispatcher{}
	m := NewManager(appCtx)

	run, err := m.NewDatagenRun(domain.WorkRequest{TotalUnits: 100, WorkerCount: 4})
	require.NoError(t, err)
	require.NoError(t, m.Execute(context.Background(), run))

	assert.Equal(t, domain.StatusCompleted, run.Status)
	assert.Equal(t, 4, run.Total)
	assert.Equal(t, 0, run.Failed)
	assert.False(t, run.FinishedAt.IsZero())

	stored, ok := m.Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, stored.Status)

	var outcomes []domain.WorkerOutcome
	require.NoError(t, json.Unmarshal(stored.Detail, &outcomes))
	assert.Len(t, outcomes, 4)
}

func TestExecuteDatagenPartial(t *testing.T) {
	appCtx := newTestContext(t, false)
	appCtx.Dispatcher = &fakeDispatcher{failIDs: map[int]bool{2: true}}
	m := NewManager(appCtx)

	run, err := m.NewDatagenRun(domain.WorkRequest{TotalUnits: 100, WorkerCount: 4})
	require.NoError(t, err)

	err = m.Execute(context.Background(), run)
	var exitErr *domain.WorkerExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.WorkerID)

	assert.Equal(t, domain.StatusPartial, run.Status)
	assert.Equal(t, 1, run.Failed)
	assert.Contains(t, run.Error, "worker 2")
}

func TestExecuteDatagenAllFailed(t *testing.T) {
	appCtx := newTestContext(t, false)
	appCtx.Dispatcher = &fakeDispatcher{failIDs: map[int]bool{0: true, 1: true}}
	m := NewManager(appCtx)

	run, err := m.NewDatagenRun(domain.WorkRequest{TotalUnits: 10, WorkerCount: 2})
	require.NoError(t, err)
	assert.Error(t, m.Execute(context.Background(), run))
	assert.Equal(t, domain.StatusFailed, run.Status)
}

func TestNewDatagenRunRejectsInvalidRequest(t *testing.T) {
	m := NewManager(newTestContext(t, false))

	_, err := m.NewDatagenRun(domain.WorkRequest{TotalUnits: 10, WorkerCount: 0})
	assert.Error(t, err)
	_, err = m.SubmitDatagen(domain.WorkRequest{TotalUnits: -1, WorkerCount: 2})
	assert.Error(t, err)
	assert.Empty(t, m.List())
}

func TestExecuteSync(t *testing.T) {
	appCtx := newTestContext(t, true)
	appCtx.Synchronizer = &fakeSynchronizer{
		entries: []string{"a.rtbw", "b.rtbw", "c.rtbw"},
		failed:  map[string]bool{"b.rtbw": true},
	}
	m := NewManager(appCtx)

	run, err := m.NewSyncRun("3-4-5")
	require.NoError(t, err)
	assert.Error(t, m.Execute(context.Background(), run))

	assert.Equal(t, domain.StatusPartial, run.Status)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 1, run.Failed)

	var outcomes []domain.DownloadOutcome
	require.NoError(t, json.Unmarshal(run.Detail, &outcomes))
	require.Len(t, outcomes, 3)
	assert.Equal(t, domain.KindFetch, outcomes[1].Kind)
}

func TestExecuteSyncIndexFailure(t *testing.T) {
	appCtx := newTestContext(t, false)
	appCtx.Synchronizer = &fakeSynchronizer{indexErr: &domain.FetchError{URL: "http://tb/3-4-5/", StatusCode: 503}}
	m := NewManager(appCtx)

	run, err := m.NewSyncRun("3-4-5")
	require.NoError(t, err)
	assert.Error(t, m.Execute(context.Background(), run))
	assert.Equal(t, domain.StatusFailed, run.Status)
	assert.Equal(t, 0, run.Total)
}

func TestNewSyncRunUnknownSource(t *testing.T) {
	m := NewManager(newTestContext(t, false))

	_, err := m.NewSyncRun("7-man")
	assert.ErrorIs(t, err, domain.ErrUnknownSource)
}

func TestExecuteFinishedRun(t *testing.T) {
	appCtx := newTestContext(t, false)
	appCtx.Dispatcher = &fakeDispatcher{}
	m := NewManager(appCtx)

	run, err := m.NewDatagenRun(domain.WorkRequest{TotalUnits: 1, WorkerCount: 1})
	require.NoError(t, err)
	require.NoError(t, m.Execute(context.Background(), run))
	assert.ErrorIs(t, m.Execute(context.Background(), run), domain.ErrRunFinished)
}

func TestStartProcessesQueueInOrder(t *testing.T) {
	appCtx := newTestContext(t, true)
	appCtx.Dispatcher = &fakeDispatcher{}
	appCtx.Synchronizer = &fakeSynchronizer{entries: []string{"a"}}
	m := NewManager(appCtx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	first, err := m.SubmitDatagen(domain.WorkRequest{TotalUnits: 8, WorkerCount: 2})
	require.NoError(t, err)
	second, err := m.SubmitSync("3-4-5")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Status)

	require.Eventually(t, func() bool {
		return len(m.List()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	history, err := m.History(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID, "newest first")
	assert.Equal(t, first.ID, history[1].ID)
	for _, r := range history {
		assert.Equal(t, domain.StatusCompleted, r.Status)
		assert.True(t, r.FinishedAt.After(r.StartedAt) || r.FinishedAt.Equal(r.StartedAt))
	}
}

func TestCancelRunningRun(t *testing.T) {
	appCtx := newTestContext(t, false)
	disp := &fakeDispatcher{block: make(chan struct{}), started: make(chan struct{}, 1)}
	appCtx.Dispatcher = disp
	m := NewManager(appCtx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	run, err := m.SubmitDatagen(domain.WorkRequest{TotalUnits: 8, WorkerCount: 2})
	require.NoError(t, err)

	select {
	case <-disp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	active := m.GetActiveRun()
	require.NotNil(t, active)
	assert.Equal(t, domain.StatusRunning, active.Status)

	assert.True(t, m.Cancel(run.ID))

	require.Eventually(t, func() bool {
		return m.GetActiveRun() == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, m.Cancel(run.ID), "finished runs cannot be cancelled")
	_, ok := m.Get(run.ID)
	assert.False(t, ok, "no store, finished runs leave the live queue")
}

func TestServeStopPersistsCancelledRun(t *testing.T) {
	appCtx := newTestContext(t, true)
	disp := &fakeDispatcher{block: make(chan struct{}), started: make(chan struct{}, 1)}
	appCtx.Dispatcher = disp
	m := NewManager(appCtx)

	stop := m.Serve(context.Background())

	run, err := m.SubmitDatagen(domain.WorkRequest{TotalUnits: 8, WorkerCount: 2})
	require.NoError(t, err)

	select {
	case <-disp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	stop()

	// No waiting: the record is in the store once stop returns
	stored, err := appCtx.Store.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.False(t, stored.FinishedAt.IsZero())
}

func TestCancelPendingRun(t *testing.T) {
	appCtx := newTestContext(t, true)
	appCtx.Dispatcher = &fakeDispatcher{}
	m := NewManager(appCtx)

	// Start is not running, so the run stays pending
	run, err := m.SubmitDatagen(domain.WorkRequest{TotalUnits: 8, WorkerCount: 2})
	require.NoError(t, err)
	require.Len(t, m.List(), 1)

	assert.True(t, m.Cancel(run.ID))
	assert.Empty(t, m.List())

	stored, ok := m.Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, stored.Status)

	assert.False(t, m.Cancel("unknown"))
}

func TestExecuteCancelledContext(t *testing.T) {
	appCtx := newTestContext(t, false)
	appCtx.Dispatcher = &fakeDispatcher{}
	m := NewManager(appCtx)

	run, err := m.NewDatagenRun(domain.WorkRequest{TotalUnits: 8, WorkerCount: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Execute(ctx, run), context.Canceled)
	assert.Equal(t, domain.StatusCancelled, run.Status)
}

func TestNextIDIsMonotonic(t *testing.T) {
	m := NewManager(newTestContext(t, false))
	prev := m.nextID()
	for i := 0; i < 100; i++ {
		id := m.nextID()
		assert.Greater(t, id, prev)
		prev = id
	}
}
