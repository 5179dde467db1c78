package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SzilBalazs/bctools/internal/app"
	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/infra/logger"
	"github.com/segmentio/ksuid"
)

// SourceLookup resolves a tablebase source by name.
type SourceLookup func(name string) (domain.Source, error)

// Manager runs datagen and tablebase runs one at a time and keeps their
// history in the store when one is configured.
type Manager struct {
	mu           sync.RWMutex
	dispatcher   app.Dispatcher
	synchronizer app.Synchronizer
	store        app.Store
	sources      SourceLookup
	log          *logger.Logger

	queue     []*domain.Run
	activeRun *domain.Run
	lastID    ksuid.KSUID

	newJobChan chan struct{}
}

func NewManager(appCtx *app.Context) *Manager {
	log := appCtx.Logger
	if log == nil {
		log = logger.NewNop()
	}

	m := &Manager{
		dispatcher:   appCtx.Dispatcher,
		synchronizer: appCtx.Synchronizer,
		store:        appCtx.Store,
		log:          log,
		queue:        make([]*domain.Run, 0),
		newJobChan:   make(chan struct{}, 1),
	}
	if appCtx.Config != nil {
		m.sources = appCtx.Config.Source
	}
	return m
}

// NewDatagenRun creates and persists a pending datagen run without queueing it.
func (m *Manager) NewDatagenRun(req domain.WorkRequest) (*domain.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:      m.nextID(),
		Kind:    domain.KindDatagen,
		Label:   req.String(),
		Status:  domain.StatusPending,
		Request: &req,
		Total:   req.WorkerCount,
	}
	if err := m.save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// NewSyncRun creates and persists a pending tablebase run without queueing it.
func (m *Manager) NewSyncRun(sourceName string) (*domain.Run, error) {
	if m.sources == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, sourceName)
	}
	src, err := m.sources(sourceName)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:     m.nextID(),
		Kind:   domain.KindTBSync,
		Label:  src.Name,
		Status: domain.StatusPending,
		Source: &src,
	}
	if err := m.save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// SubmitDatagen queues a datagen run for the Start loop.
func (m *Manager) SubmitDatagen(req domain.WorkRequest) (*domain.Run, error) {
	run, err := m.NewDatagenRun(req)
	if err != nil {
		return nil, err
	}
	m.enqueue(run)
	return m.snapshot(run), nil
}

// SubmitSync queues a tablebase sync for the Start loop.
func (m *Manager) SubmitSync(sourceName string) (*domain.Run, error) {
	run, err := m.NewSyncRun(sourceName)
	if err != nil {
		return nil, err
	}
	m.enqueue(run)
	return m.snapshot(run), nil
}

func (m *Manager) enqueue(run *domain.Run) {
	m.mu.Lock()
	m.queue = append(m.queue, run)
	m.mu.Unlock()

	// Signal the Start() loop that there is work to do
	select {
	case m.newJobChan <- struct{}{}:
	default:
		// Signal already pending, no need to block
	}
}

// Start executes queued runs in submission order until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	for {
		var next *domain.Run

		m.mu.RLock()
		for _, run := range m.queue {
			if run.Status == domain.StatusPending {
				next = run
				break
			}
		}
		m.mu.RUnlock()

		if next == nil {
			select {
			case <-m.newJobChan:
				continue
			case <-ctx.Done():
				return
			}
		}

		if err := m.Execute(ctx, next); err != nil && !errors.Is(err, domain.ErrRunFinished) {
			m.log.Warn("Run %s (%s) finished with status %s: %v", next.ID, next.Label, next.Status, err)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// Serve runs Start in the background. The returned stop function cancels the
// queue and blocks until the active run has been finalized and persisted.
func (m *Manager) Serve(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Start(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Execute runs a single run synchronously. It returns nil only when every
// worker or entry succeeded.
func (m *Manager) Execute(ctx context.Context, run *domain.Run) error {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if run.Status.Finished() {
		m.mu.Unlock()
		return domain.ErrRunFinished
	}
	m.activeRun = run
	run.CancelFunc = cancel
	run.Status = domain.StatusRunning
	run.StartedAt = time.Now().UTC()
	m.persist(run)
	m.mu.Unlock()

	m.log.Info("Starting %s run %s: %s", run.Kind, run.ID, run.Label)

	var err error
	switch run.Kind {
	case domain.KindDatagen:
		err = m.executeDatagen(jobCtx, run)
	case domain.KindTBSync:
		err = m.executeSync(jobCtx, run)
	default:
		err = fmt.Errorf("unknown run kind %q", run.Kind)
		m.finalize(jobCtx, run, 0, 0, nil, err)
	}
	return err
}

func (m *Manager) executeDatagen(ctx context.Context, run *domain.Run) error {
	if m.dispatcher == nil || run.Request == nil {
		err := errors.New("datagen is not configured")
		m.finalize(ctx, run, 0, 0, nil, err)
		return err
	}

	res, err := m.dispatcher.Dispatch(ctx, *run.Request)
	if err != nil {
		m.finalize(ctx, run, 0, 0, nil, err)
		return err
	}

	err = res.Err()
	m.finalize(ctx, run, len(res.Outcomes), len(res.Failed()), res.Outcomes, err)
	return runErr(ctx, err)
}

func (m *Manager) executeSync(ctx context.Context, run *domain.Run) error {
	if m.synchronizer == nil || run.Source == nil {
		err := errors.New("tablebase sync is not configured")
		m.finalize(ctx, run, 0, 0, nil, err)
		return err
	}

	res, err := m.synchronizer.Sync(ctx, *run.Source)
	if err != nil {
		m.finalize(ctx, run, 0, 0, nil, err)
		return err
	}

	err = res.Err()
	m.finalize(ctx, run, len(res.Outcomes), res.Failures(), res.Outcomes, err)
	return runErr(ctx, err)
}

func runErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// finalize records totals, outcome detail and the terminal status.
func (m *Manager) finalize(ctx context.Context, run *domain.Run, total, failed int, outcomes any, err error) {
	var detail json.RawMessage
	if outcomes != nil {
		b, merr := json.Marshal(outcomes)
		if merr != nil {
			m.log.Warn("Could not encode outcomes of run %s: %v", run.ID, merr)
		} else {
			detail = b
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if outcomes != nil {
		run.Total = total
		run.Failed = failed
		run.Detail = detail
	}
	run.Status = statusFor(ctx, total, failed, outcomes != nil, err)
	run.Error = ""
	if run.Status == domain.StatusCancelled {
		run.Error = "Cancelled by user"
	} else if err != nil {
		run.Error = err.Error()
	}
	run.FinishedAt = time.Now().UTC()
	run.CancelFunc = nil

	// Persist the final outcome
	m.persist(run)

	if m.activeRun == run {
		m.activeRun = nil
	}
	m.removeFromLiveQueue(run.ID)

	m.log.Info("Run %s %s: %d/%d failed", run.ID, run.Status, run.Failed, run.Total)
}

func statusFor(ctx context.Context, total, failed int, ran bool, err error) domain.RunStatus {
	switch {
	case ctx.Err() != nil:
		return domain.StatusCancelled
	case !ran:
		// The run never got to its units: bad request, unreadable index
		return domain.StatusFailed
	case failed == 0:
		return domain.StatusCompleted
	case failed == total:
		return domain.StatusFailed
	default:
		return domain.StatusPartial
	}
}

// GetActiveRun allows the UI to see what's currently running
func (m *Manager) GetActiveRun() *domain.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeRun == nil {
		return nil
	}
	return m.snapshotLocked(m.activeRun)
}

// Get searches the live queue, then the store.
func (m *Manager) Get(id string) (*domain.Run, bool) {
	m.mu.RLock()
	for _, run := range m.queue {
		if run.ID == id {
			cp := m.snapshotLocked(run)
			m.mu.RUnlock()
			return cp, true
		}
	}
	m.mu.RUnlock()

	// Get from DB as a fallback
	if m.store != nil {
		run, err := m.store.GetRun(id)
		if err == nil && run != nil {
			return run, true
		}
	}
	return nil, false
}

// List returns a copy of the live queue.
func (m *Manager) List() []*domain.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*domain.Run, len(m.queue))
	for i, run := range m.queue {
		runs[i] = m.snapshotLocked(run)
	}
	return runs
}

// History returns stored runs newest first, or the live queue when history
// is disabled.
func (m *Manager) History(limit int) ([]*domain.Run, error) {
	if m.store == nil {
		return m.List(), nil
	}
	return m.store.ListRuns(limit)
}

// Cancel stops a pending or running run. Finished or unknown runs return false.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, run := range m.queue {
		if run.ID != id {
			continue
		}
		if run.Status.Finished() {
			return false
		}

		if run.CancelFunc != nil {
			// Running: Execute finalizes once the workers return
			run.CancelFunc()
			return true
		}

		run.Status = domain.StatusCancelled
		run.Error = "Cancelled by user"
		run.FinishedAt = time.Now().UTC()
		m.persist(run)
		m.removeFromLiveQueue(run.ID)
		return true
	}
	return false
}

// save persists a run outside the lock.
func (m *Manager) save(run *domain.Run) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveRun(run); err != nil {
		return fmt.Errorf("failed to save run to database: %w", err)
	}
	return nil
}

// persist is save for callers holding the lock; failures are only logged.
func (m *Manager) persist(run *domain.Run) {
	if err := m.save(run); err != nil {
		m.log.Error("%v", err)
	}
}

// removeFromLiveQueue keeps the live slice small by removing finished runs
func (m *Manager) removeFromLiveQueue(id string) {
	for i, run := range m.queue {
		if run.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

func (m *Manager) snapshot(run *domain.Run) *domain.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(run)
}

func (m *Manager) snapshotLocked(run *domain.Run) *domain.Run {
	cp := *run
	cp.CancelFunc = nil
	return &cp
}

// nextID returns a KSUID strictly greater than the previous one, so runs
// created within the same second still list in creation order.
func (m *Manager) nextID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ksuid.New()
	if !m.lastID.IsNil() && ksuid.Compare(id, m.lastID) <= 0 {
		id = m.lastID.Next()
	}
	m.lastID = id
	return id.String()
}
