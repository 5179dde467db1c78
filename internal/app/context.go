package app

import (
	"context"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/infra/config"
	"github.com/SzilBalazs/bctools/internal/infra/logger"
)

type Dispatcher interface {
	// This allows the runner to start generator workers without importing datagen
	Dispatch(ctx context.Context, req domain.WorkRequest) (*domain.RunResult, error)
}

type Synchronizer interface {
	// This allows the runner to mirror a source without importing tablebase
	Sync(ctx context.Context, src domain.Source) (*domain.SyncResult, error)
}

type Store interface {
	SaveRun(run *domain.Run) error
	GetRun(id string) (*domain.Run, error)
	ListRuns(limit int) ([]*domain.Run, error)
}

// Context holds the core environment and shared resources for bctools.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	// Store is nil when run history is disabled
	Store Store

	Dispatcher   Dispatcher
	Synchronizer Synchronizer
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}
