package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
)

const DefaultListLimit = 50

const runColumns = `id, kind, label, status, request, source, total, failed, detail, error, started_at, finished_at`

// SaveRun inserts the run or replaces the stored copy.
func (s *PersistentStore) SaveRun(run *domain.Run) error {
	request, err := marshalNullable(run.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	source, err := marshalNullable(run.Source)
	if err != nil {
		return fmt.Errorf("failed to encode source: %w", err)
	}

	var detail sql.NullString
	if len(run.Detail) > 0 {
		detail = sql.NullString{String: string(run.Detail), Valid: true}
	}

	query := `INSERT INTO runs (` + runColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT (id) DO UPDATE SET
                kind = excluded.kind,
                label = excluded.label,
                status = excluded.status,
                request = excluded.request,
                source = excluded.source,
                total = excluded.total,
                failed = excluded.failed,
                detail = excluded.detail,
                error = excluded.error,
                started_at = excluded.started_at,
                finished_at = excluded.finished_at`

	_, err = s.db.Exec(s.rebind(query),
		run.ID,
		string(run.Kind),
		run.Label,
		string(run.Status),
		request,
		source,
		int64(run.Total),
		int64(run.Failed),
		detail,
		run.Error,
		toMillis(run.StartedAt),
		toMillis(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns nil, nil when the run does not exist.
func (s *PersistentStore) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ? LIMIT 1`), id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Return nil, nil to indicate "Not found"
		}
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. KSUIDs sort by creation time.
func (s *PersistentStore) ListRuns(limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(s.rebind(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.Run, error) {
	run := &domain.Run{}
	var (
		kind, status            string
		request, source, detail sql.NullString
		total, failed           int64
		startedAt, finishedAt   int64
	)

	err := sc.Scan(&run.ID, &kind, &run.Label, &status, &request, &source,
		&total, &failed, &detail, &run.Error, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Kind = domain.RunKind(kind)
	run.Status = domain.RunStatus(status)
	run.Total = int(total)
	run.Failed = int(failed)
	run.StartedAt = fromMillis(startedAt)
	run.FinishedAt = fromMillis(finishedAt)

	if request.Valid {
		run.Request = &domain.WorkRequest{}
		if err := json.Unmarshal([]byte(request.String), run.Request); err != nil {
			return nil, fmt.Errorf("failed to decode request of %s: %w", run.ID, err)
		}
	}
	if source.Valid {
		run.Source = &domain.Source{}
		if err := json.Unmarshal([]byte(source.String), run.Source); err != nil {
			return nil, fmt.Errorf("failed to decode source of %s: %w", run.ID, err)
		}
	}
	if detail.Valid && detail.String != "" {
		run.Detail = json.RawMessage(detail.String)
	}

	return run, nil
}

func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
