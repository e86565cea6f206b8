package billing

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/runmeter/pkg/billing"
)

// RunLog reads the threads and agent_runs tables. It implements
// billing.RunLog and billing.RunSweeper.
type RunLog struct {
	db *sql.DB
}

var (
	_ billing.RunLog     = (*RunLog)(nil)
	_ billing.RunSweeper = (*RunLog)(nil)
)

func NewRunLog(db *sql.DB) *RunLog {
	if db == nil {
		panic("billing: nil database handle")
	}
	return &RunLog{db: db}
}

func (l *RunLog) ListThreads(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT thread_id FROM threads WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *RunLog) ListRuns(ctx context.Context, threadIDs []uuid.UUID, startedAfter time.Time) ([]billing.Run, error) {
	if len(threadIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(threadIDs)+1)
	args = append(args, startedAfter.UTC())
	in := placeholders(threadIDs, 2, &args)

	query := `SELECT id, thread_id, status, started_at, completed_at, error
		FROM agent_runs
		WHERE started_at >= $1 AND thread_id IN (` + in + `)`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []billing.Run
	for rows.Next() {
		var (
			r         billing.Run
			status    string
			completed sql.NullTime
			errText   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ThreadID, &status, &r.StartedAt, &completed, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = billing.RunStatus(status)
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FailRuns transitions only runs that are still running, so a run that
// finished concurrently keeps its real outcome.
func (l *RunLog) FailRuns(ctx context.Context, runIDs []uuid.UUID, completedAt time.Time, reason string) (int64, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(runIDs)+3)
	args = append(args, string(billing.RunFailed), completedAt.UTC(), reason)
	in := placeholders(runIDs, 4, &args)

	res, err := l.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = $1, completed_at = $2, error = $3
		WHERE status = 'running' AND id IN (`+in+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("fail runs: %w", err)
	}
	return res.RowsAffected()
}

func (l *RunLog) FailRunsStartedBefore(ctx context.Context, cutoff, completedAt time.Time, reason string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = $1, completed_at = $2, error = $3
		WHERE status = 'running' AND started_at < $4`,
		string(billing.RunFailed), completedAt.UTC(), reason, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep stuck runs: %w", err)
	}
	return res.RowsAffected()
}

// placeholders appends ids to args and returns "$n, $n+1, ..." starting at first.
func placeholders(ids []uuid.UUID, first int, args *[]any) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(first + i))
		*args = append(*args, id)
	}
	return b.String()
}
