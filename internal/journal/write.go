package journal

import (
	"context"
	"fmt"

	"github.com/roach88/expkit/internal/job"
)

// Tuple outcome values stored in tuples.status.
const (
	TupleOK     = "ok"
	TupleFailed = "failed"
)

// StartJob records a new job in the running state.
func (j *Journal) StartJob(ctx context.Context, info job.JobInfo) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO jobs (id, experiment, tool, mode, dataset, status, started_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.Experiment, info.Tool, string(info.Mode), info.Dataset,
		string(job.StatusRunning), j.clock.Next())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", info.ID, err)
	}
	return nil
}

// RecordTuple stores the outcome of tuple index. Recording the same index
// twice keeps the first outcome.
func (j *Journal) RecordTuple(ctx context.Context, jobID string, index int, tupleErr error) error {
	status, message := TupleOK, ""
	if tupleErr != nil {
		status, message = TupleFailed, tupleErr.Error()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tuples (job_id, idx, status, error, seq)
		VALUES (?, ?, ?, ?, ?)
	`, jobID, index, status, message, j.clock.Next())
	if err != nil {
		return fmt.Errorf("insert tuple %s[%d]: %w", jobID, index, err)
	}
	return nil
}

// FinishJob sets the terminal status of a running job.
func (j *Journal) FinishJob(ctx context.Context, jobID string, status job.Status) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_seq = ?
		WHERE id = ? AND finished_seq IS NULL
	`, string(status), j.clock.Next(), jobID)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish job %s: no running job with that id", jobID)
	}
	return nil
}

// Event kinds stored in events.kind.
const (
	EventNotify   = "notify"
	EventProgress = "progress"
	EventError    = "error"
)

func (j *Journal) appendEvent(ctx context.Context, jobID, kind string, percent int, message string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (seq, job_id, kind, percent, message)
		VALUES (?, ?, ?, ?, ?)
	`, j.clock.Next(), jobID, kind, percent, message)
	if err != nil {
		return fmt.Errorf("insert %s event for %s: %w", kind, jobID, err)
	}
	return nil
}

var _ job.Journal = (*Journal)(nil)
