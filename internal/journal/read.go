package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/expkit/internal/job"
)

// ErrJobNotFound is returned by GetJob for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// JobRecord is a persisted job row. FinishedSeq is zero while running.
type JobRecord struct {
	ID          string
	Experiment  string
	Tool        string
	Mode        job.Mode
	Dataset     string
	Status      job.Status
	StartedSeq  int64
	FinishedSeq int64
}

// TupleRecord is one tool invocation outcome.
type TupleRecord struct {
	JobID  string
	Index  int
	Status string
	Error  string
	Seq    int64
}

// Event is one observer notification.
type Event struct {
	Seq     int64
	JobID   string
	Kind    string
	Percent int
	Message string
}

const jobColumns = `id, experiment, tool, mode, dataset, status, started_seq, COALESCE(finished_seq, 0)`

// ListJobs returns jobs in start order. An empty experiment lists all jobs.
func (j *Journal) ListJobs(ctx context.Context, experiment string) ([]JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if experiment != "" {
		query += ` WHERE experiment = ?`
		args = append(args, experiment)
	}
	query += ` ORDER BY started_seq ASC, id COLLATE BINARY ASC`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// GetJob returns a single job.
func (j *Journal) GetJob(ctx context.Context, id string) (JobRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return rec, err
}

// ReadTuples returns the outcomes recorded for a job, by index.
func (j *Journal) ReadTuples(ctx context.Context, jobID string) ([]TupleRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT job_id, idx, status, error, seq
		FROM tuples
		WHERE job_id = ?
		ORDER BY idx ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query tuples: %w", err)
	}
	defer rows.Close()

	var tuples []TupleRecord
	for rows.Next() {
		var t TupleRecord
		if err := rows.Scan(&t.JobID, &t.Index, &t.Status, &t.Error, &t.Seq); err != nil {
			return nil, fmt.Errorf("scan tuple: %w", err)
		}
		tuples = append(tuples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tuples: %w", err)
	}
	return tuples, nil
}

// ReadEvents returns the events of a job in sequence order.
func (j *Journal) ReadEvents(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, job_id, kind, percent, message
		FROM events
		WHERE job_id = ?
		ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.JobID, &e.Kind, &e.Percent, &e.Message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (JobRecord, error) {
	var rec JobRecord
	var mode, status string
	err := s.Scan(&rec.ID, &rec.Experiment, &rec.Tool, &mode, &rec.Dataset, &status, &rec.StartedSeq, &rec.FinishedSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobRecord{}, err
		}
		return JobRecord{}, fmt.Errorf("scan job: %w", err)
	}
	rec.Mode = job.Mode(mode)
	rec.Status = job.Status(status)
	return rec, nil
}
