package journal

import (
	"context"

	"github.com/roach88/expkit/internal/job"
)

// Observer persists job notifications as events. Write failures are logged.
type Observer struct {
	j *Journal
}

// Observer returns a job.Observer writing into j.
func (j *Journal) Observer() *Observer {
	return &Observer{j: j}
}

// Notify implements job.Observer.
func (o *Observer) Notify(message, jobID string) {
	o.write(jobID, EventNotify, 0, message)
}

// NotifyProgress implements job.Observer.
func (o *Observer) NotifyProgress(percent int, message, jobID string) {
	o.write(jobID, EventProgress, percent, message)
}

// NotifyError implements job.Observer.
func (o *Observer) NotifyError(message, jobID string) {
	o.write(jobID, EventError, 0, message)
}

func (o *Observer) write(jobID, kind string, percent int, message string) {
	if err := o.j.appendEvent(context.Background(), jobID, kind, percent, message); err != nil {
		o.j.log.Warn("journal event dropped", "job", jobID, "kind", kind, "error", err)
	}
}

var _ job.Observer = (*Observer)(nil)
