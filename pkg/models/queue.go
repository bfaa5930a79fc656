package models

import "time"

// RunningJob identifies the queue entry currently executing
type RunningJob struct {
	// JobID is the unique identifier assigned when the job was enqueued
	JobID string `json:"task_id"`

	// SourceID is the source being synced
	SourceID string `json:"source_id"`

	// StartedAt is when the worker picked up the job
	StartedAt time.Time `json:"started_at"`
}

// QueueSnapshot is a server-computed view of the sync/index queue.
// It is ephemeral: clients replace it wholesale on every refresh and
// never persist it.
type QueueSnapshot struct {
	// Length counts queued-but-not-started sync requests
	Length int `json:"queue_length"`

	// Running is the at-most-one currently executing job; nil when idle
	Running *RunningJob `json:"running,omitempty"`
}

// Clone returns a deep copy of the snapshot
func (q *QueueSnapshot) Clone() *QueueSnapshot {
	out := *q
	if q.Running != nil {
		r := *q.Running
		out.Running = &r
	}
	return &out
}
