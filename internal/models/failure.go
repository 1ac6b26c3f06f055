package models

import "time"

// FailureKind classifies a task failure for retry and health accounting
type FailureKind string

const (
	FailureTransient   FailureKind = "TRANSIENT"
	FailureFatal       FailureKind = "FATAL"
	FailureRateLimited FailureKind = "RATE_LIMITED"
)

// FailureRecord is an append-only record of one failed attempt. Records are
// never mutated, only appended and pruned by age.
type FailureRecord struct {
	ID        uint64      `json:"id" badgerhold:"key"`
	TaskID    string      `json:"task_id"`
	Kind      FailureKind `json:"kind"`
	Attempt   int         `json:"attempt"`
	ProxyID   string      `json:"proxy_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
