// Package model defines the records exchanged between the primary and secondary services.
package model

import "time"

// MaxContentLength is the maximum number of characters a query may carry.
const MaxContentLength = 200

// Query is the sole entity owned by a record store.
// IDs are assigned by the store that owns the record and are not correlated across stores.
type Query struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// Outcome classifies the combined result of a mutating operation on the primary.
type Outcome string

const (
	// OutcomeReplicated indicates the local commit and the remote replay both succeeded
	OutcomeReplicated Outcome = "replicated"
	// OutcomePartiallyReplicated indicates the local commit stands but the remote replay failed
	OutcomePartiallyReplicated Outcome = "partially_replicated"
	// OutcomeNotFound indicates a delete addressed an id absent from the local store
	OutcomeNotFound Outcome = "not_found"
)

// Operation is a mutating operation that can be propagated to the secondary.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationDelete Operation = "delete"
)

// OutboxEntry is a locally committed operation awaiting replay on the secondary.
type OutboxEntry struct {
	EntryID        string
	Operation      Operation
	QueryID        int64
	Content        string
	IdempotencyKey string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	NextAttemptAt  time.Time
}
