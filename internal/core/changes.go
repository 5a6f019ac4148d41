package core

import (
	"context"
	"time"
)

// ChangeOp is the kind of write that produced a change notification.
type ChangeOp string

const (
	ChangeInsert    ChangeOp = "insert"
	ChangeUpdate    ChangeOp = "update"
	ChangeDelete    ChangeOp = "delete"
	ChangeDeleteAll ChangeOp = "deleteAll"
)

// Change describes a committed write to one table.
type Change struct {
	// Table is the name of the table this change targets.
	Table string `json:"table"`

	// Op is the type of write.
	Op ChangeOp `json:"op"`

	// Keys are the primary keys of the affected rows. Empty for deleteAll
	// and for deletes whose rows were not materialized.
	Keys []interface{} `json:"keys,omitempty"`

	// Timestamp is when the write committed.
	Timestamp time.Time `json:"timestamp"`
}

// ChangePublisher receives change notifications after commit.
type ChangePublisher interface {
	Publish(ctx context.Context, changes ...Change) error
}
