// Package models defines the agent-side data model: locally mirrored
// records, durable sync-queue entries and conflict records.
package models

import (
	"time"

	"github.com/villaprodiq/studiosync/internal/entity"
)

// Record is the local mirror of one business entity. Payload is opaque to
// the sync layer beyond entity-specific shaping. BaseVersion is the last
// server version token this copy was derived from; it only advances after a
// confirmed successful sync.
type Record struct {
	ID          string
	EntityType  entity.Type
	Payload     map[string]any
	BaseVersion string
	Deleted     bool
	UpdatedAt   time.Time
}
