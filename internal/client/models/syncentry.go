package models

import (
	"time"

	"github.com/villaprodiq/studiosync/internal/entity"
)

// EntryStatus is the delivery state of one sync-queue entry.
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryInFlight EntryStatus = "in_flight"
	EntryFailed   EntryStatus = "failed"
	EntryDone     EntryStatus = "done"
)

// SyncEntry is one durable pending mutation. Rows are persisted under these
// column names and must stay readable by future schema revisions, so field
// names are stable.
type SyncEntry struct {
	ID          string
	Action      entity.Action
	EntityType  entity.Type
	RecordID    string
	Payload     map[string]any
	HardDelete  bool
	EnqueuedAt  time.Time
	Attempts    int
	NextAttempt time.Time
	Status      EntryStatus
	LastError   string
}
