package models

import (
	"time"

	"github.com/villaprodiq/studiosync/internal/entity"
)

// ConflictStatus is the lifecycle state of a conflict record.
// pending → resolved is the only transition.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution selects which side of a conflict wins.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionServer Resolution = "server"
)

// Conflict captures a detected divergence between the local and remote
// copies of one record: both full payloads at detection time, for the
// review UI to present side by side.
type Conflict struct {
	ID            string
	RecordID      string
	EntityType    entity.Type
	LocalData     map[string]any
	ServerData    map[string]any
	ServerVersion string
	DetectedAt    time.Time
	Status        ConflictStatus
	Resolution    Resolution
	ResolvedAt    *time.Time
}
