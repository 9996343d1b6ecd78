package models

import "time"

// LedgerKind discriminates credit from deduction rows.
type LedgerKind string

const (
	LedgerCredit    LedgerKind = "credit"
	LedgerDeduction LedgerKind = "deduction"
)

// LedgerStatus is the lifecycle state of a ledger transaction. The only
// transition is active → reversed.
type LedgerStatus string

const (
	LedgerActive   LedgerStatus = "active"
	LedgerReversed LedgerStatus = "reversed"
)

// LedgerTransaction is one immutable money movement on a client account.
// Amount is stored in the currency's minor unit and is always positive;
// Kind carries the sign.
type LedgerTransaction struct {
	ID              string
	ClientID        string
	Kind            LedgerKind
	Amount          int64
	Currency        string
	Description     string
	Status          LedgerStatus
	CreatedAt       time.Time
	CanReverseUntil time.Time
	ReversedAt      *time.Time
	ReversedBy      string
	ReverseReason   string
}
