// Package entity is the catalogue of syncable business entities: the fixed
// entity→table lookup, per-entity field allow-lists, and the ordered list of
// schema shapes the gateway may fall back to when the remote column set is
// older than the client's.
package entity

import (
	"strings"
	"unicode"

	"github.com/villaprodiq/studiosync/internal/common"
)

// Type discriminates syncable business entities.
type Type string

const (
	TypeBooking           Type = "booking"
	TypeClient            Type = "client"
	TypeGallery           Type = "gallery"
	TypeClientTransaction Type = "client_transaction"
)

// Action is a queued mutation kind.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionUpsert Action = "upsert"
)

// Schema is one concrete remote shape for an entity. Fields lists the
// columns this shape accepts (snake_case); Rename maps client payload keys
// to differently named columns in this shape.
type Schema struct {
	Version string
	Fields  []string
	Rename  map[string]string
}

// Descriptor holds everything the sync layer knows about one entity type.
type Descriptor struct {
	Type  Type
	Table string

	// Schemas is ordered newest-first; the gateway tries each in turn when
	// the remote rejects a shape with an undefined-column error.
	Schemas []Schema
}

// volatileFields are server-managed metadata columns excluded from the
// material-difference comparison during conflict detection. A divergence
// confined to these fields never surfaces a conflict.
var volatileFields = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
	"synced_at":  {},
	"version":    {},
}

var catalogue = map[Type]Descriptor{
	TypeBooking: {
		Type:  TypeBooking,
		Table: "bookings",
		Schemas: []Schema{
			{
				Version: "v2",
				Fields: []string{
					"id", "client_id", "session_type", "scheduled_at",
					"duration_minutes", "location", "status", "notes",
					"deposit_amount", "deleted",
				},
			},
			{
				// Pre-deposit column set still deployed at some studios.
				Version: "v1",
				Fields: []string{
					"id", "client_id", "session_type", "scheduled_at",
					"duration_minutes", "location", "status", "notes", "deleted",
				},
			},
		},
	},
	TypeClient: {
		Type:  TypeClient,
		Table: "clients",
		Schemas: []Schema{
			{
				Version: "v2",
				Fields: []string{
					"id", "name", "phone", "email", "address",
					"preferred_language", "deleted",
				},
			},
			{
				Version: "v1",
				Fields:  []string{"id", "name", "phone_number", "email", "deleted"},
				Rename:  map[string]string{"phone": "phone_number"},
			},
		},
	},
	TypeGallery: {
		Type:  TypeGallery,
		Table: "galleries",
		Schemas: []Schema{
			{
				Version: "v1",
				Fields: []string{
					"id", "booking_id", "title", "review_status",
					"selected_count", "deleted",
				},
			},
		},
	},
	TypeClientTransaction: {
		Type:  TypeClientTransaction,
		Table: "client_transactions",
		Schemas: []Schema{
			{
				Version: "v1",
				Fields: []string{
					"id", "client_id", "transaction_type", "amount",
					"currency", "balance_after", "description", "status",
					"deleted",
				},
			},
		},
	},
}

// Lookup returns the descriptor for t, or common.ErrUnknownEntity.
func Lookup(t Type) (Descriptor, error) {
	d, ok := catalogue[t]
	if !ok {
		return Descriptor{}, common.ErrUnknownEntity
	}
	return d, nil
}

// Table maps an entity type to its backend table name.
func Table(t Type) (string, error) {
	d, err := Lookup(t)
	if err != nil {
		return "", err
	}
	return d.Table, nil
}

// Types lists all known entity types.
func Types() []Type {
	return []Type{TypeBooking, TypeClient, TypeGallery, TypeClientTransaction}
}

// IsVolatile reports whether the field is server-managed metadata that
// never counts toward a material difference.
func IsVolatile(field string) bool {
	_, ok := volatileFields[field]
	return ok
}

// Shape projects a payload onto one schema: keys are converted to
// snake_case, renamed per the schema, and anything outside the allow-list
// is dropped.
func Shape(payload map[string]any, s Schema) map[string]any {
	allowed := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		allowed[f] = struct{}{}
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		name := ToSnake(k)
		if renamed, ok := s.Rename[name]; ok {
			name = renamed
		}
		if _, ok := allowed[name]; ok {
			out[name] = v
		}
	}
	return out
}

// ToSnake converts a camelCase or PascalCase identifier to snake_case.
// Identifiers already in snake_case pass through unchanged.
func ToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
