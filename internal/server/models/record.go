// Package models holds the server-side persistence models.
package models

// Row is one record from an entity table, keyed by column name. Column sets
// differ per entity, so the sync layer carries rows as generic maps; the
// typed ledger lives in its own model.
type Row = map[string]any
