// Package migrations embeds the agent's SQLite schema migrations so the
// binary can bootstrap a fresh database without external files.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
