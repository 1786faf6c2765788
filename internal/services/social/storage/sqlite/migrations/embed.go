// Package migrations embeds SQL migrations for the social SQLite store.
package migrations

import "embed"

// FS exposes the embedded migration files.
//
//go:embed *.sql
var FS embed.FS
