// Package migrations embeds the rules engine's SQL schema migrations so the
// binary can bring a fresh database up to date without files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it to
// (*database.DB).Migrate.
//
//go:embed *.sql
var FS embed.FS
