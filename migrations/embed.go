// Package migrations holds the goose SQL migrations for a deck database.
package migrations

import "embed"

// FS contains every migration file, applied in version order by goose.
//
//go:embed *.sql
var FS embed.FS
