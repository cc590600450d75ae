// Package migrations embeds the SQL migrations of the SQLite catalog.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
