// Package migrations embeds the Postgres schema so binaries can apply it
// without a checkout of the repository.
package migrations

import "embed"

// FS holds every NNN_name.up.sql and NNN_name.down.sql file.
//
//go:embed *.sql
var FS embed.FS
