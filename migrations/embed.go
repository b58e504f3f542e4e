package migrations

import "embed"

// FS holds the schema migrations applied at startup.
//
//go:embed *.up.sql
var FS embed.FS
