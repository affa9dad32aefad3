package migrations

import "embed"

// FS contains the run ledger schema.
//
//go:embed *.sql
var FS embed.FS
