// Package migrations embeds SQL schema migrations per database.
package migrations

import "embed"

// FS holds one directory of golang-migrate files per dialect.
//
//go:embed postgres/*.sql
var FS embed.FS
