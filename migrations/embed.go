// Package migrations embeds the per-facility schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
