// Package migrations embeds the prefs schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
