// Package migrations embeds the Postgres schema applied to every tenant.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
