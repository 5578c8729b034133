// Package migrations embeds the Postgres schema, applied in filename order.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
