// Package migrations embeds the backlink index schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
