// Package migrations embeds the SQL schema so the binary can migrate
// without shipping the directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
