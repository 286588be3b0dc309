// Package migrations embeds the goose migration scripts so the server can
// bring the schema up to date on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
