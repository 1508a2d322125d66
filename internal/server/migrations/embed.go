// Package migrations embeds the server-side goose migration files.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
