// Package migrations embeds the goose migrations for the hot store
// database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
