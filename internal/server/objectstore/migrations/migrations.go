// Package migrations embeds the schema of the postgres object store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
