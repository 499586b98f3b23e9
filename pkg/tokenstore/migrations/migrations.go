// Package migrations embeds the schema of the sqlite token cache.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
