// Package migrations embeds the goose SQL migrations for the control
// plane's sqlite-backed store.
package migrations

import "embed"

// FS embeds the goose migrations applied by Migrate, matching the
// embed-and-goose pattern tonimelisma-onedrive-go uses for its own local
// cache schema.
//
//go:embed *.sql
var FS embed.FS
