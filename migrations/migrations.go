// Package migrations ships the service's schema inside the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
