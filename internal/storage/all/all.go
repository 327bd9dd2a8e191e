// Package all links every storage backend into the binary. Programs blank-
// import it so backend selection stays a runtime concern.
package all

import (
	_ "possync/internal/storage/mssql"
	_ "possync/internal/storage/postgres"
	_ "possync/internal/storage/postgrest"
	_ "possync/internal/storage/sqlite"
)
