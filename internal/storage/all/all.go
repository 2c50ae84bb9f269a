// Package all registers every storage backend.
package all

import (
	_ "tabload/internal/storage/mssql"
	_ "tabload/internal/storage/mysql"
	_ "tabload/internal/storage/postgres"
	_ "tabload/internal/storage/sqlite"
)
