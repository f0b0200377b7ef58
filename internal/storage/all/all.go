// Package all registers every storage backend with the storage registry.
package all

import (
	_ "sheetload/internal/storage/mssql"
	_ "sheetload/internal/storage/postgres"
	_ "sheetload/internal/storage/sqlite"
)
