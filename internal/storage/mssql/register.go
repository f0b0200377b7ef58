package mssql

import "sheetload/internal/storage"

func init() {
	storage.Register("mssql-odbc", NewODBC)
	storage.Register("mssql-tds", NewTDS)
}
