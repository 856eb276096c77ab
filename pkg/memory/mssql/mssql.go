package mssql

import (
	"gorm.io/driver/sqlserver"

	gormmem "github.com/barekit/ragchat/pkg/memory/gorm"
)

// New opens a SQL Server transcript store.
func New(dsn string) (*gormmem.Memory, error) {
	return gormmem.Open(sqlserver.Open(dsn))
}
