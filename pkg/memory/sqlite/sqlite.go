package sqlite

import (
	"gorm.io/driver/sqlite"

	gormmem "github.com/barekit/ragchat/pkg/memory/gorm"
)

// New opens a SQLite transcript store. dsn is a file path or ":memory:".
func New(dsn string) (*gormmem.Memory, error) {
	return gormmem.Open(sqlite.Open(dsn))
}
