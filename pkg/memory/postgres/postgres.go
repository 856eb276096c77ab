package postgres

import (
	"gorm.io/driver/postgres"

	gormmem "github.com/barekit/ragchat/pkg/memory/gorm"
)

// New opens a Postgres transcript store.
func New(dsn string) (*gormmem.Memory, error) {
	return gormmem.Open(postgres.Open(dsn))
}
