package mysql

import (
	"gorm.io/driver/mysql"

	gormmem "github.com/barekit/ragchat/pkg/memory/gorm"
)

// New opens a MySQL transcript store. dsn needs parseTime=true.
func New(dsn string) (*gormmem.Memory, error) {
	return gormmem.Open(mysql.Open(dsn))
}
