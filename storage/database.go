package storage

import (
	"fmt"
	"strings"
)

// DatabaseType names a supported SQL mirror
type DatabaseType string

const (
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
)

// statusTable holds the latest value of every field, one row per name
const statusTable = "status_fields"

// DatabaseStorage is a Backend that keeps its own schema
type DatabaseStorage interface {
	Backend
	// InitDatabase creates the status table if needed
	InitDatabase() error
}

// ParseDatabaseType maps a configured type name, including the common
// aliases mariadb and postgres, to a DatabaseType
func ParseDatabaseType(name string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgresql", "postgres":
		return PostgreSQL, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", name)
	}
}

// NewDatabaseStorage opens a mirror backend and makes sure its table exists
func NewDatabaseStorage(dbType string, dsn string) (DatabaseStorage, error) {
	t, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	switch t {
	case MySQL:
		return NewMySQLStorage(dsn)
	default:
		return NewPostgreSQLStorage(dsn)
	}
}
