package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/eddielth/bambu-status/logger"
)

// MySQLStorage mirrors status fields into a MySQL table
type MySQLStorage struct {
	db       *sql.DB
	dsn      string
	database string
}

// NewMySQLStorage connects, creating the database and table if missing
func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN: %w", err)
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL server: %w", err)
	}
	defer serverDB.Close()

	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database))
	if err != nil {
		return nil, fmt.Errorf("create MySQL database %s: %w", database, err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping MySQL database: %w", err)
	}

	// one writer; a small pool is plenty
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &MySQLStorage{
		db:       db,
		dsn:      dsn,
		database: database,
	}
	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("MySQL status mirror ready: %s", database)
	return storage, nil
}

// parseMySQLDSN splits user:pass@tcp(host)/db?params into the database
// name and a DSN that connects to the server without selecting it
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	idx := strings.LastIndex(dsn, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("DSN has no database name")
	}

	dbPart := dsn[idx+1:]
	params := ""
	if q := strings.Index(dbPart, "?"); q >= 0 {
		params = dbPart[q:]
		dbPart = dbPart[:q]
	}
	if dbPart == "" {
		return "", "", fmt.Errorf("DSN has no database name")
	}

	return dbPart, dsn[:idx+1] + params, nil
}

// InitDatabase creates the status table
func (ms *MySQLStorage) InitDatabase() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS ` + statusTable + ` (
		name VARCHAR(191) NOT NULL PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`
	if _, err := ms.db.Exec(ddl); err != nil {
		return fmt.Errorf("create MySQL status table: %w", err)
	}
	return nil
}

const mysqlUpsert = "INSERT INTO " + statusTable + " (name, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)"

// Put upserts the field row
func (ms *MySQLStorage) Put(name, value string) error {
	if _, err := ms.db.Exec(mysqlUpsert, name, value); err != nil {
		return fmt.Errorf("upsert %s into MySQL: %w", name, err)
	}
	return nil
}

// Close closes the connection pool
func (ms *MySQLStorage) Close() error {
	if ms.db == nil {
		return nil
	}
	if err := ms.db.Close(); err != nil {
		return fmt.Errorf("close MySQL connection: %w", err)
	}
	logger.Info("MySQL connection closed")
	return nil
}
