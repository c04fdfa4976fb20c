package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/eddielth/bambu-status/logger"
)

// PostgreSQLStorage mirrors status fields into a PostgreSQL table
type PostgreSQLStorage struct {
	db       *sql.DB
	dsn      string
	database string
}

// NewPostgreSQLStorage connects, creating the database and table if missing
func NewPostgreSQLStorage(dsn string) (*PostgreSQLStorage, error) {
	database, serverDSN, err := parsePostgreSQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse PostgreSQL DSN: %w", err)
	}

	serverDB, err := sql.Open("postgres", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL server: %w", err)
	}
	defer serverDB.Close()

	var exists bool
	err = serverDB.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check PostgreSQL database %s: %w", database, err)
	}
	if !exists {
		// CREATE DATABASE cannot take a bind parameter
		if _, err := serverDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(database)); err != nil {
			return nil, fmt.Errorf("create PostgreSQL database %s: %w", database, err)
		}
		logger.Info("created PostgreSQL database: %s", database)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &PostgreSQLStorage{
		db:       db,
		dsn:      dsn,
		database: database,
	}
	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("PostgreSQL status mirror ready: %s", database)
	return storage, nil
}

// parsePostgreSQLDSN extracts the database name and builds a DSN pointing
// at the maintenance database. Both URL and key=value forms are accepted.
func parsePostgreSQLDSN(dsn string) (database string, serverDSN string, err error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		idx := strings.LastIndex(dsn, "/")
		if idx < len("postgres://") {
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
		return dbPart, dsn[:idx+1] + "postgres" + params, nil
	}

	kvPairs := strings.Fields(dsn)
	serverKVPairs := make([]string, 0, len(kvPairs)+1)
	for _, kv := range kvPairs {
		if strings.HasPrefix(kv, "dbname=") {
			database = strings.TrimPrefix(kv, "dbname=")
			continue
		}
		serverKVPairs = append(serverKVPairs, kv)
	}
	if database == "" {
		return "", "", fmt.Errorf("DSN has no dbname")
	}
	serverKVPairs = append(serverKVPairs, "dbname=postgres")

	return database, strings.Join(serverKVPairs, " "), nil
}

// InitDatabase creates the status table
func (ps *PostgreSQLStorage) InitDatabase() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS ` + statusTable + ` (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := ps.db.Exec(ddl); err != nil {
		return fmt.Errorf("create PostgreSQL status table: %w", err)
	}
	return nil
}

const postgresUpsert = "INSERT INTO " + statusTable + " (name, value, updated_at) VALUES ($1, $2, now()) " +
	"ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at"

// Put upserts the field row
func (ps *PostgreSQLStorage) Put(name, value string) error {
	if _, err := ps.db.Exec(postgresUpsert, name, value); err != nil {
		return fmt.Errorf("upsert %s into PostgreSQL: %w", name, err)
	}
	return nil
}

// Close closes the connection pool
func (ps *PostgreSQLStorage) Close() error {
	if ps.db == nil {
		return nil
	}
	if err := ps.db.Close(); err != nil {
		return fmt.Errorf("close PostgreSQL connection: %w", err)
	}
	logger.Info("PostgreSQL connection closed")
	return nil
}
