package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pogo-tools/account-broker/internal/config"
	"github.com/rs/zerolog/log"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect identifies the SQL flavor behind the connection.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite" // tests only
)

// Manager handles the database connection and dialect differences
type Manager struct {
	DB      *sqlx.DB
	Dialect Dialect
}

// Global database manager
var mgr *Manager

// Init creates and configures the database connection pool
func Init(cfg *config.Config) (*Manager, error) {
	db, err := sqlx.Connect(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)

	dialect := MySQL
	if cfg.Engine == config.PostgreSQL {
		dialect = Postgres
	}

	mgr = &Manager{DB: db, Dialect: dialect}

	log.Info().
		Str("engine", string(dialect)).
		Str("host", cfg.DBHost).
		Str("db", cfg.DBName).
		Msg("database connected")

	return mgr, nil
}

// Get returns the global database manager
func Get() *Manager {
	if mgr == nil {
		panic("database not initialized, call database.Init() first")
	}
	return mgr
}

// Close closes the database connection
func Close() error {
	if mgr != nil && mgr.DB != nil {
		return mgr.DB.Close()
	}
	return nil
}

// Ping checks the database connection
func (m *Manager) Ping() error {
	return m.DB.Ping()
}

// Rebind converts ? placeholders to $1, $2 for PostgreSQL
func (m *Manager) Rebind(query string) string {
	return m.DB.Rebind(query)
}

// Lock returns the row-lock suffix for a reserving SELECT. SQLite locks
// the whole database on write anyway and rejects the clause.
func (m *Manager) Lock() string {
	if m.Dialect == SQLite {
		return ""
	}
	return " FOR UPDATE"
}

// LockOf locks only the named table of a join; outer-joined sides cannot
// be locked on PostgreSQL.
func (m *Manager) LockOf(alias string) string {
	if m.Dialect == SQLite {
		return ""
	}
	return " FOR UPDATE OF " + alias
}

// SetTest installs a test database (in-memory SQLite, typically).
func SetTest(db *sqlx.DB, dialect Dialect) {
	mgr = &Manager{DB: db, Dialect: dialect}
}

// ClearTest removes the test database.
func ClearTest() {
	mgr = nil
}
