package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/latoulicious/tarulink/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// Manager owns the SQLite connection and the repositories built on it
type Manager struct {
	config *Config
	logger logging.Logger

	db        *sql.DB
	connected bool
	mutex     sync.RWMutex
}

// NewManager creates a database manager, a nil config uses DefaultConfig
func NewManager(config *Config, logger logging.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if logger == nil {
		logger = logging.NullLogger()
	}

	return &Manager{
		config: config,
		logger: logger.With(logging.String("component", "database")),
	}, nil
}

// Connect opens the database and runs pending migrations
func (m *Manager) Connect(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.connected {
		return nil
	}

	db, err := sql.Open("sqlite3", m.connectionString())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(m.config.MaxConnections)
	db.SetMaxIdleConns(m.config.MaxConnections)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, m.config.ConnectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db, m.logger); err != nil {
		db.Close()
		return err
	}

	m.db = db
	m.connected = true

	m.logger.Info("Database connected", logging.String("path", m.config.DatabasePath))
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.connected {
		return nil
	}

	m.connected = false
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	m.logger.Info("Database closed")
	return nil
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	db, err := m.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// SchemaVersion returns the highest applied migration
func (m *Manager) SchemaVersion(ctx context.Context) (int, error) {
	db, err := m.conn()
	if err != nil {
		return 0, err
	}
	return currentVersion(ctx, db)
}

// Backup writes a consistent copy of the database to path
func (m *Manager) Backup(ctx context.Context, path string) error {
	db, err := m.conn()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrBackupFailed, path)
	}

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	m.logger.Info("Database backup created", logging.String("path", path))
	return nil
}

// Sessions returns the node session repository
func (m *Manager) Sessions() *SessionRepository {
	return &SessionRepository{manager: m}
}

func (m *Manager) conn() (*sql.DB, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if !m.connected {
		return nil, ErrDatabaseNotConnected
	}
	return m.db, nil
}

func (m *Manager) connectionString() string {
	connStr := m.config.DatabasePath + "?"

	if m.config.WALMode {
		connStr += "_journal_mode=WAL&"
	}

	connStr += fmt.Sprintf("_synchronous=%s&", m.config.SynchronousMode)
	connStr += fmt.Sprintf("_busy_timeout=%d&", m.config.BusyTimeout.Milliseconds())
	connStr += "_foreign_keys=on"

	return connStr
}
