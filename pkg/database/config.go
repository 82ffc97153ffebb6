package database

import "time"

// Config holds configuration for the database manager
type Config struct {
	// Connection settings
	DatabasePath      string        `json:"database_path" yaml:"database_path"`
	MaxConnections    int           `json:"max_connections" yaml:"max_connections"`
	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout"`

	// Sessions untouched for longer than this are pruned
	SessionRetention time.Duration `json:"session_retention" yaml:"session_retention"`

	// Performance settings
	WALMode         bool          `json:"wal_mode" yaml:"wal_mode"`
	SynchronousMode string        `json:"synchronous_mode" yaml:"synchronous_mode"`
	BusyTimeout     time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:      "tarulink.db",
		MaxConnections:    4,
		ConnectionTimeout: 10 * time.Second,

		SessionRetention: 24 * time.Hour,

		WALMode:         true,
		SynchronousMode: "NORMAL",
		BusyTimeout:     5 * time.Second,
	}
}

// Validate validates the database configuration
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return ErrInvalidDatabasePath
	}
	if c.MaxConnections <= 0 {
		return ErrInvalidMaxConnections
	}
	if c.ConnectionTimeout <= 0 {
		return ErrInvalidConnectionTimeout
	}
	if c.SessionRetention <= 0 {
		return ErrInvalidSessionRetention
	}
	switch c.SynchronousMode {
	case "OFF", "NORMAL", "FULL":
	default:
		return ErrInvalidSynchronousMode
	}
	return nil
}
