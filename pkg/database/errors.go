package database

import "errors"

// Database configuration errors
var (
	ErrInvalidDatabasePath      = errors.New("invalid database path")
	ErrInvalidMaxConnections    = errors.New("invalid max connections")
	ErrInvalidConnectionTimeout = errors.New("invalid connection timeout")
	ErrInvalidSessionRetention  = errors.New("invalid session retention")
	ErrInvalidSynchronousMode   = errors.New("invalid synchronous mode")
)

// Database operation errors
var (
	ErrDatabaseNotConnected = errors.New("database not connected")
	ErrMigrationFailed      = errors.New("migration failed")
	ErrBackupFailed         = errors.New("backup failed")
)

// Repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyNodeName   = errors.New("node name is empty")
)
