package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NodeSession is a persisted lavalink session id
type NodeSession struct {
	Node      string    `json:"node"`
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionRepository stores the last session id of every node so a
// restarted process can resume it
type SessionRepository struct {
	manager *Manager
	now     func() time.Time
}

func (r *SessionRepository) clock() time.Time {
	if r.now != nil {
		return r.now().UTC()
	}
	return time.Now().UTC()
}

// LoadSession returns the stored session id of node, or "" when there is
// none or it is older than the configured retention
func (r *SessionRepository) LoadSession(ctx context.Context, node string) (string, error) {
	session, err := r.Get(ctx, node)
	if errors.Is(err, ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if r.clock().Sub(session.UpdatedAt) > r.manager.config.SessionRetention {
		return "", nil
	}
	return session.SessionID, nil
}

// SaveSession upserts the session id of node
func (r *SessionRepository) SaveSession(ctx context.Context, node, sessionID string) error {
	if node == "" {
		return ErrEmptyNodeName
	}
	db, err := r.manager.conn()
	if err != nil {
		return err
	}

	query := `
	INSERT INTO node_sessions (node, session_id, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(node) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, node, sessionID, r.clock()); err != nil {
		return fmt.Errorf("failed to save session of node '%s': %w", node, err)
	}
	return nil
}

// Get returns the stored session of node
func (r *SessionRepository) Get(ctx context.Context, node string) (*NodeSession, error) {
	db, err := r.manager.conn()
	if err != nil {
		return nil, err
	}

	session := &NodeSession{Node: node}
	err = db.QueryRowContext(ctx,
		"SELECT session_id, updated_at FROM node_sessions WHERE node = ?", node).
		Scan(&session.SessionID, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session of node '%s': %w", node, err)
	}
	return session, nil
}

// List returns every stored session ordered by node name
func (r *SessionRepository) List(ctx context.Context) ([]NodeSession, error) {
	db, err := r.manager.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT node, session_id, updated_at FROM node_sessions ORDER BY node")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []NodeSession
	for rows.Next() {
		var s NodeSession
		if err := rows.Scan(&s.Node, &s.SessionID, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Delete removes the stored session of node
func (r *SessionRepository) Delete(ctx context.Context, node string) error {
	db, err := r.manager.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, "DELETE FROM node_sessions WHERE node = ?", node)
	if err != nil {
		return fmt.Errorf("failed to delete session of node '%s': %w", node, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Prune removes sessions older than the configured retention and returns
// how many were removed
func (r *SessionRepository) Prune(ctx context.Context) (int64, error) {
	db, err := r.manager.conn()
	if err != nil {
		return 0, err
	}

	cutoff := r.clock().Add(-r.manager.config.SessionRetention)
	res, err := db.ExecContext(ctx, "DELETE FROM node_sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}
