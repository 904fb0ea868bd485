package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrInvalidAPIKey is returned when no active key matches the presented
// credential.
var ErrInvalidAPIKey = errors.New("invalid api key")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping checks database connectivity for the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordPortalRequest logs a quote request keyed by its portal key.
func (s *PostgresStore) RecordPortalRequest(ctx context.Context, portalKey, quoteID, accountName, email string) error {
	const insert = `
		INSERT INTO portal_requests (portal_key, quote_id, account_name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (portal_key) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, portalKey, quoteID, accountName, email); err != nil {
		return fmt.Errorf("insert portal request: %w", err)
	}
	return nil
}

// GetPortalRequest looks up a logged request by portal key.
func (s *PostgresStore) GetPortalRequest(ctx context.Context, portalKey string) (PortalRequest, error) {
	const find = `
		SELECT id, portal_key, quote_id, account_name, email, created_at
		FROM portal_requests WHERE portal_key = $1
	`
	var req PortalRequest
	err := s.db.QueryRowContext(ctx, find, portalKey).Scan(
		&req.ID, &req.PortalKey, &req.QuoteID, &req.AccountName, &req.Email, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PortalRequest{}, fmt.Errorf("portal request %q: %w", portalKey, ErrNotFound)
	}
	if err != nil {
		return PortalRequest{}, fmt.Errorf("lookup portal request: %w", err)
	}
	return req, nil
}

// RecordNotification logs one notification attempt. sendErr may be nil.
func (s *PostgresStore) RecordNotification(ctx context.Context, kind, recipient string, sendErr error) error {
	errText := ""
	if sendErr != nil {
		errText = sendErr.Error()
	}
	const insert = `
		INSERT INTO notifications (kind, recipient, send_error)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.ExecContext(ctx, insert, kind, recipient, errText); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the most recent notification attempts.
func (s *PostgresStore) ListNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const list = `
		SELECT id, kind, recipient, send_error, created_at
		FROM notifications ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, list, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0, limit)
	for rows.Next() {
		var rec NotificationRecord
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Recipient, &rec.SendError, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateAPIKey stores a bcrypt hash of the presented key material.
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name, key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	const insert = `
		INSERT INTO api_keys (name, key_hash)
		VALUES ($1, $2)
		RETURNING id
	`
	var id string
	if err := s.db.QueryRowContext(ctx, insert, name, string(hash)).Scan(&id); err != nil {
		return "", fmt.Errorf("insert api key: %w", err)
	}
	return id, nil
}

// VerifyAPIKey checks the presented key against all active key hashes and
// returns the matching key's name.
func (s *PostgresStore) VerifyAPIKey(ctx context.Context, key string) (string, error) {
	const list = `SELECT name, key_hash FROM api_keys WHERE NOT disabled`
	rows, err := s.db.QueryContext(ctx, list)
	if err != nil {
		return "", fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return "", fmt.Errorf("scan api key: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return name, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate api keys: %w", err)
	}
	return "", ErrInvalidAPIKey
}

// HasActiveAPIKeys reports whether any key is enrolled. Authentication is
// only enforced once at least one key exists.
func (s *PostgresStore) HasActiveAPIKeys(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE NOT disabled`).Scan(&count); err != nil {
		return false, fmt.Errorf("count api keys: %w", err)
	}
	return count > 0, nil
}

// DisableAPIKey revokes a key by name.
func (s *PostgresStore) DisableAPIKey(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET disabled = TRUE WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("disable api key: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %q: %w", name, ErrNotFound)
	}
	return nil
}
