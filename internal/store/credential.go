package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Credential is a stored sign-in secret.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Create(userID, email, passwordHash string) error {
	_, err := s.db.Exec(
		`INSERT INTO credentials (user_id, email, password_hash) VALUES (?, ?, ?)`,
		userID, normalizeEmail(email), passwordHash,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetByEmail returns nil when no credential matches.
func (s *CredentialStore) GetByEmail(email string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRow(
		`SELECT user_id, email, password_hash, created_at FROM credentials WHERE email = ?`,
		normalizeEmail(email),
	).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// RevokeToken blocks a session token id until it would have expired.
func (s *CredentialStore) RevokeToken(tokenID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO revoked_tokens (token_id, expires_at) VALUES (?, ?)`,
		tokenID, formatTime(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *CredentialStore) IsRevoked(tokenID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}

// DeleteExpiredRevocations removes revocations for tokens that expired
// before now.
func (s *CredentialStore) DeleteExpiredRevocations(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}
	return res.RowsAffected()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
