package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eve-foreman/internal/logger"
)

// ErrNoCredentials is returned when a detection scope has no stored
// token; the scope's tick terminates without touching state.
var ErrNoCredentials = errors.New("no credentials for scope")

// Scope identifies one detection scope: a character or a corporation.
// Corporation scopes still fetch with a character's token (the member
// holding the Factory_Manager role).
type Scope struct {
	Kind          string // "character" or "corporation"
	ID            int64  // character_id or corporation_id
	CharacterID   int64  // token owner
	CharacterName string
}

// Key is the stable credential key, e.g. "character:90000001".
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// Credential is a stored ESI token for one scope.
type Credential struct {
	ScopeKey      string
	CharacterID   int64
	CharacterName string
	CorporationID int64
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
}

// TokenRefresher exchanges a refresh token for a fresh access token.
// Implemented by the SSO client; nil disables refresh.
type TokenRefresher interface {
	Refresh(refreshToken string) (access, refresh string, expiresIn int64, err error)
}

// Store persists ESI credentials in SQLite, one row per scope.
type Store struct {
	db *sql.DB
}

// NewStore creates a credential store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts or updates the credential for its scope key.
func (s *Store) Save(c *Credential) error {
	if c == nil || strings.TrimSpace(c.ScopeKey) == "" {
		return fmt.Errorf("credential scope key is required")
	}
	_, err := s.db.Exec(`
		INSERT INTO esi_credentials (scope_key, character_id, character_name, corporation_id, access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			character_id = excluded.character_id,
			character_name = excluded.character_name,
			corporation_id = excluded.corporation_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at`,
		c.ScopeKey, c.CharacterID, c.CharacterName, c.CorporationID,
		c.AccessToken, c.RefreshToken, c.ExpiresAt.Unix(),
	)
	return err
}

// Get returns the credential for a scope key, or ErrNoCredentials.
func (s *Store) Get(scopeKey string) (*Credential, error) {
	var (
		c           Credential
		expiresUnix int64
	)
	err := s.db.QueryRow(`
		SELECT scope_key, character_id, character_name, corporation_id, access_token, refresh_token, expires_at
		  FROM esi_credentials WHERE scope_key = ?
	`, scopeKey).Scan(&c.ScopeKey, &c.CharacterID, &c.CharacterName, &c.CorporationID,
		&c.AccessToken, &c.RefreshToken, &expiresUnix)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, scopeKey)
	}
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = time.Unix(expiresUnix, 0)
	return &c, nil
}

// List returns all stored credentials, ordered by scope key. The
// dispatcher derives its detection scopes from this list.
func (s *Store) List() ([]Credential, error) {
	rows, err := s.db.Query(`
		SELECT scope_key, character_id, character_name, corporation_id, access_token, refresh_token, expires_at
		  FROM esi_credentials ORDER BY scope_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Credential, 0, 8)
	for rows.Next() {
		var (
			c           Credential
			expiresUnix int64
		)
		if err := rows.Scan(&c.ScopeKey, &c.CharacterID, &c.CharacterName, &c.CorporationID,
			&c.AccessToken, &c.RefreshToken, &expiresUnix); err != nil {
			return nil, err
		}
		c.ExpiresAt = time.Unix(expiresUnix, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a scope's credential.
func (s *Store) Delete(scopeKey string) error {
	_, err := s.db.Exec(`DELETE FROM esi_credentials WHERE scope_key = ?`, scopeKey)
	return err
}

// Token returns a valid access token for the scope, refreshing through
// the given refresher when the stored token is within 60s of expiry.
func (s *Store) Token(scopeKey string, refresher TokenRefresher) (string, error) {
	c, err := s.Get(scopeKey)
	if err != nil {
		return "", err
	}

	if time.Now().Before(c.ExpiresAt.Add(-60 * time.Second)) {
		return c.AccessToken, nil
	}
	if refresher == nil {
		return "", fmt.Errorf("token for %s expired and no refresher configured", scopeKey)
	}

	logger.Info("Auth", fmt.Sprintf("Refreshing token for %s", c.CharacterName))
	access, refresh, expiresIn, err := refresher.Refresh(c.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh token for %s: %w", scopeKey, err)
	}

	c.AccessToken = access
	c.RefreshToken = refresh
	c.ExpiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	if err := s.Save(c); err != nil {
		return "", fmt.Errorf("save refreshed credential: %w", err)
	}
	return c.AccessToken, nil
}
