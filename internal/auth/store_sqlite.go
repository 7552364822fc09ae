package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteScopes is the fallback order for legacy installs that still keep
// their token under the older "codewhisperer" scope prefix (spec §9 Open
// Question: the kirocli/codewhisperer split is treated here as a read-time
// fallback only; writes always target the current "kirocli" scope).
var sqliteScopes = []string{"kirocli", "codewhisperer"}

// SQLiteStore persists a credential in the auth_kv table the Kiro CLI itself
// uses: key TEXT PRIMARY KEY, value TEXT, with keys of the shape
// "<scope>:odic:token" (spec §4.B keeps the upstream's own "odic" spelling).
type SQLiteStore struct {
	Path string
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{Path: path}
}

type sqliteTokenDoc struct {
	RefreshToken string `json:"refreshToken"`
	AccessToken  string `json:"accessToken,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Region       string `json:"region,omitempty"`
	ProfileARN   string `json:"profileArn,omitempty"`
}

func tokenKey(scope string) string { return scope + ":odic:token" }
func deviceRegKey(scope string) string { return scope + ":odic:device-registration" }

func (s *SQLiteStore) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite credential db %s: %w", s.Path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS auth_kv (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure auth_kv table: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Credential, error) {
	db, err := s.open()
	if err != nil {
		return Credential{}, err
	}
	defer db.Close()

	for _, scope := range sqliteScopes {
		var value string
		err := db.QueryRowContext(ctx, `SELECT value FROM auth_kv WHERE key = ?`, tokenKey(scope)).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return Credential{}, fmt.Errorf("query auth_kv: %w", err)
		}
		var doc sqliteTokenDoc
		if err := json.Unmarshal([]byte(value), &doc); err != nil {
			return Credential{}, fmt.Errorf("parse auth_kv token document for scope %s: %w", scope, err)
		}
		if doc.RefreshToken == "" {
			continue
		}
		return Credential{
			Source:       SourceSQLite,
			RefreshToken: doc.RefreshToken,
			AccessToken:  doc.AccessToken,
			ClientID:     doc.ClientID,
			ClientSecret: doc.ClientSecret,
			SSORegion:    doc.Region,
			ProfileARN:   doc.ProfileARN,
			Provider:     DetectProvider(doc.ClientID, doc.ClientSecret),
		}, nil
	}
	return Credential{}, &ErrNoCredential{Source: SourceSQLite}
}

// Save always writes to the current "kirocli" scope, updating both the
// token row and its paired device-registration row inside one transaction
// (spec §4.B: "Save updates both rows in one transaction").
func (s *SQLiteStore) Save(ctx context.Context, cred Credential) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	doc := sqliteTokenDoc{
		RefreshToken: cred.RefreshToken,
		AccessToken:  cred.AccessToken,
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Region:       cred.SSORegion,
		ProfileARN:   cred.ProfileARN,
	}
	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal auth_kv token document: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin auth_kv transaction: %w", err)
	}
	defer tx.Rollback()

	scope := sqliteScopes[0]
	if _, err := tx.ExecContext(ctx, `INSERT INTO auth_kv(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, tokenKey(scope), string(value)); err != nil {
		return fmt.Errorf("upsert auth_kv token row: %w", err)
	}

	var existingReg string
	err = tx.QueryRowContext(ctx, `SELECT value FROM auth_kv WHERE key = ?`, deviceRegKey(scope)).Scan(&existingReg)
	if err == sql.ErrNoRows {
		existingReg = "{}"
	} else if err != nil {
		return fmt.Errorf("read auth_kv device-registration row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO auth_kv(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, deviceRegKey(scope), existingReg); err != nil {
		return fmt.Errorf("upsert auth_kv device-registration row: %w", err)
	}

	return tx.Commit()
}
