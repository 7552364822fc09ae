package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists a credential to a JSON file with the keys spec §6
// names: refreshToken, profileArn, region, clientId, clientSecret. Saves are
// atomic: written to a temp file in the same directory, then renamed over
// the target, with 0600 permissions (spec §4.B).
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

type fileCredential struct {
	RefreshToken string `json:"refreshToken"`
	ProfileARN   string `json:"profileArn,omitempty"`
	Region       string `json:"region,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

func (s *FileStore) Load(ctx context.Context) (Credential, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Credential{}, &ErrNoCredential{Source: SourceFile}
	}
	var fc fileCredential
	if err := json.Unmarshal(data, &fc); err != nil {
		return Credential{}, fmt.Errorf("parse credential file %s: %w", s.Path, err)
	}
	if fc.RefreshToken == "" {
		return Credential{}, &ErrNoCredential{Source: SourceFile}
	}
	return Credential{
		Source:       SourceFile,
		RefreshToken: fc.RefreshToken,
		ProfileARN:   fc.ProfileARN,
		ClientID:     fc.ClientID,
		ClientSecret: fc.ClientSecret,
		SSORegion:    fc.Region,
		Provider:     DetectProvider(fc.ClientID, fc.ClientSecret),
	}, nil
}

func (s *FileStore) Save(ctx context.Context, cred Credential) error {
	fc := fileCredential{
		RefreshToken: cred.RefreshToken,
		ProfileARN:   cred.ProfileARN,
		Region:       cred.SSORegion,
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".kiro-creds-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once rename succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("rename credential file into place: %w", err)
	}
	return nil
}
