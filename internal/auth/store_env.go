package auth

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// EnvStore loads a refresh token from environment variables. Save is a
// no-op (warned once) since there is nowhere durable to write back to, per
// spec §4.B.
type EnvStore struct {
	RefreshToken string
	ProfileARN   string

	warnOnce sync.Once
	logger   *slog.Logger
}

func NewEnvStore(logger *slog.Logger) *EnvStore {
	return &EnvStore{
		RefreshToken: os.Getenv("REFRESH_TOKEN"),
		ProfileARN:   os.Getenv("PROFILE_ARN"),
		logger:       logger,
	}
}

func (s *EnvStore) Load(ctx context.Context) (Credential, error) {
	if s.RefreshToken == "" {
		return Credential{}, &ErrNoCredential{Source: SourceEnv}
	}
	return Credential{
		Source:       SourceEnv,
		RefreshToken: s.RefreshToken,
		ProfileARN:   s.ProfileARN,
		Provider:     ProviderDesktop,
	}, nil
}

func (s *EnvStore) Save(ctx context.Context, cred Credential) error {
	s.warnOnce.Do(func() {
		if s.logger != nil {
			s.logger.Warn("env credential source cannot persist refreshed tokens; they will be re-derived from REFRESH_TOKEN on restart")
		}
	})
	return nil
}
