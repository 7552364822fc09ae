package auth

import "context"

// Store is the pluggable credential persistence interface (spec §4.B).
// Load is called once at startup in priority order (SQLite > File > Env);
// Save is called by the credential manager after every successful refresh.
type Store interface {
	Load(ctx context.Context) (Credential, error)
	Save(ctx context.Context, cred Credential) error
}

// ErrNoCredential is returned by Load when a store has nothing to offer.
type ErrNoCredential struct{ Source Source }

func (e *ErrNoCredential) Error() string {
	return "no credential available from source: " + string(e.Source)
}

// LoadFirst tries each store in priority order and returns the first
// credential found, per spec §4.B "Priority on startup: SQLite > File > Env".
func LoadFirst(ctx context.Context, stores ...Store) (Credential, Store, error) {
	var lastErr error
	for _, s := range stores {
		cred, err := s.Load(ctx)
		if err == nil && cred.RefreshToken != "" {
			return cred, s, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = &ErrNoCredential{}
	}
	return Credential{}, nil, lastErr
}
