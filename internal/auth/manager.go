package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// skew is the minimum safety margin subtracted from a token's expiry before
// it is considered valid (spec §3: "now < expiry - skew where skew >= 60s").
const skew = 60 * time.Second

// Manager holds the current credential and cached access token, serializing
// concurrent refreshes behind a single-flight latch (spec §4.C). Exactly one
// Manager exists per configured credential, constructed once at the
// composition root and passed by reference — never an ambient singleton
// (spec §9 Design Notes).
type Manager struct {
	mu     sync.RWMutex
	cred   Credential
	store  Store
	group  singleflight.Group
	logger *slog.Logger

	desktop Provider
	oidc    Provider

	permanentlyFailed bool
	failureReason     string
}

func NewManager(cred Credential, store Store, desktop, oidc Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cred: cred, store: store, desktop: desktop, oidc: oidc, logger: logger}
}

// providerFor resolves the adapter to use for the manager's credential.
func (m *Manager) providerFor(cred Credential) Provider {
	if cred.Provider == ProviderOIDC {
		return m.oidc
	}
	return m.desktop
}

// Failed reports whether the manager has hit an unrecoverable invalid-grant
// error. Once true it never clears itself; the process must be reconfigured.
func (m *Manager) Failed() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.permanentlyFailed, m.failureReason
}

// ProfileARN returns the profile ARN to use for outbound upstream calls, or
// empty if the governing provider is OIDC (spec §3: "profile-arn is sent
// iff provider != OIDC").
func (m *Manager) ProfileARN() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred.Provider == ProviderOIDC {
		return ""
	}
	return m.cred.ProfileARN
}

// AuthHeader returns a ready-to-use "Bearer <token>" value, refreshing first
// if the cached token is missing or within skew of expiry.
func (m *Manager) AuthHeader(ctx context.Context) (string, error) {
	m.mu.RLock()
	failed, reason := m.permanentlyFailed, m.failureReason
	valid := m.cred.AccessToken != "" && time.Now().Before(m.cred.Expiry.Add(-skew))
	token := m.cred.AccessToken
	m.mu.RUnlock()

	if failed {
		return "", fmt.Errorf("credential manager permanently failed: %s", reason)
	}
	if valid {
		return "Bearer " + token, nil
	}

	if err := m.Refresh(ctx); err != nil {
		return "", err
	}

	m.mu.RLock()
	token = m.cred.AccessToken
	m.mu.RUnlock()
	return "Bearer " + token, nil
}

// Refresh performs (or joins an in-flight) token refresh. Concurrent callers
// during a refresh block on the single in-flight call and all observe the
// same new token (spec Testable Property 1 / S6). Cancellation of a calling
// context does not cancel an already-started refresh (spec §4.C): the
// refresh runs with its own background context, detached from any one
// caller's ctx, and every concurrent caller simply waits on the shared
// singleflight result.
func (m *Manager) Refresh(ctx context.Context) error {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.doRefresh()
	})
	if err != nil {
		return err
	}
	_ = v
	return nil
}

func (m *Manager) doRefresh() (interface{}, error) {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()

	provider := m.providerFor(cred)
	// Detached background context: a refresh, once started, must complete
	// even if the caller that triggered it disconnects.
	result, err := provider.Refresh(context.Background(), cred)
	if err != nil {
		var rerr *RefreshError
		if ok := asRefreshError(err, &rerr); ok && rerr.Kind == RefreshErrInvalidGrant {
			m.mu.Lock()
			m.permanentlyFailed = true
			m.failureReason = rerr.Error()
			m.mu.Unlock()
			m.logger.Error("credential refresh failed permanently", "reason", rerr.Error())
		}
		return nil, err
	}

	m.mu.Lock()
	m.cred.AccessToken = result.AccessToken
	m.cred.Expiry = result.Expiry
	if result.RotatedRefresh != "" {
		m.cred.RefreshToken = result.RotatedRefresh
	}
	updated := m.cred
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(context.Background(), updated); err != nil {
			m.logger.Warn("failed to persist refreshed credential", "error", err)
		}
	}

	return result.AccessToken, nil
}

func asRefreshError(err error, target **RefreshError) bool {
	for err != nil {
		if re, ok := err.(*RefreshError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Invalidate marks the current token as expired, forcing the next
// AuthHeader call to refresh (spec §4.C, used on upstream 401).
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.Expiry = time.Time{}
}
