// Package auth implements the credential manager subsystem (spec §4.A-C):
// identity adapters that exchange a refresh token for a short-lived access
// token, pluggable credential stores, and the manager that ties the two
// together with single-flight refresh serialization.
package auth

import (
	"context"
	"time"
)

// ProviderKind identifies which identity provider governs a credential.
type ProviderKind string

const (
	ProviderDesktop ProviderKind = "desktop"
	ProviderOIDC    ProviderKind = "oidc"
)

// Source identifies where a Credential was loaded from.
type Source string

const (
	SourceEnv    Source = "env"
	SourceFile   Source = "file"
	SourceSQLite Source = "sqlite"
)

// Credential is the refresh-credential record described in spec §3.
// Invariant: Provider == ProviderOIDC iff ClientID and ClientSecret are both
// non-empty.
type Credential struct {
	Source       Source
	RefreshToken string
	ClientID     string
	ClientSecret string
	Provider     ProviderKind
	SSORegion    string // only meaningful for OIDC
	ProfileARN   string

	// Cached token state, mutated by the credential manager only.
	AccessToken string
	Expiry      time.Time
}

// DetectProvider infers which provider governs a credential from the
// presence of OIDC client credentials, per spec §3's invariant.
func DetectProvider(clientID, clientSecret string) ProviderKind {
	if clientID != "" && clientSecret != "" {
		return ProviderOIDC
	}
	return ProviderDesktop
}

// RefreshErrorKind categorizes identity-provider refresh failures (spec §4.A).
type RefreshErrorKind string

const (
	RefreshErrNetwork      RefreshErrorKind = "network"
	RefreshErrInvalidGrant RefreshErrorKind = "invalid_grant"
	RefreshErrServer       RefreshErrorKind = "server"
)

// RefreshError is returned by a Provider's Refresh method.
type RefreshError struct {
	Kind    RefreshErrorKind
	Message string
	Cause   error
}

func (e *RefreshError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RefreshError) Unwrap() error { return e.Cause }

// RefreshResult carries the outcome of a successful refresh. RotatedRefresh
// is empty unless the provider issued a new refresh token (OIDC may; Desktop
// never does, per spec §4.A).
type RefreshResult struct {
	AccessToken    string
	Expiry         time.Time
	RotatedRefresh string
}

// Provider is the single operation every identity adapter exposes.
type Provider interface {
	Refresh(ctx context.Context, cred Credential) (RefreshResult, error)
}
