package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OIDCEndpointTemplate is the fixed OIDC token endpoint, templated by SSO
// region. The upstream API host is never derived from this region (spec §3,
// §6) — only the refresh call itself uses it.
const OIDCEndpointTemplate = "https://oidc.%s.amazonaws.com/token"

// OIDCProvider exchanges a refresh token for an access token via the
// standard OAuth 2.0 RFC 6749 §6 refresh flow. Per RFC 6749 §6, scope MUST
// NOT be sent on refresh: previously granted scopes are implicit.
type OIDCProvider struct {
	Client          *http.Client
	EndpointOverride string // overridable for tests; when empty, derived from cred.SSORegion
}

func NewOIDCProvider(client *http.Client) *OIDCProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OIDCProvider{Client: client}
}

type oidcRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

func (p *OIDCProvider) endpoint(region string) string {
	if p.EndpointOverride != "" {
		return p.EndpointOverride
	}
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf(OIDCEndpointTemplate, region)
}

func (p *OIDCProvider) Refresh(ctx context.Context, cred Credential) (RefreshResult, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)
	form.Set("refresh_token", cred.RefreshToken)
	// No "scope" key: RFC 6749 §6 treats the previously granted scope as
	// implicit when omitted on a refresh-token request.

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(cred.SSORegion), strings.NewReader(form.Encode()))
	if err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrNetwork, Message: "build oidc refresh request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setCommonHeaders(req.Header)

	resp, err := p.Client.Do(req)
	if err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrNetwork, Message: "oidc refresh request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return RefreshResult{}, &RefreshError{Kind: RefreshErrInvalidGrant, Message: fmt.Sprintf("oidc refresh rejected (status %d): %s", resp.StatusCode, respBody)}
	case resp.StatusCode >= 500:
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: fmt.Sprintf("oidc refresh server error (status %d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: fmt.Sprintf("oidc refresh unexpected status %d: %s", resp.StatusCode, respBody)}
	}

	var out oidcRefreshResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: "decode oidc refresh response", Cause: err}
	}
	if out.AccessToken == "" {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: "oidc refresh response missing accessToken"}
	}

	return RefreshResult{
		AccessToken:    out.AccessToken,
		Expiry:         time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
		RotatedRefresh: out.RefreshToken,
	}, nil
}
