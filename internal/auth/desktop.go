package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DesktopEndpoint is the fixed proprietary refresh endpoint (spec §6).
const DesktopEndpoint = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"

// DesktopProvider exchanges a refresh token for an access token via Kiro's
// proprietary JSON-body endpoint. The refresh token is never rotated by this
// flow (spec §4.A).
type DesktopProvider struct {
	Client   *http.Client
	Endpoint string // overridable for tests; defaults to DesktopEndpoint
}

func NewDesktopProvider(client *http.Client) *DesktopProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DesktopProvider{Client: client, Endpoint: DesktopEndpoint}
}

type desktopRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type desktopRefreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

func (p *DesktopProvider) Refresh(ctx context.Context, cred Credential) (RefreshResult, error) {
	body, err := json.Marshal(desktopRefreshRequest{RefreshToken: cred.RefreshToken})
	if err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: "encode desktop refresh body", Cause: err}
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = DesktopEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrNetwork, Message: "build desktop refresh request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	setCommonHeaders(req.Header)

	resp, err := p.Client.Do(req)
	if err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrNetwork, Message: "desktop refresh request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return RefreshResult{}, &RefreshError{Kind: RefreshErrInvalidGrant, Message: fmt.Sprintf("desktop refresh rejected (status %d): %s", resp.StatusCode, respBody)}
	case resp.StatusCode >= 500:
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: fmt.Sprintf("desktop refresh server error (status %d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: fmt.Sprintf("desktop refresh unexpected status %d: %s", resp.StatusCode, respBody)}
	}

	var out desktopRefreshResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: "decode desktop refresh response", Cause: err}
	}
	if out.AccessToken == "" {
		return RefreshResult{}, &RefreshError{Kind: RefreshErrServer, Message: "desktop refresh response missing accessToken"}
	}

	return RefreshResult{
		AccessToken: out.AccessToken,
		Expiry:      time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}
