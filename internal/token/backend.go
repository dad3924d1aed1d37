package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
)

// BackendClient talks to the confidential exchange and refresh endpoints of the backend,
// which hold the client secret.
type BackendClient struct {
	baseURL    string
	provider   string
	httpClient *http.Client
}

var _ Exchanger = (*BackendClient)(nil)

// NewBackendClient creates a client for {baseURL}/auth/{provider}/token and /refresh.
func NewBackendClient(baseURL, provider string, httpClient *http.Client) *BackendClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BackendClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		provider:   provider,
		httpClient: httpClient,
	}
}

type exchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange posts the authorization code to the backend exchange endpoint.
func (c *BackendClient) Exchange(ctx context.Context, code, redirectURI string) (*model.TokenResponse, error) {
	return c.post(ctx, "token", exchangeRequest{Code: code, RedirectURI: redirectURI})
}

// Refresh posts the refresh token to the backend refresh endpoint.
func (c *BackendClient) Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error) {
	return c.post(ctx, "refresh", refreshRequest{RefreshToken: refreshToken})
}

func (c *BackendClient) post(ctx context.Context, action string, payload any) (*model.TokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	endpoint := fmt.Sprintf("%s/auth/%s/%s", c.baseURL, url.PathEscape(c.provider), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &adapter.TransportError{Op: "POST " + action, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &adapter.TransportError{Op: "POST " + action, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		exErr := &ExchangeError{Status: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			exErr.ProviderError = er.Error
			exErr.Description = er.ErrorDescription
		}
		return nil, exErr
	}

	var tr model.TokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, &adapter.MalformedResponseError{What: action + " response", Reason: err.Error()}
	}
	return &tr, nil
}
