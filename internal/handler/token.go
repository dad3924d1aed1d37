package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/auth"
	"github.com/jun/gophsync/internal/model"
)

// TokenBroker performs confidential token requests against one identity provider.
// *auth.Broker implements it.
type TokenBroker interface {
	Exchange(ctx context.Context, code, redirectURI string) (*model.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error)
}

// TokenHandler serves the authorization redirect, token exchange and token refresh
// endpoints for every known provider.
type TokenHandler struct {
	brokers     map[string]TokenBroker
	known       map[string]bool
	frontendURL string
	logger      *slog.Logger
}

// NewTokenHandler creates a TokenHandler. brokers holds the configured providers;
// known lists every provider the backend recognizes, configured or not.
func NewTokenHandler(brokers map[string]TokenBroker, known []string, frontendURL string, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	k := make(map[string]bool, len(known))
	for _, name := range known {
		k[name] = true
	}
	return &TokenHandler{
		brokers:     brokers,
		known:       k,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		logger:      logger,
	}
}

// Callback forwards the provider's redirect to the frontend: the code and state on
// success, the provider's error description otherwise.
func (h *TokenHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	provider := req.PathParameters["provider"]
	if !h.known[provider] {
		return errorResponse(http.StatusNotFound, "unknown_provider", provider)
	}
	q := req.QueryStringParameters

	if e := q["error"]; e != "" {
		msg := q["error_description"]
		if msg == "" {
			msg = e
		}
		h.logger.Warn("authorization denied", "provider", provider, "error", e)
		return redirect(h.settingsURL(provider, msg)), nil
	}
	code := q["code"]
	if code == "" {
		return redirect(h.settingsURL(provider, "No authorization code received")), nil
	}

	v := url.Values{}
	v.Set("code", code)
	if state := q["state"]; state != "" {
		v.Set("state", state)
	}
	return redirect(fmt.Sprintf("%s/%s/callback?%s", h.frontendURL, provider, v.Encode())), nil
}

func (h *TokenHandler) settingsURL(provider, msg string) string {
	v := url.Values{}
	v.Set(provider+"_error", msg)
	v.Set("tab", "sync")
	return h.frontendURL + "/settings?" + v.Encode()
}

// Exchange trades {code, redirectUri} for tokens.
func (h *TokenHandler) Exchange(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	broker, resp, ok := h.broker(req)
	if !ok {
		return resp, nil
	}

	var body struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirectUri"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid_request", "Invalid request body")
	}
	if body.Code == "" {
		return errorResponse(http.StatusBadRequest, "invalid_request", "Authorization code is required")
	}

	tok, err := broker.Exchange(ctx, body.Code, body.RedirectURI)
	if err != nil {
		return h.providerFailure(req, "exchange", err)
	}
	return jsonResponse(http.StatusOK, tok)
}

// Refresh trades {refreshToken} for a new access token.
func (h *TokenHandler) Refresh(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	broker, resp, ok := h.broker(req)
	if !ok {
		return resp, nil
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid_request", "Invalid request body")
	}
	if body.RefreshToken == "" {
		return errorResponse(http.StatusBadRequest, "invalid_request", "Refresh token is required")
	}

	tok, err := broker.Refresh(ctx, body.RefreshToken)
	if err != nil {
		return h.providerFailure(req, "refresh", err)
	}
	return jsonResponse(http.StatusOK, tok)
}

func (h *TokenHandler) broker(req events.APIGatewayProxyRequest) (TokenBroker, events.APIGatewayProxyResponse, bool) {
	provider := req.PathParameters["provider"]
	if !h.known[provider] {
		resp, _ := errorResponse(http.StatusNotFound, "unknown_provider", provider)
		return nil, resp, false
	}
	b, ok := h.brokers[provider]
	if !ok {
		h.logger.Error("provider credentials not configured", "provider", provider)
		resp, _ := errorResponse(http.StatusInternalServerError, "credentials not configured", "")
		return nil, resp, false
	}
	return b, events.APIGatewayProxyResponse{}, true
}

func (h *TokenHandler) providerFailure(req events.APIGatewayProxyRequest, op string, err error) (events.APIGatewayProxyResponse, error) {
	provider := req.PathParameters["provider"]
	var pe *auth.ProviderError
	if errors.As(err, &pe) {
		h.logger.Warn("token request rejected", "provider", provider, "op", op, "status", pe.Status, "code", pe.Code)
		code := pe.Code
		if code == "" {
			code = "token_request_failed"
		}
		return errorResponse(pe.HTTPStatus(), code, pe.Description)
	}
	return events.APIGatewayProxyResponse{}, fmt.Errorf("%s token for %s: %w", op, provider, err)
}
