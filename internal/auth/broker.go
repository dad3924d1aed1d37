package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/gophsync/internal/model"
)

// Broker performs the confidential half of the flow: code exchange and refresh with
// the client secret. It runs on the backend only.
type Broker struct {
	provider   Provider
	config     *oauth2.Config
	httpClient *http.Client
}

// NewBroker fails with *ConfigurationError when the client id or secret is missing.
func NewBroker(provider Provider, clientID, clientSecret string, httpClient *http.Client) (*Broker, error) {
	if clientID == "" {
		return nil, &ConfigurationError{Field: provider.Name + " client id"}
	}
	if clientSecret == "" {
		return nil, &ConfigurationError{Field: provider.Name + " client secret"}
	}
	return &Broker{
		provider: provider,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint,
			Scopes:       provider.Scopes,
		},
		httpClient: httpClient,
	}, nil
}

// Provider returns the broker's provider.
func (b *Broker) Provider() Provider {
	return b.provider
}

func (b *Broker) context(ctx context.Context) context.Context {
	if b.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

// Exchange trades an authorization code for tokens. redirectURI must equal the one
// used to obtain the code.
func (b *Broker) Exchange(ctx context.Context, code, redirectURI string) (*model.TokenResponse, error) {
	tok, err := b.config.Exchange(b.context(ctx), code, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	if err != nil {
		return nil, providerError(err)
	}
	return tokenResponse(tok), nil
}

// Refresh trades a refresh token for a new access token.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error) {
	src := b.config.TokenSource(b.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, providerError(err)
	}
	return tokenResponse(tok), nil
}

func providerError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription}
		if re.Response != nil {
			pe.Status = re.Response.StatusCode
		}
		if pe.Code == "" && pe.Description == "" {
			pe.Description = string(re.Body)
		}
		return pe
	}
	return &ProviderError{Description: fmt.Sprintf("token request failed: %v", err)}
}

func tokenResponse(tok *oauth2.Token) *model.TokenResponse {
	resp := &model.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp
}
