package auth

import (
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// FlowBuilder produces authorization URLs for the authorization-code flow.
type FlowBuilder struct {
	provider Provider
	config   *oauth2.Config
	states   *StateSigner
}

// NewFlowBuilder validates the client configuration up front so a missing client id
// is reported before any browser or listener is opened.
func NewFlowBuilder(provider Provider, clientID, redirectURI string, states *StateSigner) (*FlowBuilder, error) {
	if clientID == "" {
		return nil, &ConfigurationError{Field: "client id"}
	}
	if redirectURI == "" {
		return nil, &ConfigurationError{Field: "redirect uri"}
	}
	if _, err := url.ParseRequestURI(redirectURI); err != nil {
		return nil, &ConfigurationError{Field: fmt.Sprintf("valid redirect uri (%v)", err)}
	}
	if states == nil {
		return nil, &ConfigurationError{Field: "state signer"}
	}

	return &FlowBuilder{
		provider: provider,
		config: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURI,
			Endpoint:    provider.Endpoint,
			Scopes:      provider.Scopes,
		},
		states: states,
	}, nil
}

// RedirectURI returns the fixed redirect URI the flow was built with.
func (b *FlowBuilder) RedirectURI() string {
	return b.config.RedirectURL
}

// AuthURL returns the authorization URL and the state value embedded in it.
// The caller keeps the state to validate the callback.
func (b *FlowBuilder) AuthURL() (string, string, error) {
	state, err := b.states.Issue(b.provider.Name)
	if err != nil {
		return "", "", err
	}
	return b.config.AuthCodeURL(state, b.provider.AuthOptions...), state, nil
}

// ValidateState checks the state returned on the callback against the issued one.
func (b *FlowBuilder) ValidateState(issued, returned string) error {
	return b.states.Validate(issued, returned, b.provider.Name)
}
