package auth

import (
	"net/url"
)

// OutcomeKind is the resolution of an authorization redirect.
type OutcomeKind int

const (
	Malformed OutcomeKind = iota
	Granted
	Denied
)

func (k OutcomeKind) String() string {
	switch k {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "malformed"
	}
}

// Outcome is the parsed authorization redirect.
type Outcome struct {
	Kind        OutcomeKind
	Code        string
	State       string
	Error       string
	Description string
}

// ParseCallback classifies the query parameters of the provider redirect.
// An error parameter wins over a code.
func ParseCallback(q url.Values) Outcome {
	state := q.Get("state")
	if e := q.Get("error"); e != "" {
		return Outcome{Kind: Denied, Error: e, Description: q.Get("error_description"), State: state}
	}
	if code := q.Get("code"); code != "" {
		return Outcome{Kind: Granted, Code: code, State: state}
	}
	return Outcome{Kind: Malformed, State: state}
}

// Err returns nil for a grant, *AuthorizationDeniedError for a denial and
// ErrMalformedCallback otherwise.
func (o Outcome) Err() error {
	switch o.Kind {
	case Granted:
		return nil
	case Denied:
		return &AuthorizationDeniedError{Code: o.Error, Description: o.Description}
	default:
		return ErrMalformedCallback
	}
}
