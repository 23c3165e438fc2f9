package oauth

import "net/url"

// CallbackKind classifies a redirect callback by its payload.
type CallbackKind int

const (
	// CallbackUnknown means the callback carried none of the expected
	// parameters.
	CallbackUnknown CallbackKind = iota

	// CallbackEnrollment means the callback carries an initial access
	// token for device registration.
	CallbackEnrollment

	// CallbackLogin means the callback carries an authorization code.
	CallbackLogin

	// CallbackError means the authorization server reported a failure.
	CallbackError
)

// String returns the string representation of the callback kind.
func (k CallbackKind) String() string {
	switch k {
	case CallbackEnrollment:
		return "enrollment"
	case CallbackLogin:
		return "login"
	case CallbackError:
		return "error"
	default:
		return "unknown"
	}
}

// CallbackParams holds the parameters delivered by the user-agent on
// the registered redirect target.
type CallbackParams struct {
	// IAT is the initial access token (enrollment success).
	IAT string

	// Code is the authorization code (login success).
	Code string

	// State is the CSRF state parameter, present on success callbacks.
	State string

	// Error is the error code if the flow failed.
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string
}

// Kind classifies the callback by presence of iat vs code vs error,
// in that priority order.
func (p *CallbackParams) Kind() CallbackKind {
	switch {
	case p.IAT != "":
		return CallbackEnrollment
	case p.Code != "":
		return CallbackLogin
	case p.Error != "":
		return CallbackError
	default:
		return CallbackUnknown
	}
}

// IsError returns true if the callback represents a flow failure.
func (p *CallbackParams) IsError() bool {
	return p.Kind() == CallbackError
}

// ParseCallback extracts the callback parameters from a redirect
// query string. Pure function; validation against stored flow state
// is the engines' responsibility.
func ParseCallback(query url.Values) *CallbackParams {
	return &CallbackParams{
		IAT:              query.Get("iat"),
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
}
