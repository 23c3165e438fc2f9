// Package oauth provides the shared OAuth 2.0 protocol primitives used
// by the devauth engines: PKCE generation (RFC 7636), CSRF state
// generation, redirect-callback parsing, and the wire types for token
// responses and Dynamic Client Registration (RFC 7591).
//
// Everything in this package is pure and dependency-light: no I/O, no
// persistence, no logging. The engines under internal/ compose these
// primitives with key custody, credential storage, and transport.
//
// # PKCE
//
// Code verifiers are 48 bytes of cryptographically secure randomness,
// base64url-encoded without padding (64 characters), which satisfies
// RFC 7636's 43-128 character constraint. Challenges always use the
// S256 method; the "plain" method is never offered.
//
// # Callback routing
//
// A redirect callback carries one of three payloads: an initial access
// token (device enrollment), an authorization code (login), or an
// error. ParseCallback classifies the payload by presence of iat vs
// code vs error, in that priority order.
//
// # Errors
//
// Network-facing operations across devauth return one of three error
// types declared here: ValidationError (resolved locally, never
// retried), ProtocolError (non-2xx server response, carries the HTTP
// status), and TransportError (connectivity or decoding failure,
// eligible for caller-driven retry). Callers match with errors.As.
package oauth
