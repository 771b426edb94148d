package token

import "errors"

// Sentinel errors for the validation pipeline. Every rejection a protected
// server can produce wraps exactly one of these, so callers can branch with
// errors.Is without parsing messages.
var (
	// ErrMissingToken indicates no Ore-Access-Token header on the request.
	ErrMissingToken = errors.New("ore-access-token is missing in the request")

	// ErrInvalidSignature indicates the token signature does not verify
	// against the configured verifier public key.
	ErrInvalidSignature = errors.New("invalid signature for ore-access-token")

	// ErrTokenExpired indicates the token is past its embedded expiry.
	ErrTokenExpired = errors.New("expired ore-access-token")

	// ErrMalformedToken indicates the token cannot be parsed at all.
	ErrMalformedToken = errors.New("malformed ore-access-token")

	// ErrParamMismatch indicates the request's recomputed parameter hash does
	// not match the hash the token was issued for.
	ErrParamMismatch = errors.New("request parameters do not match ore-access-token")

	// ErrNoPublicKey indicates the server has no configured verifier public
	// key; a configuration fault, not a client fault.
	ErrNoPublicKey = errors.New("verifier public key is missing")
)

// Error wraps a validation failure with the pipeline stage that produced it.
type Error struct {
	// Op is the validation stage, e.g. "CheckSignature".
	Op string

	// Err is the underlying sentinel or cause.
	Err error

	// Msg is optional human-readable context.
	Msg string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
