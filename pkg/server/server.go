// Package server implements the provider-side validation middleware: every
// request to a protected endpoint is accepted only when it carries a signed
// access token whose signature, expiry, and parameter binding all check out.
//
// Validation is stateless and safe per-request; the only shared state is the
// verifier public key loaded once at construction.
package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/oreprotocol/oreaccess/pkg/analytics"
	"github.com/oreprotocol/oreaccess/pkg/params"
	"github.com/oreprotocol/oreaccess/pkg/token"
)

type contextKey struct{}

var claimsContextKey = contextKey{}

// ClaimsFromContext returns the validated token claims attached to a request
// that passed the middleware.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	return claims, ok
}

// Validator validates access tokens on incoming requests.
type Validator struct {
	publicKey *ecdsa.PublicKey
	logger    hclog.Logger
	sink      analytics.Sink
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the validation logger.
func WithLogger(logger hclog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithAnalytics sets the usage event sink. Default is the no-op sink.
func WithAnalytics(sink analytics.Sink) Option {
	return func(v *Validator) { v.sink = sink }
}

// NewValidator creates a Validator from a PEM-encoded verifier public key
// (escaped newlines accepted). An empty key is a configuration error: a
// server without a key can never accept a request, so it refuses to start
// instead of rejecting every call at runtime.
func NewValidator(publicKeyPEM string, opts ...Option) (*Validator, error) {
	if publicKeyPEM == "" {
		return nil, fmt.Errorf("validator: %w", token.ErrNoPublicKey)
	}
	key, err := token.ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}

	v := &Validator{publicKey: key, sink: analytics.NoopSink{}}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = hclog.New(&hclog.LoggerOptions{Name: "oreaccess-server"})
	}
	return v, nil
}

// Middleware wraps a protected handler. Requests pass through only after the
// full validation pipeline accepts them; every rejection is a structured
// JSON 4xx, never a raw 500.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.validate(r)
		if err != nil {
			v.reject(w, r, err)
			return
		}

		// Record usage in the background; analytics must never delay or
		// fail a validated request.
		event := analytics.NewEvent(callerIP(r), "request details", map[string]interface{}{
			"accessTokenHash": hashToken(r.Header.Get(token.Header)),
		})
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := v.sink.Track(ctx, event); err != nil {
				v.logger.Warn("analytics event failed", "error", err)
			}
		}()

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
	})
}

// validate runs the validation pipeline: presence, signature and expiry,
// then parameter binding.
func (v *Validator) validate(r *http.Request) (*token.Claims, error) {
	signedToken := r.Header.Get(token.Header)
	if signedToken == "" {
		return nil, &token.Error{Op: "CheckPresence", Err: token.ErrMissingToken}
	}

	claims, err := token.Verify(signedToken, v.publicKey)
	if err != nil {
		return nil, err
	}

	liveParams, err := extractRequestParams(r)
	if err != nil {
		return nil, &token.Error{Op: "CheckBinding", Err: err, Msg: "pass in the query and body params in correct format"}
	}

	liveHash, err := liveParams.Hash()
	if err != nil {
		return nil, &token.Error{Op: "CheckBinding", Err: err}
	}
	if liveHash != claims.ReqParamHash {
		return nil, &token.Error{Op: "CheckBinding", Err: token.ErrParamMismatch}
	}
	return claims, nil
}

// extractRequestParams rebuilds the parameter set the client hashed: when
// both the query string and the JSON body are non-empty the groups are kept
// separate (and get prefixed during normalization, exactly as on the
// client), otherwise whichever is present is treated flat.
func extractRequestParams(r *http.Request) (params.Params, error) {
	query := map[string]interface{}{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}

	body, err := readBodyParams(r)
	if err != nil {
		return params.Params{}, err
	}

	switch {
	case len(query) > 0 && len(body) > 0:
		return params.Split(query, body), nil
	case len(query) > 0:
		return params.Flat(query), nil
	default:
		return params.Flat(body), nil
	}
}

// readBodyParams decodes a JSON object body into a parameter mapping,
// restoring r.Body so the protected handler can read it again. Numbers are
// kept in their wire form so their canonical string matches what the client
// hashed.
func readBodyParams(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	body := map[string]interface{}{}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: request body is not a JSON object", params.ErrParamEncoding)
	}
	return body, nil
}

// reject writes the structured rejection for a validation failure. Details
// are logged; the response body carries only the failure category.
func (v *Validator) reject(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusUnauthorized
	message := "ore-access-token is not valid"

	switch {
	case errors.Is(err, token.ErrMissingToken):
		status = http.StatusBadRequest
		message = "ore-access-token is missing in the request. Provide a valid ore-access-token in the request header."
	case errors.Is(err, token.ErrNoPublicKey):
		status = http.StatusBadRequest
		message = "verifier public key is missing. Provide a valid verifier public key."
	case errors.Is(err, token.ErrTokenExpired):
		message = "expired ore-access-token. Provide a valid token."
	case errors.Is(err, token.ErrInvalidSignature):
		message = "invalid signature for ore-access-token. Make sure ore-access-token is signed with a valid key."
	case errors.Is(err, token.ErrMalformedToken):
		message = "malformed ore-access-token."
	case errors.Is(err, token.ErrParamMismatch):
		message = "request parameters do not match the ore-access-token."
	case errors.Is(err, params.ErrParamEncoding):
		status = http.StatusBadRequest
		message = "problem in creating a hash of the request parameters. Pass in the query and body params in correct format."
	}

	v.logger.Warn("rejected request",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// callerIP extracts the client address, preferring the forwarded header set
// by proxies.
func callerIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

// hashToken returns the SHA-256 hex digest of the signed token, the only
// form in which tokens appear in analytics.
func hashToken(signedToken string) string {
	sum := sha256.Sum256([]byte(signedToken))
	return hex.EncodeToString(sum[:])
}
