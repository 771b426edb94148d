package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oreprotocol/oreaccess/pkg/analytics"
	"github.com/oreprotocol/oreaccess/pkg/params"
	"github.com/oreprotocol/oreaccess/pkg/token"
)

// recordingSink captures analytics events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (s *recordingSink) Track(_ context.Context, e analytics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) wait(t *testing.T) analytics.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.events) > 0 {
			e := s.events[0]
			s.mu.Unlock()
			return e
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no analytics event recorded")
	return analytics.Event{}
}

func newKeyPair(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, string(pubPEM)
}

func issueFor(t *testing.T, key *ecdsa.PrivateKey, p params.Params, ttl int64) string {
	t.Helper()
	hash, err := p.Hash()
	require.NoError(t, err)
	signed, err := token.NewIssuer(key).Issue(token.Claims{
		Endpoint:           "https://api.example.com/protected",
		Method:             "GET",
		ReqParamHash:       hash,
		AccessTokenTimeout: ttl,
	})
	require.NoError(t, err)
	return signed
}

func okHandler(hits *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"ok":true}`)
	})
}

func rejectionMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["message"]
}

func TestNewValidator_RequiresKey(t *testing.T) {
	_, err := NewValidator("")
	require.Error(t, err)
	assert.ErrorIs(t, err, token.ErrNoPublicKey)

	_, err = NewValidator("not a pem key")
	require.Error(t, err)
}

func TestNewValidator_EscapedNewlines(t *testing.T) {
	_, pubPEM := newKeyPair(t)
	escaped := strings.ReplaceAll(pubPEM, "\n", `\n`)
	_, err := NewValidator(escaped)
	require.NoError(t, err)
}

func TestMiddleware_AcceptsValidToken(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	sink := &recordingSink{}
	v, err := NewValidator(pubPEM, WithAnalytics(sink))
	require.NoError(t, err)

	var hits int
	handler := v.Middleware(okHandler(&hits))

	p := params.Flat(map[string]interface{}{"city": "paris"})
	req := httptest.NewRequest(http.MethodGet, "/protected?city=paris", nil)
	req.Header.Set(token.Header, issueFor(t, key, p, 300))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hits)

	event := sink.wait(t)
	assert.Equal(t, "request details", event.Name)
	assert.NotEmpty(t, event.Properties["accessTokenHash"])
}

func TestMiddleware_ClaimsInContext(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	var got *token.Claims
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFromContext(r.Context())
	}))

	p := params.Flat(map[string]interface{}{"city": "paris"})
	req := httptest.NewRequest(http.MethodGet, "/protected?city=paris", nil)
	req.Header.Set(token.Header, issueFor(t, key, p, 300))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "GET", got.Method)
}

func TestMiddleware_MissingToken(t *testing.T) {
	_, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	var hits int
	handler := v.Middleware(okHandler(&hits))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, hits)
	assert.Contains(t, rejectionMessage(t, rec), "missing")
}

func TestMiddleware_WrongSigningKey(t *testing.T) {
	_, pubPEM := newKeyPair(t)
	otherKey, _ := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	var hits int
	handler := v.Middleware(okHandler(&hits))

	p := params.Flat(map[string]interface{}{"city": "paris"})
	req := httptest.NewRequest(http.MethodGet, "/protected?city=paris", nil)
	req.Header.Set(token.Header, issueFor(t, otherKey, p, 300))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, hits)
	assert.Contains(t, rejectionMessage(t, rec), "signature")
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	var hits int
	handler := v.Middleware(okHandler(&hits))

	// Valid signature, valid parameter hash, but issued an hour ago with a
	// 60s TTL.
	p := params.Flat(map[string]interface{}{"city": "paris"})
	hash, err := p.Hash()
	require.NoError(t, err)
	signed, err := token.NewIssuer(key).IssueAt(token.Claims{
		ReqParamHash:       hash,
		AccessTokenTimeout: 60,
	}, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected?city=paris", nil)
	req.Header.Set(token.Header, signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, hits)
	assert.Contains(t, rejectionMessage(t, rec), "expired")
}

func TestMiddleware_MalformedToken(t *testing.T) {
	_, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(token.Header, "garbage")
	rec := httptest.NewRecorder()
	v.Middleware(okHandler(new(int))).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rejectionMessage(t, rec), "malformed")
}

func TestMiddleware_ParamMismatch(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	var hits int
	handler := v.Middleware(okHandler(&hits))

	// Token issued for x=1, request carries x=2: rejected despite a valid,
	// unexpired signature.
	p := params.Flat(map[string]interface{}{"x": "1"})
	req := httptest.NewRequest(http.MethodGet, "/protected?x=2", nil)
	req.Header.Set(token.Header, issueFor(t, key, p, 300))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, hits)
	assert.Contains(t, rejectionMessage(t, rec), "parameters")
}

func TestMiddleware_SplitParamsBinding(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	var hits int
	handler := v.Middleware(okHandler(&hits))

	// Query and body together must re-derive the prefixed split hash.
	p := params.Split(
		map[string]interface{}{"q": "search"},
		map[string]interface{}{"limit": json.Number("10")},
	)
	body := bytes.NewBufferString(`{"limit":10}`)
	req := httptest.NewRequest(http.MethodPost, "/protected?q=search", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(token.Header, issueFor(t, key, p, 300))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hits)
}

func TestMiddleware_BodyRestoredForHandler(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	var seen string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
	}))

	p := params.Flat(map[string]interface{}{"name": "ada"})
	body := bytes.NewBufferString(`{"name":"ada"}`)
	req := httptest.NewRequest(http.MethodPost, "/protected", body)
	req.Header.Set(token.Header, issueFor(t, key, p, 300))

	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, `{"name":"ada"}`, seen)
}

func TestMiddleware_NonJSONBody(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewValidator(pubPEM)
	require.NoError(t, err)

	p := params.Flat(map[string]interface{}{})
	req := httptest.NewRequest(http.MethodPost, "/protected", bytes.NewBufferString("not json"))
	req.Header.Set(token.Header, issueFor(t, key, p, 300))

	rec := httptest.NewRecorder()
	v.Middleware(okHandler(new(int))).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallerIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4411"
	assert.Equal(t, "198.51.100.7", callerIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", callerIP(req))
}
