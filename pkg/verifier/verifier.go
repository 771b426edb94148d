// Package verifier implements the HTTP client for the trusted verifier
// service: access token issuance, post-hoc usage accounting, and discovery
// of the chain node behind the verifier.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mitchellh/mapstructure"

	"github.com/oreprotocol/oreaccess/pkg/ledger"
	"github.com/oreprotocol/oreaccess/pkg/money"
)

// ErrVerifierUnavailable wraps any network or protocol failure talking to
// the verifier. Callers may retry; this client never retries token issuance
// on its own.
var ErrVerifierUnavailable = errors.New("verifier unavailable")

// AccessToken is the verifier's response to a token request: the signed
// credential plus the call it authorizes.
type AccessToken struct {
	// Endpoint is the protected API URL to call.
	Endpoint string `mapstructure:"endpoint"`

	// Method is the HTTP verb to use.
	Method string `mapstructure:"method"`

	// OreAccessToken is the signed JWT to present in the request header.
	OreAccessToken string `mapstructure:"oreAccessToken"`

	// ReqParamHash is the canonical parameter hash the token binds.
	ReqParamHash string `mapstructure:"reqParamHash"`

	// AccessTokenTimeout is the token TTL in seconds; it doubles as the
	// client-side cache TTL for zero-cost tokens.
	AccessTokenTimeout int64 `mapstructure:"accessTokenTimeout"`

	// AdditionalParameters are endpoint parameters required by the provider
	// that the caller did not supply.
	AdditionalParameters map[string]interface{} `mapstructure:"additionalParameters"`

	// Extra collects any further fields the verifier includes, so newer
	// verifiers do not break older clients.
	Extra map[string]interface{} `mapstructure:",remain"`
}

// TTL returns the token's time to live as a duration.
func (t AccessToken) TTL() time.Duration {
	return time.Duration(t.AccessTokenTimeout) * time.Second
}

// Discovery is the result of resolving the verifier's chain node.
type Discovery struct {
	// OreNetworkURI is the HTTP endpoint of the chain node.
	OreNetworkURI string `json:"oreNetworkUri"`

	// ChainID identifies the chain the node serves.
	ChainID string `json:"chain_id"`
}

// Config configures the verifier client.
type Config struct {
	// BaseURL is the verifier service URL, e.g. "https://verifier.example.com".
	BaseURL string

	// Timeout bounds each HTTP request. Default 30s.
	Timeout time.Duration

	// DiscoveryRetries is the number of retry attempts for the discovery
	// endpoints. Token issuance is never retried. Default 3.
	DiscoveryRetries uint64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
	)
}

// Client talks to one verifier service.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a verifier client. A nil httpClient gets a default with
// the configured timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DiscoveryRetries == 0 {
		cfg.DiscoveryRetries = 3
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, http: httpClient}, nil
}

// BaseURL returns the configured verifier URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// tokenRequest is the wire form of a token issuance request.
type tokenRequest struct {
	InstrumentID uint64 `json:"instrumentId"`
	RightName    string `json:"rightName"`
	ReqParamHash string `json:"reqParamHash"`
}

// RequestAccessToken asks the verifier to issue a token binding the given
// instrument, right, and canonical parameter hash. Failures wrap
// ErrVerifierUnavailable and are not retried here; retry policy belongs to
// the caller.
func (c *Client) RequestAccessToken(ctx context.Context, instrument ledger.Instrument, right ledger.Right, paramHash string) (AccessToken, error) {
	payload := tokenRequest{
		InstrumentID: instrument.ID,
		RightName:    right.Name,
		ReqParamHash: paramHash,
	}

	var raw map[string]interface{}
	if err := c.postJSON(ctx, "/verify", payload, &raw); err != nil {
		return AccessToken{}, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}

	var tok AccessToken
	if err := mapstructure.WeakDecode(raw, &tok); err != nil {
		return AccessToken{}, fmt.Errorf("%w: decode token response: %v", ErrVerifierUnavailable, err)
	}
	if tok.OreAccessToken == "" {
		return AccessToken{}, fmt.Errorf("%w: token response missing oreAccessToken", ErrVerifierUnavailable)
	}
	return tok, nil
}

// usageLogRequest is the wire form of a usage-log update.
type usageLogRequest struct {
	InstrumentID   uint64 `json:"instrumentId"`
	RightName      string `json:"rightName"`
	OreAccessToken string `json:"oreAccessToken"`
	Price          string `json:"price"`
}

// UpdateUsageLog reports one call served from the client-side token cache.
// The verifier was bypassed for that call and would otherwise have no record
// of it.
func (c *Client) UpdateUsageLog(ctx context.Context, instrumentID uint64, rightName, signedToken string, price money.Amount) error {
	payload := usageLogRequest{
		InstrumentID:   instrumentID,
		RightName:      rightName,
		OreAccessToken: signedToken,
		Price:          price.String(),
	}
	if err := c.postJSON(ctx, "/update-usage", payload, nil); err != nil {
		return fmt.Errorf("%w: update usage log: %v", ErrVerifierUnavailable, err)
	}
	return nil
}

// Discover resolves the chain node behind the verifier: the discovery
// endpoint yields the node URI, the node's get_info yields the chain ID.
// Both calls are retried with exponential backoff since they only run at
// connect time.
func (c *Client) Discover(ctx context.Context) (Discovery, error) {
	var disc Discovery

	err := c.retry(ctx, func() error {
		return c.getJSON(ctx, c.config.BaseURL+"/discovery", &disc)
	})
	if err != nil {
		return Discovery{}, fmt.Errorf("%w: discovery endpoint: %v", ErrVerifierUnavailable, err)
	}
	if disc.OreNetworkURI == "" {
		return Discovery{}, fmt.Errorf("%w: discovery response missing oreNetworkUri", ErrVerifierUnavailable)
	}

	var info struct {
		ChainID string `json:"chain_id"`
	}
	err = c.retry(ctx, func() error {
		return c.getJSON(ctx, disc.OreNetworkURI+"/v1/chain/get_info", &info)
	})
	if err != nil {
		return Discovery{}, fmt.Errorf("%w: chain get_info: %v", ErrVerifierUnavailable, err)
	}
	if info.ChainID == "" {
		return Discovery{}, fmt.Errorf("%w: get_info response missing chain_id", ErrVerifierUnavailable)
	}

	disc.ChainID = info.ChainID
	return disc, nil
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.DiscoveryRetries),
		ctx,
	)
	return backoff.Retry(op, policy)
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
