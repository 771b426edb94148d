// Package httpnode implements ledger.Client against a chain node's HTTP
// API. It is the production adapter; tests elsewhere substitute in-memory
// fakes.
package httpnode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/oreprotocol/oreaccess/pkg/ledger"
	"github.com/oreprotocol/oreaccess/pkg/money"
)

// Config configures the chain node client.
type Config struct {
	// NodeURL is the chain node HTTP endpoint, e.g. from verifier discovery.
	NodeURL string

	// Timeout bounds each request. Default 30s.
	Timeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.NodeURL, validation.Required, is.URL),
	)
}

// Client talks to one chain node.
type Client struct {
	config Config
	http   *http.Client
}

var _ ledger.Client = (*Client)(nil)

// NewClient creates a node-backed ledger client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, http: httpClient}, nil
}

// FindInstruments implements ledger.Client.
func (c *Client) FindInstruments(ctx context.Context, account string, activeOnly bool, category, rightName string) ([]ledger.Instrument, error) {
	payload := map[string]interface{}{
		"account":     account,
		"active_only": activeOnly,
		"category":    category,
		"right":       rightName,
	}
	var out struct {
		Instruments []ledger.Instrument `json:"instruments"`
	}
	if err := c.post(ctx, "/v1/chain/find_instruments", payload, &out); err != nil {
		return nil, fmt.Errorf("find instruments: %w", err)
	}
	return out.Instruments, nil
}

// ApprovePayment implements ledger.Client.
func (c *Client) ApprovePayment(ctx context.Context, from, to string, amount money.Amount, memo, permission string) error {
	payload := map[string]interface{}{
		"from":       from,
		"to":         to,
		"quantity":   amount.String(),
		"memo":       memo,
		"permission": permission,
	}
	if err := c.post(ctx, "/v1/chain/approve_payment", payload, nil); err != nil {
		return fmt.Errorf("approve payment: %w", err)
	}
	return nil
}

// HasPublicKey implements ledger.Client.
func (c *Client) HasPublicKey(ctx context.Context, account, publicKey string) (bool, error) {
	payload := map[string]interface{}{
		"account":    account,
		"public_key": publicKey,
	}
	var out struct {
		Registered bool `json:"registered"`
	}
	if err := c.post(ctx, "/v1/chain/has_public_key", payload, &out); err != nil {
		return false, fmt.Errorf("check public key: %w", err)
	}
	return out.Registered, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.NodeURL+path, bytes.NewReader(body))
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
		return fmt.Errorf("node returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
