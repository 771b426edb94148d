// Package client implements the consumer side of the pay-per-call protocol:
// selecting a payment instrument, acquiring a signed access token from the
// verifier (with a process-wide cache for zero-cost calls), and dispatching
// the metered API request.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/oreprotocol/oreaccess/pkg/cache"
	"github.com/oreprotocol/oreaccess/pkg/ledger"
	"github.com/oreprotocol/oreaccess/pkg/money"
	"github.com/oreprotocol/oreaccess/pkg/params"
	"github.com/oreprotocol/oreaccess/pkg/token"
	"github.com/oreprotocol/oreaccess/pkg/verifier"
)

// VerifierApprovePermission is the chain permission under which payment
// approvals for the verifier are signed.
const VerifierApprovePermission = "authverifier"

// ErrInvalidConfig indicates missing or undecodable client credentials.
// Fatal at startup or first use; never retried.
var ErrInvalidConfig = errors.New("invalid client config")

// Config carries the client's identity and collaborator addresses.
type Config struct {
	// AccountName is the chain account paying for metered calls.
	AccountName string

	// VerifierURL is the verifier service address.
	VerifierURL string

	// VerifierAccountName is the chain account payments are approved to.
	VerifierAccountName string

	// VerifierAuthKey is the base64-encoded private key authorizing the
	// verifier to act for AccountName.
	VerifierAuthKey string

	// InstrumentCategory scopes instrument queries. Defaults to
	// ledger.DefaultInstrumentCategory.
	InstrumentCategory string
}

// Validate checks required fields. All missing fields are reported at once.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.AccountName, validation.Required),
		validation.Field(&c.VerifierURL, validation.Required, is.URL),
		validation.Field(&c.VerifierAccountName, validation.Required),
		validation.Field(&c.VerifierAuthKey, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Client is a pay-per-call API consumer. Safe for concurrent use; concurrent
// Fetch calls are independent except through the shared token cache.
type Client struct {
	config   Config
	ledger   ledger.Client
	verifier *verifier.Client
	tokens   *cache.Cache[verifier.AccessToken]
	http     *http.Client
	logger   hclog.Logger

	// authPublicKey is the PEM public half of the verifier auth key. Only
	// the public half ever leaves the process; registration checks compare
	// against it.
	authPublicKey string

	// mu guards chainID, written by Connect and read by ChainID.
	mu sync.RWMutex

	// chainID is resolved by Connect.
	chainID string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. Default is a named hclog logger.
func WithLogger(logger hclog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient sets the HTTP client used to call metered endpoints.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithTokenCache replaces the access-token cache, e.g. to inject a fake
// clock in tests.
func WithTokenCache(tokens *cache.Cache[verifier.AccessToken]) Option {
	return func(c *Client) { c.tokens = tokens }
}

// New validates the config, decodes the verifier auth key, and constructs a
// client over the given ledger collaborator.
func New(cfg Config, ledgerClient ledger.Client, opts ...Option) (*Client, error) {
	var result *multierror.Error
	if err := cfg.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if ledgerClient == nil {
		result = multierror.Append(result, fmt.Errorf("%w: ledger client is required", ErrInvalidConfig))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(cfg.VerifierAuthKey)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't decode the verifier auth key: %v", ErrInvalidConfig, err)
	}
	authKey, err := token.ParsePrivateKey(string(decoded))
	if err != nil {
		return nil, fmt.Errorf("%w: verifier auth key must decode to a PEM EC private key: %v", ErrInvalidConfig, err)
	}
	authPublicKey, err := token.MarshalPublicKey(&authKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.InstrumentCategory == "" {
		cfg.InstrumentCategory = ledger.DefaultInstrumentCategory
	}

	verifierClient, err := verifier.NewClient(verifier.Config{BaseURL: cfg.VerifierURL}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	c := &Client{
		config:        cfg,
		ledger:        ledgerClient,
		verifier:      verifierClient,
		tokens:        cache.New[verifier.AccessToken](),
		http:          &http.Client{Timeout: 30 * time.Second},
		authPublicKey: authPublicKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = hclog.New(&hclog.LoggerOptions{Name: "oreaccess-client"})
	}
	return c, nil
}

// Connect resolves the chain node behind the verifier and confirms the
// public half of the auth key is registered to the configured account.
// Optional for clients whose ledger collaborator is configured out of band,
// required before any payment approval can be signed on chain.
func (c *Client) Connect(ctx context.Context) error {
	disc, err := c.verifier.Discover(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.mu.Lock()
	c.chainID = disc.ChainID
	c.mu.Unlock()

	ok, err := c.ledger.HasPublicKey(ctx, c.config.AccountName, c.authPublicKey)
	if err != nil {
		return fmt.Errorf("connect: check verifier auth key: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: verifier auth key must be a key associated with account %q",
			ErrInvalidConfig, c.config.AccountName)
	}

	c.logger.Debug("connected to chain", "chain_id", disc.ChainID, "node", disc.OreNetworkURI)
	return nil
}

// ChainID returns the chain identifier resolved by Connect, empty before.
func (c *Client) ChainID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chainID
}

// Fetch calls the metered API behind rightName with the given request
// parameters and returns the parsed response.
//
// The full pipeline: select the cheapest eligible instrument, approve
// payment for nonzero-priced rights, acquire a signed access token (cached
// for zero-cost repeats), merge any verifier-supplied additional parameters,
// and dispatch the call with the token attached.
func (c *Client) Fetch(ctx context.Context, rightName string, requestParams map[string]interface{}) (*Response, error) {
	p, err := params.FromMap(requestParams)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", rightName, err)
	}

	instruments, err := c.ledger.FindInstruments(ctx, c.config.AccountName, true, c.config.InstrumentCategory, rightName)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: find instruments: %w", rightName, err)
	}
	instrument, right, err := ledger.SelectInstrument(instruments, rightName)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", rightName, err)
	}
	c.logger.Debug("selected instrument",
		"right", rightName,
		"instrument_id", instrument.ID,
		"price", right.Price.String(),
	)

	price := right.Price
	if !price.IsZero() {
		memo := fmt.Sprintf("approve %s transfer for %s%s", price, c.config.VerifierAccountName, uuid.NewString())
		err := c.ledger.ApprovePayment(ctx, c.config.AccountName, c.config.VerifierAccountName, price, memo, VerifierApprovePermission)
		if err != nil {
			return nil, fmt.Errorf("fetch %q: approve payment: %w", rightName, err)
		}
		c.logger.Debug("payment approved", "right", rightName, "amount", price.String())
	}

	tok, cacheHit, err := c.acquireAccessToken(ctx, instrument, right, p)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", rightName, err)
	}

	p = mergeAdditionalParameters(p, tok.AdditionalParameters)

	// The verifier never saw a call served from the cache, so its usage log
	// is updated out of band. Best effort: a failure is logged and never
	// blocks or fails the in-flight response.
	if cacheHit && price.IsZero() {
		c.logger.Debug("cached access token used, verifier not called", "right", rightName)
		go c.notifyUsageLog(instrument.ID, right.Name, tok.OreAccessToken, price)
	}

	resp, err := c.dispatch(ctx, tok.Endpoint, tok.Method, tok.OreAccessToken, p)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", rightName, err)
	}
	return resp, nil
}

// notifyUsageLog reports cache-served usage to the verifier in the
// background. The parent request context is deliberately not used: the
// notification must outlive the response.
func (c *Client) notifyUsageLog(instrumentID uint64, rightName, signedToken string, price money.Amount) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.verifier.UpdateUsageLog(ctx, instrumentID, rightName, signedToken, price); err != nil {
		c.logger.Warn("usage log update failed",
			"instrument_id", instrumentID,
			"right", rightName,
			"error", err,
		)
	}
}

// mergeAdditionalParameters folds verifier-supplied parameters into the
// request, without overriding anything the caller already set. Flat sets
// take them at top level; split sets take them in the body group.
func mergeAdditionalParameters(p params.Params, additional map[string]interface{}) params.Params {
	if len(additional) == 0 {
		return p
	}

	if !p.IsSplit() {
		merged := map[string]interface{}{}
		for k, v := range p.FlatGroup() {
			merged[k] = v
		}
		for k, v := range additional {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		return params.Flat(merged)
	}

	body := map[string]interface{}{}
	for k, v := range p.BodyGroup() {
		body[k] = v
	}
	for k, v := range additional {
		if _, exists := body[k]; exists {
			continue
		}
		if _, exists := p.URLGroup()[k]; exists {
			continue
		}
		body[k] = v
	}
	return params.Split(p.URLGroup(), body)
}
