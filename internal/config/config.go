// Package config loads the process configuration from HCL, with environment
// variables overriding the secrets that should not live in a file.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Environment variables overriding config-file values. Secrets are expected
// to arrive this way in production.
const (
	EnvVerifierAuthKey   = "ORE_VERIFIER_AUTH_KEY"
	EnvVerifierPublicKey = "ORE_VERIFIER_PUBLIC_KEY"
	EnvAnalyticsWriteKey = "ORE_ANALYTICS_WRITE_KEY"
)

// Config is the root configuration.
type Config struct {
	// Client configures the pay-per-call consumer.
	Client *ClientConfig `hcl:"client,block"`

	// Server configures the protected-API provider.
	Server *ServerConfig `hcl:"server,block"`

	// Analytics configures the optional usage event sink.
	Analytics *AnalyticsConfig `hcl:"analytics,block"`
}

// ClientConfig mirrors client.Config in file form.
type ClientConfig struct {
	AccountName         string `hcl:"account_name"`
	Verifier            string `hcl:"verifier"`
	VerifierAccountName string `hcl:"verifier_account_name"`

	// VerifierAuthKey is base64-encoded; usually supplied via
	// ORE_VERIFIER_AUTH_KEY instead of the file.
	VerifierAuthKey string `hcl:"verifier_auth_key,optional"`

	InstrumentCategory string `hcl:"instrument_category,optional"`

	// OreNodeURL is the chain node address for the ledger client.
	OreNodeURL string `hcl:"ore_node_url,optional"`
}

// ServerConfig configures the demo protected server.
type ServerConfig struct {
	// Addr is the listen address, default ":8080".
	Addr string `hcl:"addr,optional"`

	// VerifierPublicKey is the PEM public key (escaped newlines accepted);
	// usually supplied via ORE_VERIFIER_PUBLIC_KEY.
	VerifierPublicKey string `hcl:"verifier_public_key,optional"`
}

// AnalyticsConfig configures the usage event sink; without a write key the
// sink is a no-op.
type AnalyticsConfig struct {
	Endpoint string `hcl:"endpoint,optional"`
	WriteKey string `hcl:"write_key,optional"`
}

// NewConfig loads configuration from an HCL file and applies environment
// overrides.
func NewConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration file path is required")
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	var cfg Config
	if err := hclsimple.DecodeFile(filename, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvVerifierAuthKey); v != "" {
		if c.Client == nil {
			c.Client = &ClientConfig{}
		}
		c.Client.VerifierAuthKey = v
	}
	if v := os.Getenv(EnvVerifierPublicKey); v != "" {
		if c.Server == nil {
			c.Server = &ServerConfig{}
		}
		c.Server.VerifierPublicKey = v
	}
	if v := os.Getenv(EnvAnalyticsWriteKey); v != "" {
		if c.Analytics == nil {
			c.Analytics = &AnalyticsConfig{}
		}
		c.Analytics.WriteKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server != nil && c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// ValidateClient checks the fields the client command needs. All problems
// are reported together.
func (c *Config) ValidateClient() error {
	var result *multierror.Error
	if c.Client == nil {
		return fmt.Errorf("config: client block is required")
	}
	if c.Client.AccountName == "" {
		result = multierror.Append(result, fmt.Errorf("client: account_name is required"))
	}
	if c.Client.Verifier == "" {
		result = multierror.Append(result, fmt.Errorf("client: verifier is required"))
	}
	if c.Client.VerifierAccountName == "" {
		result = multierror.Append(result, fmt.Errorf("client: verifier_account_name is required"))
	}
	if c.Client.VerifierAuthKey == "" {
		result = multierror.Append(result, fmt.Errorf(
			"client: verifier_auth_key is required (file or %s)", EnvVerifierAuthKey))
	}
	return result.ErrorOrNil()
}

// ValidateServer checks the fields the serve command needs.
func (c *Config) ValidateServer() error {
	var result *multierror.Error
	if c.Server == nil {
		return fmt.Errorf("config: server block is required")
	}
	if c.Server.VerifierPublicKey == "" {
		result = multierror.Append(result, fmt.Errorf(
			"server: verifier_public_key is required (file or %s)", EnvVerifierPublicKey))
	}
	return result.ErrorOrNil()
}
