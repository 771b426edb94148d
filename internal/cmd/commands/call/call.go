// Package call implements the call command: one metered API call through
// the full payment and token pipeline.
package call

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/oreprotocol/oreaccess/internal/cmd/base"
	"github.com/oreprotocol/oreaccess/internal/config"
	"github.com/oreprotocol/oreaccess/pkg/client"
	"github.com/oreprotocol/oreaccess/pkg/ledger/httpnode"
)

type Command struct {
	*base.Command

	flagConfig  string
	flagRight   string
	flagParams  string
	flagTimeout time.Duration
}

func (c *Command) Synopsis() string {
	return "Call a metered API by right name"
}

func (c *Command) Help() string {
	return `Usage: oreaccess call -config=<path> -right=<name> [-params=<json>]

  Selects a payment instrument for the named right, acquires an access token
  from the verifier (approving payment when the right has a nonzero price),
  and calls the API. The response body is printed to stdout.
` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("call", flag.ContinueOnError))
	f.StringVar(&c.flagConfig, "config", "", "Path to the configuration file.")
	f.StringVar(&c.flagRight, "right", "", "Name of the right to exercise.")
	f.StringVar(&c.flagParams, "params", "",
		"Request parameters as a JSON object. Keys http-url-params and "+
			"http-body-params split parameters between the query string and body.")
	f.DurationVar(&c.flagTimeout, "timeout", 60*time.Second, "Overall call timeout.")
	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagRight == "" {
		c.UI.Error("the -right flag is required")
		return 1
	}

	requestParams := map[string]interface{}{}
	if c.flagParams != "" {
		dec := json.NewDecoder(strings.NewReader(c.flagParams))
		dec.UseNumber()
		if err := dec.Decode(&requestParams); err != nil {
			c.UI.Error(fmt.Sprintf("error parsing -params: %v", err))
			return 1
		}
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}
	if err := cfg.ValidateClient(); err != nil {
		c.UI.Error(fmt.Sprintf("invalid configuration: %v", err))
		return 1
	}
	if cfg.Client.OreNodeURL == "" {
		c.UI.Error("client: ore_node_url is required for the call command")
		return 1
	}

	ledgerClient, err := httpnode.NewClient(httpnode.Config{NodeURL: cfg.Client.OreNodeURL}, nil)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building ledger client: %v", err))
		return 1
	}

	apiClient, err := client.New(client.Config{
		AccountName:         cfg.Client.AccountName,
		VerifierURL:         cfg.Client.Verifier,
		VerifierAccountName: cfg.Client.VerifierAccountName,
		VerifierAuthKey:     cfg.Client.VerifierAuthKey,
		InstrumentCategory:  cfg.Client.InstrumentCategory,
	}, ledgerClient, client.WithLogger(c.Log.Named("client")))
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building client: %v", err))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.flagTimeout)
	defer cancel()

	if err := apiClient.Connect(ctx); err != nil {
		c.UI.Error(fmt.Sprintf("error connecting: %v", err))
		return 1
	}

	resp, err := apiClient.Fetch(ctx, c.flagRight, requestParams)
	if err != nil {
		c.UI.Error(fmt.Sprintf("call failed: %v", err))
		return 1
	}

	if resp.IsJSON() {
		pretty, err := json.MarshalIndent(resp.Body, "", "  ")
		if err == nil {
			c.UI.Output(string(pretty))
			return 0
		}
	}
	c.UI.Output(string(resp.Raw))
	return 0
}
