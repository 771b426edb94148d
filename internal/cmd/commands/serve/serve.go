// Package serve implements the serve command: a protected API server that
// accepts only requests carrying a valid verifier-signed access token.
package serve

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"

	"github.com/oreprotocol/oreaccess/internal/cmd/base"
	"github.com/oreprotocol/oreaccess/internal/config"
	"github.com/oreprotocol/oreaccess/pkg/analytics"
	"github.com/oreprotocol/oreaccess/pkg/server"
)

type Command struct {
	*base.Command

	flagConfig string
	flagAddr   string
}

func (c *Command) Synopsis() string {
	return "Run a token-protected API server"
}

func (c *Command) Help() string {
	return `Usage: oreaccess serve -config=<path>

  Serves an example API behind access-token validation. Every request must
  carry a verifier-signed token whose parameter hash matches the request.
` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("serve", flag.ContinueOnError))
	f.StringVar(&c.flagConfig, "config", "", "Path to the configuration file.")
	f.StringVar(&c.flagAddr, "addr", "", "Listen address, overrides the config file.")
	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}
	if err := cfg.ValidateServer(); err != nil {
		c.UI.Error(fmt.Sprintf("invalid configuration: %v", err))
		return 1
	}
	addr := cfg.Server.Addr
	if c.flagAddr != "" {
		addr = c.flagAddr
	}

	var sink analytics.Sink = analytics.NoopSink{}
	if cfg.Analytics != nil {
		sink = analytics.SinkFromKey(cfg.Analytics.Endpoint, cfg.Analytics.WriteKey, nil)
	}

	validator, err := server.NewValidator(cfg.Server.VerifierPublicKey,
		server.WithLogger(c.Log.Named("validator")),
		server.WithAnalytics(sink),
	)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building token validator: %v", err))
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/", validator.Middleware(http.HandlerFunc(echoHandler)))

	c.Log.Info("protected server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		c.UI.Error(fmt.Sprintf("server error: %v", err))
		return 1
	}
	return 0
}

// echoHandler reports the validated claims back to the caller. Stand-in for
// a real metered API.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := server.ClaimsFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"endpoint": r.URL.Path,
		"method":   r.Method,
		"claims":   claims,
	})
}
