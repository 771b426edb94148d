package client

import (
	"context"
	"fmt"

	"github.com/oreprotocol/oreaccess/pkg/ledger"
	"github.com/oreprotocol/oreaccess/pkg/params"
	"github.com/oreprotocol/oreaccess/pkg/verifier"
)

// acquireAccessToken obtains a signed access token for one call, reporting
// whether it was served from the cache.
//
// The price decides the path, not the cache key: nonzero-priced calls always
// reach the verifier and never read or write the cache, since a paid call
// must never be satisfied from a stale grant. Zero-priced calls are cached
// under hash(normalized params + right name) for the token's own TTL.
//
// Two concurrent zero-price misses on the same key both call the verifier
// and the last writer's token stays cached. That duplicates a verifier call
// but never produces a wrong token, so the misses are not coalesced.
func (c *Client) acquireAccessToken(ctx context.Context, instrument ledger.Instrument, right ledger.Right, p params.Params) (verifier.AccessToken, bool, error) {
	normalized := p.Normalize()

	paramHash, err := params.HashFlat(normalized)
	if err != nil {
		return verifier.AccessToken{}, false, fmt.Errorf("hash request params: %w", err)
	}

	if !right.Price.IsZero() {
		tok, err := c.verifier.RequestAccessToken(ctx, instrument, right, paramHash)
		if err != nil {
			return verifier.AccessToken{}, false, err
		}
		return tok, false, nil
	}

	key, err := c.cacheKey(normalized, right.Name)
	if err != nil {
		return verifier.AccessToken{}, false, err
	}

	if tok, ok := c.tokens.Get(key); ok {
		return tok, true, nil
	}

	tok, err := c.verifier.RequestAccessToken(ctx, instrument, right, paramHash)
	if err != nil {
		return verifier.AccessToken{}, false, err
	}
	c.tokens.Set(key, tok, tok.TTL())
	return tok, false, nil
}

// cacheKey derives the cache key from the normalized parameters with the
// right name folded in, so identical parameters under different rights never
// share a token.
func (c *Client) cacheKey(normalized map[string]interface{}, rightName string) (string, error) {
	keyed := make(map[string]interface{}, len(normalized)+1)
	for k, v := range normalized {
		keyed[k] = v
	}
	keyed["right"] = rightName

	key, err := params.HashFlat(keyed)
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}
	return key, nil
}
