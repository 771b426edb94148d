package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oreprotocol/oreaccess/pkg/params"
	"github.com/oreprotocol/oreaccess/pkg/token"
)

// ErrEndpointCall wraps any network or protocol failure calling the metered
// endpoint itself.
var ErrEndpointCall = errors.New("instrument right endpoint error")

// Response is the outcome of a dispatched call. Body holds the decoded JSON
// value when the endpoint responded with JSON, otherwise the raw text.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       interface{}
	Raw        []byte
}

// IsJSON reports whether Body carries a decoded JSON value.
func (r *Response) IsJSON() bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// buildRequest assembles the outgoing call: split parameter sets place their
// URL group in the query string and their body group in the JSON body; flat
// sets go entirely to the query string for GET and entirely to the JSON body
// for body-bearing methods. Every request carries the access token header
// and a JSON content type.
func buildRequest(ctx context.Context, endpoint, method, signedToken string, p params.Params) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}

	var urlParams, bodyParams map[string]interface{}
	if p.IsSplit() {
		urlParams = p.URLGroup()
		bodyParams = p.BodyGroup()
	} else if strings.EqualFold(method, http.MethodGet) {
		urlParams = p.FlatGroup()
	} else {
		bodyParams = p.FlatGroup()
	}

	if len(urlParams) > 0 {
		q := u.Query()
		for k, v := range urlParams {
			s, err := params.StringValue(v)
			if err != nil {
				return nil, fmt.Errorf("query param %q: %w", k, err)
			}
			q.Set(k, s)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if len(bodyParams) > 0 {
		encoded, err := json.Marshal(bodyParams)
		if err != nil {
			return nil, fmt.Errorf("encode body params: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(token.Header, signedToken)
	return req, nil
}

// dispatch issues the call and parses the response: JSON when the endpoint
// says so, raw text otherwise. Network failures and non-2xx statuses wrap
// ErrEndpointCall.
func (c *Client) dispatch(ctx context.Context, endpoint, method, signedToken string, p params.Params) (*Response, error) {
	req, err := buildRequest(ctx, endpoint, method, signedToken, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointCall, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointCall, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEndpointCall, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEndpointCall, resp.StatusCode, string(raw))
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Raw:        raw,
	}
	if out.IsJSON() && len(raw) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("%w: decode JSON response: %v", ErrEndpointCall, err)
		}
		out.Body = decoded
	} else {
		out.Body = string(raw)
	}
	return out, nil
}
