// Package params implements deterministic canonicalization and hashing of
// request parameters.
//
// Both the client (requesting an access token) and the protected server
// (validating one) hash the parameters of a call independently; a token is
// only honored when the two digests are byte-identical. Everything in this
// package therefore has to be stable across processes: keys are sorted, each
// value is replaced by the SHA-256 hex digest of its string form, and the
// resulting mapping is serialized as compact JSON (sorted keys, no
// whitespace) before being hashed as a whole.
package params

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Reserved keys marking a request payload that splits its parameters into an
// explicit URL group and body group.
const (
	KeyURLParams  = "http-url-params"
	KeyBodyParams = "http-body-params"
)

// Prefixes applied to keys when both groups are present, so that a parameter
// sent in the query string can never collide with one of the same name sent
// in the body.
const (
	URLParamPrefix  = "urlParam_"
	BodyParamPrefix = "bodyParam_"
)

// ErrParamEncoding is returned when a parameter value is not a scalar
// (string, number, or bool) and therefore has no canonical string form.
var ErrParamEncoding = errors.New("parameter value is not a scalar")

// Params is a request parameter set: either a single flat mapping, or a
// two-group mapping with separate URL and body parameters. The variant is
// fixed at construction; callers resolve the wire-level reserved-key
// convention once via FromMap instead of re-checking magic keys at every use.
type Params struct {
	flat  map[string]interface{}
	url   map[string]interface{}
	body  map[string]interface{}
	split bool
}

// Flat creates a single-group parameter set. A nil mapping is treated as
// empty.
func Flat(m map[string]interface{}) Params {
	return Params{flat: m}
}

// Split creates a two-group parameter set with explicit URL and body
// parameters.
func Split(url, body map[string]interface{}) Params {
	return Params{url: url, body: body, split: true}
}

// FromMap resolves the wire convention: a mapping carrying both reserved
// keys ("http-url-params" and "http-body-params") becomes a Split parameter
// set, anything else is Flat. A reserved key whose value is not itself a
// mapping is an encoding error.
func FromMap(m map[string]interface{}) (Params, error) {
	urlRaw, hasURL := m[KeyURLParams]
	bodyRaw, hasBody := m[KeyBodyParams]
	if !hasURL || !hasBody {
		return Flat(m), nil
	}

	urlGroup, ok := urlRaw.(map[string]interface{})
	if !ok {
		return Params{}, fmt.Errorf("%s: %w", KeyURLParams, ErrParamEncoding)
	}
	bodyGroup, ok := bodyRaw.(map[string]interface{})
	if !ok {
		return Params{}, fmt.Errorf("%s: %w", KeyBodyParams, ErrParamEncoding)
	}
	return Split(urlGroup, bodyGroup), nil
}

// IsSplit reports whether the parameter set carries explicit URL and body
// groups.
func (p Params) IsSplit() bool {
	return p.split
}

// URLGroup returns the URL parameter group of a Split set, nil for Flat.
func (p Params) URLGroup() map[string]interface{} {
	return p.url
}

// BodyGroup returns the body parameter group of a Split set, nil for Flat.
func (p Params) BodyGroup() map[string]interface{} {
	return p.body
}

// FlatGroup returns the flat mapping of a Flat set, nil for Split.
func (p Params) FlatGroup() map[string]interface{} {
	return p.flat
}

// Normalize flattens the parameter set into one mapping. When both groups of
// a Split set are non-empty, every key is rewritten with the urlParam_ /
// bodyParam_ prefix; when only one group carries values it passes through
// unprefixed, so that a request whose body happens to be empty hashes the
// same as the equivalent flat request. The returned mapping is always a
// fresh copy.
func (p Params) Normalize() map[string]interface{} {
	out := map[string]interface{}{}
	switch {
	case p.split && len(p.url) > 0 && len(p.body) > 0:
		for k, v := range p.url {
			out[URLParamPrefix+k] = v
		}
		for k, v := range p.body {
			out[BodyParamPrefix+k] = v
		}
	case p.split && len(p.url) > 0:
		for k, v := range p.url {
			out[k] = v
		}
	case p.split:
		for k, v := range p.body {
			out[k] = v
		}
	default:
		for k, v := range p.flat {
			out[k] = v
		}
	}
	return out
}

// Hash canonicalizes the parameter set and returns its digest.
func (p Params) Hash() (string, error) {
	return HashFlat(p.Normalize())
}

// HashFlat computes the canonical digest of an already-flattened mapping:
// each value is replaced with the SHA-256 hex digest of its string form, the
// {key: digest} mapping is serialized as compact JSON with sorted keys, and
// the SHA-256 hex digest of that serialization is returned.
//
// The digest is insensitive to map iteration order, and any non-scalar value
// fails the whole computation with ErrParamEncoding.
func HashFlat(flat map[string]interface{}) (string, error) {
	hashed := make(map[string]string, len(flat))
	for k, v := range flat {
		s, err := StringValue(v)
		if err != nil {
			return "", fmt.Errorf("param %q: %w", k, err)
		}
		hashed[k] = sha256Hex([]byte(s))
	}

	canonical, err := canonicalJSON(hashed)
	if err != nil {
		return "", fmt.Errorf("canonicalize params: %w", err)
	}
	return sha256Hex(canonical), nil
}

// StringValue returns the canonical string form of a scalar parameter
// value. The dispatcher encodes query parameters with the same function the
// hasher uses, so the server's recomputed digest sees identical strings.
func StringValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", ErrParamEncoding
	}
}

// canonicalJSON serializes a string mapping with sorted keys and no
// extraneous whitespace.
func canonicalJSON(m map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// encoding/json sorts map keys too, but the serialization is built by
	// hand so the canonical form never silently changes with the library.
	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kj, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vj, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kj...)
		buf = append(buf, ':')
		buf = append(buf, vj...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
