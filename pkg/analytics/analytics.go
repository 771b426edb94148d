// Package analytics records usage events for validated requests. The sink is
// an optional capability: when no write key is configured the no-op sink is
// selected once at startup, and call sites never check for presence.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event is one usage record.
type Event struct {
	// ID is a unique event identifier.
	ID string `json:"messageId"`

	// UserID identifies the caller, typically its IP address.
	UserID string `json:"userId"`

	// Name is the event name, e.g. "request details".
	Name string `json:"event"`

	// Properties carries event metadata such as the access token hash.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives usage events. Implementations must be safe for concurrent
// use.
type Sink interface {
	// Track records one event. Failures are the caller's to log; tracking is
	// always best effort.
	Track(ctx context.Context, event Event) error
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(userID, name string, properties map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		Properties: properties,
		Timestamp:  time.Now().UTC(),
	}
}

// NoopSink discards all events. It is the default when no analytics key is
// configured.
type NoopSink struct{}

// Track implements Sink.
func (NoopSink) Track(context.Context, Event) error {
	return nil
}

var _ Sink = NoopSink{}

// HTTPSink posts events as JSON to a collector endpoint, authenticated with
// a write key.
type HTTPSink struct {
	endpoint string
	writeKey string
	client   *http.Client
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates a sink posting to the given collector endpoint.
func NewHTTPSink(endpoint, writeKey string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{endpoint: endpoint, writeKey: writeKey, client: client}
}

// Track implements Sink.
func (s *HTTPSink) Track(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode analytics event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build analytics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.writeKey, "")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post analytics event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("analytics collector returned status %d", resp.StatusCode)
	}
	return nil
}

// SinkFromKey selects the sink once at startup: an HTTPSink when a write key
// is configured, the no-op sink otherwise.
func SinkFromKey(endpoint, writeKey string, client *http.Client) Sink {
	if writeKey == "" || endpoint == "" {
		return NoopSink{}
	}
	return NewHTTPSink(endpoint, writeKey, client)
}
