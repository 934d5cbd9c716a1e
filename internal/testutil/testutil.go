// Package testutil provides shared fakes and assertions for PhysioPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/delivery"
)

// Delivery is one reply captured by RecordingDeliverer.
type Delivery struct {
	To   string
	Text string
}

// RecordingDeliverer records every Deliver call and reports it as a single
// sent part.
type RecordingDeliverer struct {
	mu   sync.Mutex
	sent []Delivery
}

func (d *RecordingDeliverer) Deliver(ctx context.Context, to string, raw string) delivery.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, Delivery{To: to, Text: raw})
	return delivery.Report{Parts: 1}
}

// Sent returns a copy of the recorded deliveries.
func (d *RecordingDeliverer) Sent() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Delivery(nil), d.sent...)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock stopped at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AssertHTTPStatus checks the HTTP status code.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON body and validates its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, ok := response["status"].(string); !ok {
		t.Error("response missing or invalid 'status' field")
	} else if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}
