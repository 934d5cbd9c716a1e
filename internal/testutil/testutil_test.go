package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordingDeliverer(t *testing.T) {
	d := &RecordingDeliverer{}
	if r := d.Deliver(context.Background(), "15551234567", "hi"); !r.OK() || r.Parts != 1 {
		t.Errorf("unexpected report %+v", r)
	}
	sent := d.Sent()
	if len(sent) != 1 || sent[0] != (Delivery{To: "15551234567", Text: "hi"}) {
		t.Errorf("unexpected deliveries %+v", sent)
	}
	sent[0].Text = "changed"
	if d.Sent()[0].Text != "hi" {
		t.Error("Sent should return a copy")
	}
}

func TestClock(t *testing.T) {
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)
	c.Advance(time.Hour)
	if !c.Now().Equal(start.Add(time.Hour)) {
		t.Errorf("unexpected time %v", c.Now())
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("unexpected time %v", c.Now())
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"fired":2}}`)
	body := AssertJSONResponse(t, rr, "ok")
	if body["result"] == nil {
		t.Error("result should be decoded")
	}
}
