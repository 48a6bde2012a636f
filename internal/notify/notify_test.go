package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Davis1233798/proxyfetch/internal/scheduler"
)

func TestReport(t *testing.T) {
	bodies := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		bodies <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := scheduler.Result{
		State:     scheduler.Stalled,
		Unique:    120,
		Resumed:   20,
		Succeeded: 90,
		Skipped:   7,
		Pending:   3,
		Rounds:    55,
		Elapsed:   90 * time.Second,
	}
	if err := New(srv.URL).Report(context.Background(), "run-1", res); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	content := (<-bodies)["content"]
	for _, want := range []string{"stalled", "run-1", "saved: 90", "skipped: 7", "pending: 3", "1m30s"} {
		if !strings.Contains(content, want) {
			t.Errorf("summary %q is missing %q", content, want)
		}
	}
}

func TestSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if err := New(srv.URL).Send(context.Background(), "hello"); err == nil {
		t.Error("Send() should fail on a non-2xx response")
	}
}

func TestSendDisabled(t *testing.T) {
	n := New("")
	if n.Enabled() {
		t.Error("Enabled() = true without a URL")
	}
	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}
