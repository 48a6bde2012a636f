// Package notify posts run summaries to a Discord-compatible webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Davis1233798/proxyfetch/internal/scheduler"
)

type Notifier struct {
	URL    string
	Client *http.Client
}

// New returns a Notifier; an empty url makes every Send a no-op.
func New(url string) *Notifier {
	return &Notifier{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.URL != ""
}

// Send posts msg and waits for the webhook to accept it.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.Enabled() {
		return nil
	}

	payload := map[string]string{"content": msg}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	log.Debug().Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}

// Report sends the summary of a finished run.
func (n *Notifier) Report(ctx context.Context, runID string, res scheduler.Result) error {
	return n.Send(ctx, Summary(runID, res))
}

func Summary(runID string, res scheduler.Result) string {
	icon := "✅"
	switch res.State {
	case scheduler.Stalled:
		icon = "⚠️"
	case scheduler.Interrupted:
		icon = "⏸️"
	case scheduler.Failed, scheduler.Initializing:
		icon = "❌"
	}
	return fmt.Sprintf("%s **proxyfetch %s** run `%s`\nurls: %d (resumed %d)\nsaved: %d, skipped: %d, pending: %d\nrounds: %d in %s",
		icon, res.State, runID,
		res.Unique, res.Resumed,
		res.Succeeded, res.Skipped, res.Pending,
		res.Rounds, res.Elapsed.Round(time.Second))
}
