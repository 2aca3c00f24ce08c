package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/event"
)

// Webhook posts events as JSON to a fixed endpoint. The endpoint's own
// retry behavior is a black box; any transport error or non-2xx response is
// a delivery failure.
type Webhook struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhook creates a webhook forwarder. An empty URL is allowed: the
// forwarder stays constructed but every Forward fails, which keeps the
// engine running without committing cursors past undelivered mail.
func NewWebhook(url string, log zerolog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{},
		log:    log.With().Str("component", "webhook-sink").Logger(),
	}
}

func (w *Webhook) Forward(ctx context.Context, ev *event.Event) bool {
	if w.url == "" {
		w.log.Error().Msg("missing sink webhook URL, skipping send")
		return false
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to encode event")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		w.log.Error().Err(err).Msg("failed to build request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Error().Err(err).Msg("webhook unreachable")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		w.log.Error().Int("status", resp.StatusCode).Bytes("body", body).Msg("webhook failed")
		return false
	}

	w.log.Debug().Int("status", resp.StatusCode).Str("message_id", ev.MessageID()).Msg("webhook success")
	return true
}
