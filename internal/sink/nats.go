package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/event"
)

const streamName = "EMAIL_EVENTS"

// NATS forwards events to a JetStream stream instead of a webhook. The
// stream's duplicate window plus a per-message Nats-Msg-Id give broker-side
// suppression of redelivered events on top of the engine's own dedup.
type NATS struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log zerolog.Logger
}

// NewNATS connects and ensures the stream exists.
func NewNATS(url string, log zerolog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	s := &NATS{nc: nc, js: js, log: log.With().Str("component", "nats-sink").Logger()}
	if err := s.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

func (s *NATS) ensureStream() error {
	if info, err := s.js.StreamInfo(streamName); err == nil && info != nil {
		return nil
	}

	_, err := s.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"venue.*.email.received"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (s *NATS) Forward(ctx context.Context, ev *event.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode event")
		return false
	}

	subject := fmt.Sprintf("venue.%s.email.received", ev.VenueID)
	msgID := fmt.Sprintf("email.received|%s|%s", ev.AccountID, ev.MessageID())

	_, err = s.js.Publish(subject, payload, nats.MsgId(msgID), nats.Context(ctx))
	if err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("publish failed")
		return false
	}

	s.log.Debug().Str("subject", subject).Str("msg_id", msgID).Msg("published")
	return true
}

// Close closes the NATS connection.
func (s *NATS) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
