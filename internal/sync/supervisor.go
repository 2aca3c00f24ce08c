package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/config"
)

// Supervisor owns the connect → run → drain → backoff → reconnect loop for
// one account. It has no terminal state short of context cancellation, and
// shares nothing with other supervisors.
type Supervisor struct {
	listener Listener
	backoff  *Backoff
	log      zerolog.Logger
}

func NewSupervisor(listener Listener, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		listener: listener,
		backoff:  NewBackoff(config.ReconnectBase, config.ReconnectMax),
		log:      log.With().Str("account", listener.Key()).Logger(),
	}
}

// Run loops until ctx is cancelled. Any error from Connect or Run drains
// the session and backs off; a successful connect resets the backoff.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.listener.Connect(ctx); err != nil {
			delay := s.backoff.Next()
			s.log.Error().Err(err).Int("attempt", s.backoff.Attempt()).
				Dur("reconnect_in", delay).Msg("connect failed")
			if !SleepCtx(ctx, delay) {
				return
			}
			continue
		}

		s.backoff.Reset()
		s.log.Info().Msg("connected")

		err := s.listener.Run(ctx)
		s.listener.Close()

		if ctx.Err() != nil {
			s.log.Info().Msg("listener stopped")
			return
		}

		delay := s.backoff.Next()
		s.log.Error().Err(err).Int("attempt", s.backoff.Attempt()).
			Dur("reconnect_in", delay).Msg("listener error, reconnecting")
		if !SleepCtx(ctx, delay) {
			return
		}
	}
}

// SleepCtx waits for d, returning false if ctx ended first.
func SleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
