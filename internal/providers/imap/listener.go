package imap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/config"
	"github.com/venueops/email-worker/internal/sink"
	"github.com/venueops/email-worker/internal/store"
)

// Listener is the long-running sync task for one IMAP account. It owns a
// single mailbox session; at most one detection cycle runs at a time, and
// between cycles the session sits in IDLE racing a fixed poll timer.
type Listener struct {
	account store.IMAPAccount
	store   store.Store
	sink    sink.Forwarder
	log     zerolog.Logger

	cli    *imapclient.Client
	mb     mailbox
	notify chan struct{}

	// lastUID is the in-memory cursor: the highest UID whose event was
	// successfully forwarded. It leads the persisted value within a run.
	lastUID uint32
	since   *time.Time
}

func NewListener(account store.IMAPAccount, st store.Store, fw sink.Forwarder, log zerolog.Logger) *Listener {
	return &Listener{
		account: account,
		store:   st,
		sink:    fw,
		log:     log.With().Str("component", "imap").Str("account", account.Username).Logger(),
	}
}

func (l *Listener) Key() string {
	return "imap:" + l.account.VenueID + ":" + l.account.Username
}

// Connect dials, authenticates, and selects INBOX. The store is re-read
// first so a reconnect resumes from the persisted cursor, not from whatever
// this process had in memory before the error.
func (l *Listener) Connect(ctx context.Context) error {
	if fresh, err := l.store.IMAPAccountByVenue(ctx, l.account.VenueID); err == nil {
		l.account = *fresh
	} else if !errors.Is(err, store.ErrNotFound) {
		l.log.Warn().Err(err).Msg("could not refresh account from store, using in-memory copy")
	}
	l.lastUID = l.account.LastUID
	l.since = l.account.Since()

	l.notify = make(chan struct{}, 1)
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case l.notify <- struct{}{}:
					default:
					}
				}
			},
		},
	}

	l.log.Info().Str("host", l.account.Host).Int("port", l.account.Port).Msg("connecting")
	cli, err := dial(&l.account, options)
	if err != nil {
		return err
	}

	if _, err := cli.Select("INBOX", nil).Wait(); err != nil {
		cli.Close()
		return fmt.Errorf("select INBOX: %w", err)
	}

	l.cli = cli
	l.mb = &liveMailbox{cli: cli, box: "INBOX"}
	return nil
}

// Run processes unseen mail once, then loops the idle/poll race until a
// transport error or cancellation.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.detectCycle(ctx); err != nil {
		return err
	}

	l.log.Info().Dur("poll_interval", config.PollInterval).Msg("entering idle loop")
	for {
		reason, err := l.waitForWake(ctx)
		if err != nil {
			return err
		}
		l.log.Debug().Str("reason", reason).Msg("woke up, checking for new mail")

		if err := l.detectCycle(ctx); err != nil {
			return err
		}
	}
}

// waitForWake races the server's IDLE notification against the poll timer.
// Whichever fires first wins; the timer is stopped and the IDLE session is
// shut down either way, so exactly one detection cycle follows per wake.
func (l *Listener) waitForWake(ctx context.Context) (string, error) {
	idleCmd, err := l.cli.Idle()
	if err != nil {
		return "", fmt.Errorf("start idle: %w", err)
	}

	timer := time.NewTimer(config.PollInterval)
	defer timer.Stop()

	var reason string
	select {
	case <-ctx.Done():
		idleCmd.Close()
		idleCmd.Wait()
		return "", ctx.Err()
	case <-l.notify:
		reason = "idle"
	case <-timer.C:
		reason = "poll"
	}

	if err := idleCmd.Close(); err != nil {
		return "", fmt.Errorf("stop idle: %w", err)
	}
	if err := idleCmd.Wait(); err != nil {
		return "", fmt.Errorf("idle: %w", err)
	}
	return reason, nil
}

// Close attempts a clean logout; errors are swallowed, the supervisor is
// already on its error path when this runs.
func (l *Listener) Close() {
	if l.cli == nil {
		return
	}
	if err := l.cli.Logout().Wait(); err != nil {
		l.cli.Close()
	}
	l.cli = nil
	l.mb = nil
}
