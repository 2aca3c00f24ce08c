package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/config"
	"github.com/venueops/email-worker/internal/event"
	"github.com/venueops/email-worker/internal/sink"
	"github.com/venueops/email-worker/internal/store"
	"github.com/venueops/email-worker/internal/sync"
)

// Listener tracks one Outlook mailbox through the Graph delta feed. Each
// poll walks the delta pages, persists the new delta link, and forwards
// every unseen message to the sink.
type Listener struct {
	account *store.GraphAccount
	cli     *Client
	st      store.Store
	fwd     sink.Forwarder
	dedup   sync.Dedup
	log     zerolog.Logger

	deltaLink string
	since     *time.Time
}

func NewListener(account *store.GraphAccount, cli *Client, st store.Store, fwd sink.Forwarder, dedup sync.Dedup, log zerolog.Logger) *Listener {
	return &Listener{
		account: account,
		cli:     cli,
		st:      st,
		fwd:     fwd,
		dedup:   dedup,
		log: log.With().
			Str("component", "graph-listener").
			Str("venue_id", account.VenueID).
			Str("mailbox", account.UserEmail).
			Logger(),
	}
}

func (l *Listener) Key() string {
	return "graph:" + l.account.VenueID + ":" + l.account.UserEmail
}

// Connect re-reads the account row so a restart picks up credential and
// cursor changes, then probes the mailbox to surface auth failures before
// the poll loop starts.
func (l *Listener) Connect(ctx context.Context) error {
	fresh, err := l.st.GraphAccountByVenue(ctx, l.account.VenueID)
	if err == nil {
		l.account = fresh
	}
	l.deltaLink = l.account.DeltaLink
	l.since = l.account.Since()

	var probe struct {
		ID string `json:"id"`
	}
	if err := l.cli.Get(ctx, l.inboxPath(), &probe); err != nil {
		return fmt.Errorf("probe mailbox: %w", err)
	}
	l.log.Info().Bool("has_delta_link", l.deltaLink != "").Msg("connected")
	return nil
}

func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.pollOnce(ctx); err != nil {
			return err
		}
		if !sync.SleepCtx(ctx, config.PollInterval) {
			return ctx.Err()
		}
	}
}

func (l *Listener) Close() {}

// pollOnce drains the delta feed. The refreshed delta link is persisted as
// soon as the last page arrives, before message processing, which matches
// the feed's at-least-once contract: a message that fails to forward is not
// redelivered by the next delta round.
func (l *Listener) pollOnce(ctx context.Context) error {
	next := l.deltaLink
	if next == "" {
		next = l.initialDeltaPath()
	}

	var msgs []Message
	for {
		var page deltaPage
		if err := l.cli.Get(ctx, next, &page); err != nil {
			return fmt.Errorf("delta page: %w", err)
		}
		msgs = append(msgs, page.Value...)
		if page.NextLink != "" {
			next = page.NextLink
			continue
		}
		if page.DeltaLink != "" {
			l.deltaLink = page.DeltaLink
			if err := l.st.UpdateDeltaLink(ctx, l.account.ID, page.DeltaLink); err != nil {
				l.log.Error().Err(err).Msg("persist delta link failed")
			}
		}
		break
	}

	if len(msgs) == 0 {
		return nil
	}
	l.log.Debug().Int("count", len(msgs)).Msg("delta items")
	return l.process(ctx, msgs)
}

func (l *Listener) process(ctx context.Context, msgs []Message) error {
	for _, msg := range msgs {
		if msg.Removed != nil || msg.IsDraft || msg.ID == "" {
			continue
		}
		if l.dedup.Seen(l.account.ID, msg.ID) {
			continue
		}
		if l.since != nil && msg.ReceivedAt.Before(*l.since) {
			continue
		}

		ev := l.normalize(&msg)
		if msg.HasAttachments {
			ev.Attachments = l.fetchAttachments(ctx, msg.ID)
		}

		if !l.fwd.Forward(ctx, ev) {
			// Halt this cycle and let the next scheduled poll continue.
			// Only transport errors bubble up and trigger a reconnect.
			l.log.Error().Str("id", msg.ID).Msg("forward failed, ending cycle")
			return nil
		}
		l.dedup.Record(l.account.ID, msg.ID)
		l.log.Info().Str("id", msg.ID).Str("subject", msg.Subject).Msg("message forwarded")
	}
	return nil
}

func (l *Listener) normalize(msg *Message) *event.Event {
	ev := &event.Event{
		AccountID:      l.account.ID,
		VenueID:        l.account.VenueID,
		OutlookID:      msg.ID,
		ConversationID: msg.ConversationID,
		Subject:        msg.Subject,
		Metadata: map[string]any{
			"internetMessageId": msg.InternetMessageID,
			"conversationId":    msg.ConversationID,
			"importance":        msg.Importance,
			"categories":        msg.Categories,
			"isRead":            msg.IsRead,
			"hasAttachments":    msg.HasAttachments,
		},
	}
	if !msg.ReceivedAt.IsZero() {
		received := msg.ReceivedAt
		ev.Date = &received
		ev.InternalDate = &received
	}
	if msg.From != nil {
		ev.From = msg.From.EmailAddress.Format()
	}
	addrs := make([]string, 0, len(msg.ToRecipients))
	for _, r := range msg.ToRecipients {
		addrs = append(addrs, r.EmailAddress.Format())
	}
	ev.To = strings.Join(addrs, ", ")
	if msg.Body != nil {
		switch strings.ToLower(msg.Body.ContentType) {
		case "html":
			ev.TextHTML = msg.Body.Content
			ev.TextPlain = msg.BodyPreview
		default:
			ev.TextPlain = msg.Body.Content
		}
	} else {
		ev.TextPlain = msg.BodyPreview
	}
	return ev
}

// fetchAttachments is best effort: a failed lookup logs and returns nil so
// the message itself still goes out.
func (l *Listener) fetchAttachments(ctx context.Context, messageID string) []event.Attachment {
	var page attachmentPage
	path := fmt.Sprintf("%s/messages/%s/attachments", l.userPath(), url.PathEscape(messageID))
	if err := l.cli.Get(ctx, path, &page); err != nil {
		l.log.Error().Err(err).Str("id", messageID).Msg("fetch attachments failed")
		return nil
	}

	out := make([]event.Attachment, 0, len(page.Value))
	for _, att := range page.Value {
		if att.ContentBytes == "" {
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(att.ContentBytes); err != nil {
			l.log.Warn().Str("name", att.Name).Msg("skipping attachment with invalid content")
			continue
		}
		out = append(out, event.Attachment{
			Filename:    att.Name,
			ContentType: att.ContentType,
			Size:        att.Size,
			Content:     att.ContentBytes,
		})
	}
	return out
}

func (l *Listener) userPath() string {
	return "/users/" + url.PathEscape(l.account.UserEmail)
}

func (l *Listener) inboxPath() string {
	return l.userPath() + "/mailFolders/inbox"
}

func (l *Listener) initialDeltaPath() string {
	path := l.inboxPath() + "/messages/delta"
	if l.since != nil {
		filter := fmt.Sprintf("receivedDateTime ge %s", l.since.UTC().Format(time.RFC3339))
		path += "?$filter=" + url.QueryEscape(filter)
	}
	return path
}
