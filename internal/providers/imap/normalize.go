package imap

import (
	"bytes"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/venueops/email-worker/internal/event"
	"github.com/venueops/email-worker/internal/store"
)

// normalize turns a fetched message into the sink event. Parsing is
// tolerant: a message that fails MIME parsing still produces an event
// carrying the raw source, so the sink never silently loses mail over a
// malformed part.
func normalize(account *store.IMAPAccount, msg *fetched) *event.Event {
	ev := &event.Event{
		AccountID: account.ID,
		VenueID:   account.VenueID,
		UID:       msg.UID,
		Metadata:  map[string]any{},
		Raw:       string(msg.Raw),
	}
	if !msg.InternalDate.IsZero() {
		internal := msg.InternalDate
		ev.InternalDate = &internal
	}

	mr, err := mail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		return ev
	}

	ev.From = addressText(&mr.Header, "From")
	ev.To = addressText(&mr.Header, "To")
	if subject, err := mr.Header.Subject(); err == nil {
		ev.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		d := date
		ev.Date = &d
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		if value, err := fields.Text(); err == nil {
			ev.Metadata[key] = value
		} else {
			ev.Metadata[key] = fields.Value()
		}
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, err := h.ContentType()
			if err != nil {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch ct {
			case "text/plain":
				if ev.TextPlain == "" {
					ev.TextPlain = string(body)
				}
			case "text/html":
				if ev.TextHTML == "" {
					ev.TextHTML = string(body)
				}
			}
		case *mail.AttachmentHeader:
			// Attachments stay inside Raw for the polling provider;
			// only the filename is surfaced as metadata.
			if filename, err := h.Filename(); err == nil && filename != "" {
				names, _ := ev.Metadata["attachment-names"].([]string)
				ev.Metadata["attachment-names"] = append(names, filename)
			}
		}
	}

	return ev
}

// addressText renders an address header the way mail clients display it,
// falling back to the raw header when the list does not parse.
func addressText(h *mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return h.Get(key)
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, a.Name+" <"+a.Address+">")
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}
