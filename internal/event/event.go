// Package event defines the normalized email event forwarded to the
// delivery sink. An Event exists only in flight between change detection
// and delivery and is never mutated after construction.
package event

import (
	"strconv"
	"time"
)

// Attachment is a decoded file attachment. Content carries the base64
// payload as received from the provider.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size,omitempty"`
	Content     string `json:"content"`
}

// Event is the provider-agnostic record handed to the sink. Field names are
// the sink payload contract; downstream consumers key on them, so renaming
// any of these is a breaking change.
type Event struct {
	AccountID string `json:"email_account_id"`
	VenueID   string `json:"venue_id"`

	// Exactly one of UID / OutlookID is set, depending on provider kind.
	UID            uint32 `json:"uid,omitempty"`
	OutlookID      string `json:"outlook_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	From    string     `json:"from"`
	To      string     `json:"to"`
	Subject string     `json:"subject"`
	Date    *time.Time `json:"date,omitempty"`

	// InternalDate is the server-assigned receipt time, the timestamp the
	// emails_since threshold is checked against.
	InternalDate *time.Time `json:"internalDate,omitempty"`

	TextPlain string         `json:"textPlain"`
	TextHTML  string         `json:"textHtml"`
	Metadata  map[string]any `json:"metadata"`

	// Raw is the full RFC 5322 source; set by the IMAP provider only.
	Raw string `json:"raw,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// MessageID returns the provider message identifier used for sink-side
// deduplication keys.
func (e *Event) MessageID() string {
	if e.OutlookID != "" {
		return e.OutlookID
	}
	if e.UID != 0 {
		return strconv.FormatUint(uint64(e.UID), 10)
	}
	return ""
}
