package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	netmail "net/mail"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Attachment is a file carried by an outgoing message. Content is base64,
// mirroring how the HTTP surface receives it.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message describes an outgoing or draft email before MIME encoding.
type Message struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text"`
	HTML        string       `json:"html"`
	InReplyTo   string       `json:"inReplyTo"`
	References  string       `json:"references"`
	Attachments []Attachment `json:"attachments"`
}

// Build encodes m as a MIME message. Plain and HTML bodies become sibling
// inline parts; attachments follow as separate parts.
func Build(m *Message) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetMessageID(uuid.NewString() + "@email-worker")
	if err := setAddress(&h, "From", m.From); err != nil {
		return nil, err
	}
	if err := setAddressList(&h, "To", m.To); err != nil {
		return nil, err
	}
	h.SetSubject(m.Subject)
	if m.InReplyTo != "" {
		h.Set("In-Reply-To", m.InReplyTo)
	}
	if m.References != "" {
		h.Set("References", m.References)
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	inline, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline: %w", err)
	}
	if m.Text != "" || m.HTML == "" {
		if err := writeInlinePart(inline, "text/plain; charset=utf-8", m.Text); err != nil {
			return nil, err
		}
	}
	if m.HTML != "" {
		if err := writeInlinePart(inline, "text/html; charset=utf-8", m.HTML); err != nil {
			return nil, err
		}
	}
	if err := inline.Close(); err != nil {
		return nil, err
	}

	for _, att := range m.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", att.Filename, err)
		}
		var ah mail.AttachmentHeader
		if att.ContentType != "" {
			ah.Set("Content-Type", att.ContentType)
		}
		ah.SetFilename(att.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment: %w", err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInlinePart(inline *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.Set("Content-Type", contentType)
	w, err := inline.CreatePart(th)
	if err != nil {
		return fmt.Errorf("create part %s: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

// go-message's mail.Address aliases net/mail.Address, so the stdlib parser
// feeds SetAddressList directly.
func setAddress(h *mail.Header, field, addr string) error {
	list, err := netmail.ParseAddressList(addr)
	if err != nil {
		return fmt.Errorf("parse %s address %q: %w", field, addr, err)
	}
	h.SetAddressList(field, list)
	return nil
}

func setAddressList(h *mail.Header, field string, addrs []string) error {
	list := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := netmail.ParseAddressList(a)
		if err != nil {
			return fmt.Errorf("parse %s address %q: %w", field, a, err)
		}
		list = append(list, parsed...)
	}
	h.SetAddressList(field, list)
	return nil
}
