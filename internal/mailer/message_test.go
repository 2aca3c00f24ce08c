package mailer

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
)

func TestBuildRoundTrips(t *testing.T) {
	raw, err := Build(&Message{
		From:    "Venue Ops <ops@venue.example>",
		To:      []string{"client@example.com"},
		Subject: "Your quote",
		Text:    "Plain version.",
		HTML:    "<p>HTML version.</p>",
	})
	if err != nil {
		t.Fatal(err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}

	if subject, _ := mr.Header.Subject(); subject != "Your quote" {
		t.Errorf("subject = %q", subject)
	}
	from, err := mr.Header.AddressList("From")
	if err != nil || len(from) != 1 || from[0].Address != "ops@venue.example" {
		t.Errorf("from = %v (%v)", from, err)
	}
	if msgID, err := mr.Header.MessageID(); err != nil || msgID == "" {
		t.Errorf("message id = %q (%v)", msgID, err)
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, _ := io.ReadAll(part.Body)
		switch ct {
		case "text/plain":
			plain = string(body)
		case "text/html":
			html = string(body)
		}
	}
	if !strings.Contains(plain, "Plain version.") {
		t.Errorf("plain body = %q", plain)
	}
	if !strings.Contains(html, "<p>HTML version.</p>") {
		t.Errorf("html body = %q", html)
	}
}

func TestBuildWithAttachment(t *testing.T) {
	content := []byte("%PDF-1.4 fake")
	raw, err := Build(&Message{
		From:    "ops@venue.example",
		To:      []string{"client@example.com"},
		Subject: "Quote attached",
		Text:    "See attached.",
		Attachments: []Attachment{
			{Filename: "quote.pdf", ContentType: "application/pdf", Content: base64.StdEncoding.EncodeToString(content)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}

	var gotName string
	var gotContent []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if h, ok := part.Header.(*mail.AttachmentHeader); ok {
			gotName, _ = h.Filename()
			gotContent, _ = io.ReadAll(part.Body)
		}
	}
	if gotName != "quote.pdf" {
		t.Errorf("attachment name = %q", gotName)
	}
	if !bytes.Equal(gotContent, content) {
		t.Errorf("attachment content = %q", gotContent)
	}
}

func TestBuildReplyHeaders(t *testing.T) {
	raw, err := Build(&Message{
		From:       "ops@venue.example",
		To:         []string{"client@example.com"},
		Subject:    "Re: Your enquiry",
		Text:       "Replying.",
		InReplyTo:  "<orig-123@example.com>",
		References: "<orig-123@example.com>",
	})
	if err != nil {
		t.Fatal(err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got := mr.Header.Get("In-Reply-To"); got != "<orig-123@example.com>" {
		t.Errorf("In-Reply-To = %q", got)
	}
	if got := mr.Header.Get("References"); got != "<orig-123@example.com>" {
		t.Errorf("References = %q", got)
	}
}

func TestBuildRejectsBadAddress(t *testing.T) {
	_, err := Build(&Message{
		From: "not-an-address <<",
		To:   []string{"client@example.com"},
	})
	if err == nil {
		t.Fatal("expected address parse error")
	}

	_, err = Build(&Message{
		From: "ops@venue.example",
		To:   []string{"also bad <<"},
	})
	if err == nil {
		t.Fatal("expected recipient parse error")
	}

	_, err = Build(&Message{
		From:        "ops@venue.example",
		To:          []string{"client@example.com"},
		Attachments: []Attachment{{Filename: "x", Content: "!!! not base64"}},
	})
	if err == nil {
		t.Fatal("expected base64 error")
	}
}
