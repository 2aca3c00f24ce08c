package imap

import (
	"strings"
	"testing"
	"time"

	"github.com/venueops/email-worker/internal/store"
)

const sampleMessage = "From: Alice Example <alice@example.com>\r\n" +
	"To: bookings@venue.example\r\n" +
	"Subject: Wedding enquiry\r\n" +
	"Date: Mon, 04 Mar 2024 10:30:00 +0000\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=b1\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi, is the 14th free?\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Hi, is the 14th free?</p>\r\n" +
	"--b1--\r\n"

func TestNormalizeParsesMultipart(t *testing.T) {
	account := &store.IMAPAccount{ID: "acct-1", VenueID: "venue-1"}
	internal := time.Date(2024, 3, 4, 10, 31, 0, 0, time.UTC)
	msg := &fetched{UID: 77, InternalDate: internal, Raw: []byte(sampleMessage)}

	ev := normalize(account, msg)

	if ev.AccountID != "acct-1" || ev.VenueID != "venue-1" || ev.UID != 77 {
		t.Errorf("identity fields wrong: %+v", ev)
	}
	if ev.From != "Alice Example <alice@example.com>" {
		t.Errorf("From = %q", ev.From)
	}
	if ev.To != "bookings@venue.example" {
		t.Errorf("To = %q", ev.To)
	}
	if ev.Subject != "Wedding enquiry" {
		t.Errorf("Subject = %q", ev.Subject)
	}
	if ev.InternalDate == nil || !ev.InternalDate.Equal(internal) {
		t.Errorf("InternalDate = %v", ev.InternalDate)
	}
	if ev.Date == nil || ev.Date.UTC().Hour() != 10 {
		t.Errorf("Date = %v", ev.Date)
	}
	if !strings.Contains(ev.TextPlain, "is the 14th free") {
		t.Errorf("TextPlain = %q", ev.TextPlain)
	}
	if !strings.Contains(ev.TextHTML, "<p>") {
		t.Errorf("TextHTML = %q", ev.TextHTML)
	}
	if got := ev.Metadata["message-id"]; got != "<abc123@example.com>" {
		t.Errorf("metadata message-id = %v", got)
	}
	if ev.Raw != sampleMessage {
		t.Error("Raw does not carry the original source")
	}
	if ev.MessageID() != "77" {
		t.Errorf("MessageID = %q", ev.MessageID())
	}
}

func TestNormalizeMalformedStillCarriesRaw(t *testing.T) {
	account := &store.IMAPAccount{ID: "acct-1", VenueID: "venue-1"}
	msg := &fetched{UID: 5, Raw: []byte("not an rfc5322 message at all")}

	ev := normalize(account, msg)

	if ev.UID != 5 {
		t.Errorf("UID = %d", ev.UID)
	}
	if ev.Raw == "" {
		t.Error("Raw lost on parse failure")
	}
}
