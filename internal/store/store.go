// Package store is the account and cursor store. The engine treats it as
// the source of truth for resume positions on (re)start; during a run the
// in-memory cursor leads and persistence is best-effort unless noted.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/venueops/email-worker/internal/config"
)

// ErrNotFound is returned by the by-venue lookups when no active account
// matches.
var ErrNotFound = errors.New("no active account found for venue")

// IMAPAccount is a polling-by-UID mailbox account. LastUID is the cursor:
// the highest UID whose event was successfully forwarded.
type IMAPAccount struct {
	ID      string `json:"id"`
	VenueID string `json:"venue_id"`

	Host     string `json:"imap_host"`
	Port     int    `json:"imap_port"`
	Secure   bool   `json:"imap_secure"`
	Username string `json:"imap_username"`
	Secret   string `json:"imap_secret"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPSecret   string `json:"smtp_secret"`

	LastUID     uint32 `json:"last_uid"`
	EmailsSince string `json:"emails_since"`
	Active      bool   `json:"active"`
}

// Since returns the parsed emails_since threshold, or nil when none is set.
func (a *IMAPAccount) Since() *time.Time {
	return config.ParseSince(a.EmailsSince)
}

// HasCredentials reports whether the account can be connected at all.
// Accounts without credentials are skipped permanently at startup.
func (a *IMAPAccount) HasCredentials() bool {
	return a.Username != "" && a.Secret != ""
}

// GraphAccount is a Microsoft Graph delta-feed account. DeltaLink is the
// opaque continuation token issued by the feed.
type GraphAccount struct {
	ID      string `json:"id"`
	VenueID string `json:"venue_id"`

	TenantID  string `json:"outlook_tenant_id"`
	UserEmail string `json:"outlook_user_email"`

	DeltaLink   string `json:"outlook_delta_link"`
	EmailsSince string `json:"emails_since"`
	Active      bool   `json:"active"`
}

func (a *GraphAccount) Since() *time.Time {
	return config.ParseSince(a.EmailsSince)
}

func (a *GraphAccount) HasCredentials() bool {
	return a.TenantID != "" && a.UserEmail != ""
}

// Store is the cursor/account store interface. Implementations must never
// regress a cursor on behalf of the engine; the engine only ever writes
// values greater than or equal to what it last observed.
type Store interface {
	ListIMAPAccounts(ctx context.Context) ([]IMAPAccount, error)
	ListGraphAccounts(ctx context.Context) ([]GraphAccount, error)

	// By-venue lookups return ErrNotFound when no active account exists.
	IMAPAccountByVenue(ctx context.Context, venueID string) (*IMAPAccount, error)
	GraphAccountByVenue(ctx context.Context, venueID string) (*GraphAccount, error)

	UpdateLastUID(ctx context.Context, accountID string, lastUID uint32) error
	UpdateDeltaLink(ctx context.Context, accountID string, deltaLink string) error
}
