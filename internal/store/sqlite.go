package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/venueops/email-worker/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the embedded account store for single-binary deployments
// without a remote account service.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the account database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const imapColumns = `id, venue_id, imap_host, imap_port, imap_secure, imap_username, imap_secret,
	smtp_host, smtp_port, smtp_username, smtp_secret, last_uid, emails_since, active`

func scanIMAPAccount(row interface{ Scan(...any) error }) (IMAPAccount, error) {
	var a IMAPAccount
	err := row.Scan(&a.ID, &a.VenueID, &a.Host, &a.Port, &a.Secure, &a.Username, &a.Secret,
		&a.SMTPHost, &a.SMTPPort, &a.SMTPUsername, &a.SMTPSecret, &a.LastUID, &a.EmailsSince, &a.Active)
	return a, err
}

func (s *SQLiteStore) ListIMAPAccounts(ctx context.Context) ([]IMAPAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+imapColumns+` FROM email_accounts WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list email accounts: %w", err)
	}
	defer rows.Close()

	var accounts []IMAPAccount
	for rows.Next() {
		a, err := scanIMAPAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) IMAPAccountByVenue(ctx context.Context, venueID string) (*IMAPAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imapColumns+` FROM email_accounts WHERE venue_id = ? AND active = 1 LIMIT 1`, venueID)
	a, err := scanIMAPAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch email account: %w", err)
	}
	return &a, nil
}

const graphColumns = `id, venue_id, outlook_tenant_id, outlook_user_email, outlook_delta_link, emails_since, active`

func scanGraphAccount(row interface{ Scan(...any) error }) (GraphAccount, error) {
	var a GraphAccount
	err := row.Scan(&a.ID, &a.VenueID, &a.TenantID, &a.UserEmail, &a.DeltaLink, &a.EmailsSince, &a.Active)
	return a, err
}

func (s *SQLiteStore) ListGraphAccounts(ctx context.Context) ([]GraphAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+graphColumns+` FROM outlook_accounts WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list outlook accounts: %w", err)
	}
	defer rows.Close()

	var accounts []GraphAccount
	for rows.Next() {
		a, err := scanGraphAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outlook account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) GraphAccountByVenue(ctx context.Context, venueID string) (*GraphAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+graphColumns+` FROM outlook_accounts WHERE venue_id = ? AND active = 1 LIMIT 1`, venueID)
	a, err := scanGraphAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch outlook account: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) UpdateLastUID(ctx context.Context, accountID string, lastUID uint32) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE email_accounts SET last_uid = ? WHERE id = ?`, lastUID, accountID)
	if err != nil {
		return fmt.Errorf("update last_uid: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDeltaLink(ctx context.Context, accountID string, deltaLink string) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE outlook_accounts SET outlook_delta_link = ? WHERE id = ?`, deltaLink, accountID)
	if err != nil {
		return fmt.Errorf("update delta link: %w", err)
	}
	return nil
}

// UpsertIMAPAccount and UpsertGraphAccount exist for the embedded
// deployment's provisioning path and for tests.
func (s *SQLiteStore) UpsertIMAPAccount(ctx context.Context, a IMAPAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_accounts (`+imapColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			venue_id = excluded.venue_id,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_secure = excluded.imap_secure,
			imap_username = excluded.imap_username,
			imap_secret = excluded.imap_secret,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			smtp_username = excluded.smtp_username,
			smtp_secret = excluded.smtp_secret,
			emails_since = excluded.emails_since,
			active = excluded.active
	`, a.ID, a.VenueID, a.Host, a.Port, a.Secure, a.Username, a.Secret,
		a.SMTPHost, a.SMTPPort, a.SMTPUsername, a.SMTPSecret, a.LastUID, a.EmailsSince, a.Active)
	if err != nil {
		return fmt.Errorf("upsert email account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertGraphAccount(ctx context.Context, a GraphAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outlook_accounts (`+graphColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			venue_id = excluded.venue_id,
			outlook_tenant_id = excluded.outlook_tenant_id,
			outlook_user_email = excluded.outlook_user_email,
			emails_since = excluded.emails_since,
			active = excluded.active
	`, a.ID, a.VenueID, a.TenantID, a.UserEmail, a.DeltaLink, a.EmailsSince, a.Active)
	if err != nil {
		return fmt.Errorf("upsert outlook account: %w", err)
	}
	return nil
}
