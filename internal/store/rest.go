package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/venueops/email-worker/internal/config"
)

// RESTStore talks to a PostgREST-style account store: row filters are query
// params, writes are PATCH with a JSON body, and the service-role key rides
// in both the apikey and Authorization headers.
type RESTStore struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewRESTStore creates a store client. The base URL is the API root, e.g.
// https://project.supabase.co.
func NewRESTStore(baseURL, serviceKey string) *RESTStore {
	return &RESTStore{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{},
	}
}

func (s *RESTStore) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("store returned %d: %s", resp.StatusCode, string(text))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *RESTStore) ListIMAPAccounts(ctx context.Context) ([]IMAPAccount, error) {
	var accounts []IMAPAccount
	if err := s.do(ctx, http.MethodGet, "/rest/v1/email_accounts?active=eq.true", nil, &accounts); err != nil {
		return nil, fmt.Errorf("list email accounts: %w", err)
	}
	return accounts, nil
}

func (s *RESTStore) ListGraphAccounts(ctx context.Context) ([]GraphAccount, error) {
	var accounts []GraphAccount
	if err := s.do(ctx, http.MethodGet, "/rest/v1/outlook_accounts?active=eq.true", nil, &accounts); err != nil {
		return nil, fmt.Errorf("list outlook accounts: %w", err)
	}
	return accounts, nil
}

func (s *RESTStore) IMAPAccountByVenue(ctx context.Context, venueID string) (*IMAPAccount, error) {
	path := "/rest/v1/email_accounts?venue_id=eq." + url.QueryEscape(venueID) + "&active=eq.true&limit=1"
	var accounts []IMAPAccount
	if err := s.do(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return nil, fmt.Errorf("fetch email account: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	return &accounts[0], nil
}

func (s *RESTStore) GraphAccountByVenue(ctx context.Context, venueID string) (*GraphAccount, error) {
	path := "/rest/v1/outlook_accounts?venue_id=eq." + url.QueryEscape(venueID) + "&active=eq.true&limit=1"
	var accounts []GraphAccount
	if err := s.do(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return nil, fmt.Errorf("fetch outlook account: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	return &accounts[0], nil
}

// UpdateLastUID persists the polling cursor. The call is bounded so a slow
// store stalls one commit, not the whole detection cycle chain.
func (s *RESTStore) UpdateLastUID(ctx context.Context, accountID string, lastUID uint32) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	path := "/rest/v1/email_accounts?id=eq." + url.QueryEscape(accountID)
	patch := map[string]any{"last_uid": lastUID}
	if err := s.do(ctx, http.MethodPatch, path, patch, nil); err != nil {
		return fmt.Errorf("update last_uid: %w", err)
	}
	return nil
}

func (s *RESTStore) UpdateDeltaLink(ctx context.Context, accountID string, deltaLink string) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	path := "/rest/v1/outlook_accounts?id=eq." + url.QueryEscape(accountID)
	patch := map[string]any{"outlook_delta_link": deltaLink}
	if err := s.do(ctx, http.MethodPatch, path, patch, nil); err != nil {
		return fmt.Errorf("update delta link: %w", err)
	}
	return nil
}
