package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultLoginURL = "https://login.microsoftonline.com"
)

// Client is a minimal Microsoft Graph client authenticated with the
// client-credentials flow. Delta and next links come back from Graph as
// complete URLs, so the client accepts both relative paths and absolute
// URLs.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a Graph client for an app registration in the given
// tenant. The returned client caches and refreshes its token internally.
func NewClient(ctx context.Context, tenantID, clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", defaultLoginURL, tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return &Client{
		http:    cfg.Client(ctx),
		baseURL: defaultBaseURL,
	}
}

// NewClientWith wires an explicit HTTP client and base URL. Tests use it to
// point at a local server.
func NewClientWith(httpClient *http.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// Get issues a GET against a Graph path or a full URL (delta/next links)
// and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, pathOrURL string, out any) error {
	return c.do(ctx, http.MethodGet, pathOrURL, nil, out)
}

// Post issues a POST with a JSON body. out may be nil for endpoints that
// return 202 Accepted with no content.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) do(ctx context.Context, method, pathOrURL string, body, out any) error {
	url := pathOrURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + pathOrURL
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph %s %s: %w", method, pathOrURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Status: resp.StatusCode, Body: string(msg)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError carries a non-2xx Graph response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api status %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a Graph 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
