package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/providers/graph"
	imapprovider "github.com/venueops/email-worker/internal/providers/imap"
	"github.com/venueops/email-worker/internal/store"
)

type fakeStore struct {
	store.Store
	imap  map[string]*store.IMAPAccount
	graph map[string]*store.GraphAccount
}

func (s *fakeStore) IMAPAccountByVenue(_ context.Context, venueID string) (*store.IMAPAccount, error) {
	if a, ok := s.imap[venueID]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) GraphAccountByVenue(_ context.Context, venueID string) (*store.GraphAccount, error) {
	if a, ok := s.graph[venueID]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

type fakeIMAPActions struct {
	folders    []string
	resolveUID uint32
	resolveErr error
	moved      []imapprovider.MoveRequest
	appended   [][]byte
	appendUID  uint32
}

func (f *fakeIMAPActions) ListFolders(*store.IMAPAccount) ([]string, error) {
	return f.folders, nil
}

func (f *fakeIMAPActions) ResolveUID(_ *store.IMAPAccount, folder, messageID string) (uint32, error) {
	if f.resolveErr != nil {
		return 0, f.resolveErr
	}
	return f.resolveUID, nil
}

func (f *fakeIMAPActions) Move(_ *store.IMAPAccount, req imapprovider.MoveRequest) (*imapprovider.MoveResult, error) {
	f.moved = append(f.moved, req)
	return &imapprovider.MoveResult{Destination: req.Folder, UID: 900}, nil
}

func (f *fakeIMAPActions) AppendMessage(_ *store.IMAPAccount, folder string, raw []byte, _ []goimap.Flag) (uint32, error) {
	f.appended = append(f.appended, raw)
	return f.appendUID, nil
}

type fakeGraphActions struct {
	moved   []graph.MoveRequest
	sent    []graph.SendRequest
	replies []graph.ReplyRequest
}

func (f *fakeGraphActions) Move(_ context.Context, _ *store.GraphAccount, req graph.MoveRequest) (string, error) {
	f.moved = append(f.moved, req)
	return req.MessageID + "-new", nil
}

func (f *fakeGraphActions) Send(_ context.Context, _ *store.GraphAccount, req graph.SendRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeGraphActions) Reply(_ context.Context, _ *store.GraphAccount, req graph.ReplyRequest) error {
	f.replies = append(f.replies, req)
	return nil
}

type fakeSender struct {
	sent [][]byte
	to   []string
	err  error
}

func (f *fakeSender) Send(_ *store.IMAPAccount, _ string, to []string, raw []byte) error {
	if f.err != nil {
		return f.err
	}
	f.to = to
	f.sent = append(f.sent, raw)
	return nil
}

type fixture struct {
	router *gin.Engine
	imap   *fakeIMAPActions
	graph  *fakeGraphActions
	sender *fakeSender
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)

	st := &fakeStore{
		imap: map[string]*store.IMAPAccount{
			"venue-1": {
				ID: "acct-1", VenueID: "venue-1",
				Username: "ops@example.com", Secret: "p",
				SMTPHost: "smtp.example.com", SMTPPort: 465, SMTPUsername: "ops@example.com",
			},
		},
		graph: map[string]*store.GraphAccount{
			"venue-2": {
				ID: "acct-2", VenueID: "venue-2",
				TenantID: "tenant-1", UserEmail: "ops@venue.example",
			},
		},
	}

	f := &fixture{
		imap:   &fakeIMAPActions{folders: []string{"INBOX", "Sent", "Drafts"}, resolveUID: 77, appendUID: 500},
		graph:  &fakeGraphActions{},
		sender: &fakeSender{},
	}
	graphFactory := func(context.Context, *store.GraphAccount) GraphActions { return f.graph }
	srv := NewServer(st, f.imap, graphFactory, f.sender, zerolog.Nop())

	f.router = gin.New()
	srv.Routes(f.router, nil)
	return f
}

func (f *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid response body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestListFolders(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodGet, "/imap/folders?venue_id=venue-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	folders := out["folders"].([]any)
	if len(folders) != 3 {
		t.Errorf("folders = %v", folders)
	}
}

func TestListFoldersUnknownVenue(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodGet, "/imap/folders?venue_id=ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	w = f.request(t, http.MethodGet, "/imap/folders", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status without venue_id = %d, want 400", w.Code)
	}
}

func TestResolveUID(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/imap/resolve-uid", map[string]any{
		"venue_id": "venue-1", "folder": "INBOX", "message_id": "<abc@example.com>",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if out := decode(t, w); out["uid"] != float64(77) {
		t.Errorf("uid = %v", out["uid"])
	}
}

func TestResolveUIDNotFound(t *testing.T) {
	f := newFixture()
	f.imap.resolveErr = imapprovider.ErrMessageNotFound

	w := f.request(t, http.MethodPost, "/imap/resolve-uid", map[string]any{
		"venue_id": "venue-1", "folder": "INBOX", "message_id": "<missing@example.com>",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMoveIMAP(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/imap/move", map[string]any{
		"venue_id": "venue-1", "uid": 42, "folder": "Archive", "mark_as_seen": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.imap.moved) != 1 {
		t.Fatal("move not invoked")
	}
	req := f.imap.moved[0]
	if req.UID != 42 || req.Folder != "Archive" || req.MarkAsSeen == nil || !*req.MarkAsSeen {
		t.Errorf("move request = %+v", req)
	}
}

func TestCreateDraft(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/imap/draft", map[string]any{
		"venue_id": "venue-1",
		"to":       []string{"client@example.com"},
		"subject":  "Quote follow-up",
		"text":     "Hi, following up.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["folder"] != "Drafts" || out["uid"] != float64(500) {
		t.Errorf("response = %v", out)
	}
	if len(f.imap.appended) != 1 {
		t.Fatal("draft not appended")
	}
	if !bytes.Contains(f.imap.appended[0], []byte("Subject: Quote follow-up")) {
		t.Error("built draft missing subject header")
	}
}

func TestSendSMTP(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/smtp/send", map[string]any{
		"venue_id": "venue-1",
		"to":       []string{"client@example.com"},
		"subject":  "Your booking",
		"text":     "Confirmed for the 14th.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.sender.sent) != 1 {
		t.Fatal("nothing submitted over smtp")
	}
	if len(f.sender.to) != 1 || f.sender.to[0] != "client@example.com" {
		t.Errorf("recipients = %v", f.sender.to)
	}
	// Copy lands in the sent folder too.
	if len(f.imap.appended) != 1 {
		t.Error("sent copy not appended")
	}
	if out := decode(t, w); out["folder"] != "Sent" {
		t.Errorf("response = %v", out)
	}
}

func TestSendSMTPWithoutRecipients(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/smtp/send", map[string]any{
		"venue_id": "venue-1", "subject": "no one"},
	)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMoveOutlook(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/outlook/move", map[string]any{
		"venue_id": "venue-2", "outlook_id": "m1", "folder": "Archive",
		"mark_as_seen": true, "flagged": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.graph.moved) != 1 {
		t.Fatal("move not invoked")
	}
	req := f.graph.moved[0]
	if req.MessageID != "m1" || req.Folder != "Archive" {
		t.Errorf("move request = %+v", req)
	}
	if req.MarkAsSeen == nil || !*req.MarkAsSeen || req.Flagged == nil || *req.Flagged {
		t.Errorf("flag fields = %+v", req)
	}
	if out := decode(t, w); out["id"] != "m1-new" {
		t.Errorf("response = %v", out)
	}
}

func TestMoveOutlookAcceptsUIDAlias(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/outlook/move", map[string]any{
		"venue_id": "venue-2", "uid": "m1", "folder": "Archive",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.graph.moved) != 1 || f.graph.moved[0].MessageID != "m1" {
		t.Errorf("move requests = %+v", f.graph.moved)
	}

	w = f.request(t, http.MethodPost, "/outlook/move", map[string]any{
		"venue_id": "venue-2", "folder": "Archive",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status without id = %d, want 400", w.Code)
	}
}

func TestSendOutlookDefaultsSaveCopyAndFrom(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/outlook/send", map[string]any{
		"venue_id": "venue-2", "to": []string{"client@example.com"}, "subject": "hi", "text": "hello",
		"attachments": []map[string]any{
			{"filename": "quote.pdf", "content": "cGRmLWJ5dGVz"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.graph.sent) != 1 {
		t.Fatal("send not invoked")
	}
	sent := f.graph.sent[0]
	if !sent.SaveCopy {
		t.Error("save copy should default on")
	}
	if sent.From != "ops@venue.example" {
		t.Errorf("from = %q, want the account mailbox", sent.From)
	}
	if len(sent.Attachments) != 1 || sent.Attachments[0].Filename != "quote.pdf" {
		t.Errorf("attachments = %+v", sent.Attachments)
	}
}

func TestReplyOutlook(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/outlook/reply", map[string]any{
		"venue_id": "venue-2", "outlook_id": "m1",
		"to":   []string{"other@example.com"},
		"html": "<p>Thanks, see you then.</p>",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.graph.replies) != 1 {
		t.Fatal("reply not invoked")
	}
	reply := f.graph.replies[0]
	if reply.MessageID != "m1" || len(reply.To) != 1 || reply.HTML == "" {
		t.Errorf("reply request = %+v", reply)
	}
}

func TestOutlookUnknownVenue(t *testing.T) {
	f := newFixture()

	w := f.request(t, http.MethodPost, "/outlook/reply", map[string]any{
		"venue_id": "venue-1", "outlook_id": "m1", "html": "<p>hi</p>",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture()
	w := f.request(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
