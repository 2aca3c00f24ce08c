package graph

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/store"
)

var ErrFolderNotFound = errors.New("folder not found")

// Actions performs one-shot Graph operations against a mailbox.
type Actions struct {
	cli *Client
	log zerolog.Logger
}

func NewActions(cli *Client, log zerolog.Logger) *Actions {
	return &Actions{cli: cli, log: log.With().Str("component", "graph-actions").Logger()}
}

// MoveRequest describes a message relocation plus the optional flag
// changes applied before the move itself.
type MoveRequest struct {
	MessageID  string
	Folder     string
	MarkAsSeen *bool
	Flagged    *bool
}

// Move applies the requested read/flag state and relocates the message
// into the named folder. Graph assigns a fresh ID on move; it is returned
// so callers can keep referencing the message. An empty Folder applies the
// flag changes only.
func (a *Actions) Move(ctx context.Context, account *store.GraphAccount, req MoveRequest) (string, error) {
	base := fmt.Sprintf("%s/messages/%s", userPath(account), url.PathEscape(req.MessageID))

	if req.MarkAsSeen != nil {
		if err := a.cli.Patch(ctx, base, map[string]any{"isRead": *req.MarkAsSeen}, nil); err != nil {
			return "", fmt.Errorf("set read state: %w", err)
		}
		a.log.Info().Str("venue_id", account.VenueID).Bool("is_read", *req.MarkAsSeen).Msg("read state updated")
	}

	if req.Flagged != nil {
		status := "notFlagged"
		if *req.Flagged {
			status = "flagged"
		}
		body := map[string]any{"flag": map[string]string{"flagStatus": status}}
		if err := a.cli.Patch(ctx, base, body, nil); err != nil {
			return "", fmt.Errorf("set flag state: %w", err)
		}
		a.log.Info().Str("venue_id", account.VenueID).Str("flag", status).Msg("flag state updated")
	}

	if req.Folder == "" {
		return "", nil
	}

	folderID, err := a.resolveFolderID(ctx, account, req.Folder)
	if err != nil {
		return "", err
	}

	var moved struct {
		ID string `json:"id"`
	}
	if err := a.cli.Post(ctx, base+"/move", map[string]string{"destinationId": folderID}, &moved); err != nil {
		return "", fmt.Errorf("move message: %w", err)
	}

	a.log.Info().Str("venue_id", account.VenueID).Str("folder", req.Folder).Msg("message moved")
	return moved.ID, nil
}

// FileAttachment is an outgoing attachment. Content is base64.
type FileAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// SendRequest describes an outgoing message.
type SendRequest struct {
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	SaveCopy    bool
	Attachments []FileAttachment
}

// Send submits a new message through Graph's sendMail endpoint.
func (a *Actions) Send(ctx context.Context, account *store.GraphAccount, req SendRequest) error {
	body := map[string]any{
		"message":         buildMessage(req),
		"saveToSentItems": req.SaveCopy,
	}
	if err := a.cli.Post(ctx, userPath(account)+"/sendMail", body, nil); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	a.log.Info().Str("venue_id", account.VenueID).Str("subject", req.Subject).Msg("mail sent")
	return nil
}

// ReplyRequest answers an existing message. To overrides the original
// recipients when set; left empty, Graph replies to the sender.
type ReplyRequest struct {
	MessageID   string
	To          []string
	Text        string
	HTML        string
	Attachments []FileAttachment
}

// Reply posts a reply in the message's conversation. Graph keeps the
// subject from the original.
func (a *Actions) Reply(ctx context.Context, account *store.GraphAccount, req ReplyRequest) error {
	contentType := "Text"
	content := req.Text
	if req.HTML != "" {
		contentType = "HTML"
		content = req.HTML
	}
	msg := map[string]any{
		"body": map[string]string{"contentType": contentType, "content": content},
	}
	if len(req.To) > 0 {
		msg["toRecipients"] = recipientList(req.To)
	}
	if len(req.Attachments) > 0 {
		msg["attachments"] = attachmentList(req.Attachments)
	}

	path := fmt.Sprintf("%s/messages/%s/reply", userPath(account), url.PathEscape(req.MessageID))
	if err := a.cli.Post(ctx, path, map[string]any{"message": msg}, nil); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	a.log.Info().Str("venue_id", account.VenueID).Msg("reply sent")
	return nil
}

// resolveFolderID matches a display name or folder ID against top-level
// folders first, then against the children of each top-level folder.
func (a *Actions) resolveFolderID(ctx context.Context, account *store.GraphAccount, name string) (string, error) {
	var top folderPage
	if err := a.cli.Get(ctx, userPath(account)+"/mailFolders?$top=100", &top); err != nil {
		return "", fmt.Errorf("list folders: %w", err)
	}
	for _, f := range top.Value {
		if strings.EqualFold(f.DisplayName, name) || f.ID == name {
			return f.ID, nil
		}
	}

	for _, parent := range top.Value {
		var children folderPage
		path := fmt.Sprintf("%s/mailFolders/%s/childFolders?$top=100", userPath(account), url.PathEscape(parent.ID))
		if err := a.cli.Get(ctx, path, &children); err != nil {
			continue
		}
		for _, f := range children.Value {
			if strings.EqualFold(f.DisplayName, name) || f.ID == name {
				return f.ID, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrFolderNotFound, name)
}

func buildMessage(req SendRequest) map[string]any {
	contentType := "Text"
	content := req.Text
	if req.HTML != "" {
		contentType = "HTML"
		content = req.HTML
	}

	msg := map[string]any{
		"subject":      req.Subject,
		"body":         map[string]string{"contentType": contentType, "content": content},
		"toRecipients": recipientList(req.To),
	}
	if req.From != "" {
		msg["from"] = map[string]any{
			"emailAddress": map[string]string{"address": req.From},
		}
	}
	if len(req.Attachments) > 0 {
		msg["attachments"] = attachmentList(req.Attachments)
		msg["hasAttachments"] = true
	}
	return msg
}

func recipientList(addrs []string) []map[string]any {
	out := make([]map[string]any, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, map[string]any{
			"emailAddress": map[string]string{"address": strings.TrimSpace(addr)},
		})
	}
	return out
}

func attachmentList(atts []FileAttachment) []map[string]any {
	out := make([]map[string]any, 0, len(atts))
	for _, att := range atts {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		out = append(out, map[string]any{
			"@odata.type":  "#microsoft.graph.fileAttachment",
			"name":         att.Filename,
			"contentType":  contentType,
			"contentBytes": att.Content,
		})
	}
	return out
}

func userPath(account *store.GraphAccount) string {
	return "/users/" + url.PathEscape(account.UserEmail)
}
