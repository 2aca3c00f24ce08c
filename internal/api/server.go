// Package api is the HTTP control surface: folder listing, message-id
// resolution, moves, drafts, and outbound mail. Every route resolves its
// account by venue and never touches the sync cursors.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/emersion/go-imap/v2"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/mailer"
	"github.com/venueops/email-worker/internal/providers/graph"
	imapprovider "github.com/venueops/email-worker/internal/providers/imap"
	"github.com/venueops/email-worker/internal/store"
)

// IMAPActions is the slice of mailbox operations the API needs. The live
// implementation dials a fresh connection per call.
type IMAPActions interface {
	ListFolders(account *store.IMAPAccount) ([]string, error)
	ResolveUID(account *store.IMAPAccount, folder, messageID string) (uint32, error)
	Move(account *store.IMAPAccount, req imapprovider.MoveRequest) (*imapprovider.MoveResult, error)
	AppendMessage(account *store.IMAPAccount, folder string, raw []byte, flags []imap.Flag) (uint32, error)
}

// GraphActions mirrors IMAPActions for Graph-backed mailboxes.
type GraphActions interface {
	Move(ctx context.Context, account *store.GraphAccount, req graph.MoveRequest) (string, error)
	Send(ctx context.Context, account *store.GraphAccount, req graph.SendRequest) error
	Reply(ctx context.Context, account *store.GraphAccount, req graph.ReplyRequest) error
}

// MailSender submits a built message over SMTP.
type MailSender interface {
	Send(account *store.IMAPAccount, from string, to []string, raw []byte) error
}

type Server struct {
	st     store.Store
	imap   IMAPActions
	graph  func(ctx context.Context, account *store.GraphAccount) GraphActions
	sender MailSender
	log    zerolog.Logger
}

func NewServer(st store.Store, imapActions IMAPActions, graphFactory func(ctx context.Context, account *store.GraphAccount) GraphActions, sender MailSender, log zerolog.Logger) *Server {
	return &Server{
		st:     st,
		imap:   imapActions,
		graph:  graphFactory,
		sender: sender,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints on r. auth may be nil, in which case the API
// is open.
func (s *Server) Routes(r *gin.Engine, auth gin.HandlerFunc) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g := r.Group("/")
	if auth != nil {
		g.Use(auth)
	}

	g.GET("/imap/folders", s.listFolders)
	g.POST("/imap/resolve-uid", s.resolveUID)
	g.POST("/imap/move", s.moveIMAP)
	g.POST("/imap/draft", s.createDraft)
	g.POST("/smtp/send", s.sendSMTP)

	g.POST("/outlook/move", s.moveOutlook)
	g.POST("/outlook/send", s.sendOutlook)
	g.POST("/outlook/reply", s.replyOutlook)
}

func (s *Server) listFolders(c *gin.Context) {
	account, ok := s.imapAccount(c, c.Query("venue_id"))
	if !ok {
		return
	}
	folders, err := s.imap.ListFolders(account)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders})
}

type resolveUIDRequest struct {
	VenueID   string `json:"venue_id" binding:"required"`
	Folder    string `json:"folder" binding:"required"`
	MessageID string `json:"message_id" binding:"required"`
}

func (s *Server) resolveUID(c *gin.Context) {
	var req resolveUIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, ok := s.imapAccount(c, req.VenueID)
	if !ok {
		return
	}
	uid, err := s.imap.ResolveUID(account, req.Folder, req.MessageID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": uid})
}

type moveIMAPRequest struct {
	VenueID      string `json:"venue_id" binding:"required"`
	UID          uint32 `json:"uid" binding:"required"`
	Folder       string `json:"folder" binding:"required"`
	SourceFolder string `json:"source_folder"`
	MarkAsSeen   *bool  `json:"mark_as_seen"`
}

func (s *Server) moveIMAP(c *gin.Context) {
	var req moveIMAPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, ok := s.imapAccount(c, req.VenueID)
	if !ok {
		return
	}
	result, err := s.imap.Move(account, imapprovider.MoveRequest{
		UID:          req.UID,
		Folder:       req.Folder,
		SourceFolder: req.SourceFolder,
		MarkAsSeen:   req.MarkAsSeen,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folder": result.Destination, "uid": result.UID})
}

type draftRequest struct {
	VenueID string `json:"venue_id" binding:"required"`
	Folder  string `json:"folder"`
	mailer.Message
}

func (s *Server) createDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, ok := s.imapAccount(c, req.VenueID)
	if !ok {
		return
	}
	if req.From == "" {
		req.From = account.Username
	}

	raw, err := mailer.Build(&req.Message)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	folder := req.Folder
	if folder == "" {
		folder = "Drafts"
	}
	uid, err := s.imap.AppendMessage(account, folder, raw, []imap.Flag{imap.FlagDraft})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"folder": folder, "uid": uid})
}

type sendRequest struct {
	VenueID    string `json:"venue_id" binding:"required"`
	SentFolder string `json:"sent_folder"`
	mailer.Message
}

func (s *Server) sendSMTP(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.To) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is required"})
		return
	}
	account, ok := s.imapAccount(c, req.VenueID)
	if !ok {
		return
	}
	if req.From == "" {
		req.From = account.SMTPUsername
	}

	raw, err := mailer.Build(&req.Message)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.sender.Send(account, req.From, req.To, raw); err != nil {
		s.fail(c, err)
		return
	}

	// Copy to the sent folder is best effort; submission already succeeded.
	folder := req.SentFolder
	if folder == "" {
		folder = "Sent"
	}
	uid, err := s.imap.AppendMessage(account, folder, raw, []imap.Flag{imap.FlagSeen})
	if err != nil {
		s.log.Error().Err(err).Str("venue_id", req.VenueID).Msg("append to sent folder failed")
		c.JSON(http.StatusOK, gin.H{"sent": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true, "folder": folder, "uid": uid})
}

// moveOutlookRequest accepts either field name for the Graph message ID;
// callers migrating from the IMAP route tend to keep sending "uid".
type moveOutlookRequest struct {
	VenueID    string `json:"venue_id" binding:"required"`
	OutlookID  string `json:"outlook_id"`
	UID        string `json:"uid"`
	Folder     string `json:"folder" binding:"required"`
	MarkAsSeen *bool  `json:"mark_as_seen"`
	Flagged    *bool  `json:"flagged"`
}

func (s *Server) moveOutlook(c *gin.Context) {
	var req moveOutlookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	messageID := req.OutlookID
	if messageID == "" {
		messageID = req.UID
	}
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid or outlook_id is required"})
		return
	}
	account, ok := s.graphAccount(c, req.VenueID)
	if !ok {
		return
	}
	newID, err := s.graph(c.Request.Context(), account).Move(c.Request.Context(), account, graph.MoveRequest{
		MessageID:  messageID,
		Folder:     req.Folder,
		MarkAsSeen: req.MarkAsSeen,
		Flagged:    req.Flagged,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": newID, "folder": req.Folder})
}

type sendOutlookRequest struct {
	VenueID     string                 `json:"venue_id" binding:"required"`
	From        string                 `json:"from"`
	To          []string               `json:"to" binding:"required"`
	Subject     string                 `json:"subject"`
	Text        string                 `json:"text"`
	HTML        string                 `json:"html"`
	SaveCopy    *bool                  `json:"save_to_sent"`
	Attachments []graph.FileAttachment `json:"attachments"`
}

func (s *Server) sendOutlook(c *gin.Context) {
	var req sendOutlookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, ok := s.graphAccount(c, req.VenueID)
	if !ok {
		return
	}
	if req.From == "" {
		req.From = account.UserEmail
	}
	saveCopy := true
	if req.SaveCopy != nil {
		saveCopy = *req.SaveCopy
	}
	err := s.graph(c.Request.Context(), account).Send(c.Request.Context(), account, graph.SendRequest{
		From:        req.From,
		To:          req.To,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		SaveCopy:    saveCopy,
		Attachments: req.Attachments,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

type replyOutlookRequest struct {
	VenueID     string                 `json:"venue_id" binding:"required"`
	OutlookID   string                 `json:"outlook_id" binding:"required"`
	To          []string               `json:"to"`
	Text        string                 `json:"text"`
	HTML        string                 `json:"html"`
	Attachments []graph.FileAttachment `json:"attachments"`
}

func (s *Server) replyOutlook(c *gin.Context) {
	var req replyOutlookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, ok := s.graphAccount(c, req.VenueID)
	if !ok {
		return
	}
	err := s.graph(c.Request.Context(), account).Reply(c.Request.Context(), account, graph.ReplyRequest{
		MessageID:   req.OutlookID,
		To:          req.To,
		Text:        req.Text,
		HTML:        req.HTML,
		Attachments: req.Attachments,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (s *Server) imapAccount(c *gin.Context, venueID string) (*store.IMAPAccount, bool) {
	if venueID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "venue_id is required"})
		return nil, false
	}
	account, err := s.st.IMAPAccountByVenue(c.Request.Context(), venueID)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return account, true
}

func (s *Server) graphAccount(c *gin.Context, venueID string) (*store.GraphAccount, bool) {
	if venueID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "venue_id is required"})
		return nil, false
	}
	account, err := s.st.GraphAccountByVenue(c.Request.Context(), venueID)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return account, true
}

// fail maps domain errors to status codes: unknown venues, folders, and
// message ids are 404, everything else 500.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, imapprovider.ErrMailboxNotFound),
		errors.Is(err, imapprovider.ErrMessageNotFound),
		errors.Is(err, graph.ErrFolderNotFound),
		graph.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
