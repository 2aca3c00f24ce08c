package imap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/config"
	"github.com/venueops/email-worker/internal/store"
)

// Not-found conditions the HTTP surface maps to 404.
var (
	ErrMailboxNotFound = errors.New("mailbox not found")
	ErrMessageNotFound = errors.New("message-id not found")
)

// Actions performs one-shot mailbox operations. Every call dials its own
// connection so it never contends with the account's listener session, and
// none of them touch the sync cursor.
type Actions struct {
	log zerolog.Logger
}

func NewActions(log zerolog.Logger) *Actions {
	return &Actions{log: log.With().Str("component", "imap-actions").Logger()}
}

// ListFolders returns all mailbox paths for the account.
func (a *Actions) ListFolders(account *store.IMAPAccount) ([]string, error) {
	cli, err := dial(account, nil)
	if err != nil {
		return nil, err
	}
	defer logout(cli)

	boxes, err := cli.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	paths := make([]string, 0, len(boxes))
	for _, b := range boxes {
		paths = append(paths, b.Mailbox)
	}
	return paths, nil
}

// ResolveUID finds the UID of the message carrying the given Message-ID
// header inside a folder, scanning in bounded sequence-number batches.
func (a *Actions) ResolveUID(account *store.IMAPAccount, folder, messageID string) (uint32, error) {
	cli, err := dial(account, nil)
	if err != nil {
		return 0, err
	}
	defer logout(cli)

	boxes, err := cli.List("", "*", nil).Collect()
	if err != nil {
		return 0, fmt.Errorf("list mailboxes: %w", err)
	}
	found := false
	for _, b := range boxes {
		if b.Mailbox == folder {
			found = true
			break
		}
	}
	if !found {
		return 0, ErrMailboxNotFound
	}

	sel, err := cli.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", folder, err)
	}
	exists := sel.NumMessages
	if exists == 0 {
		return 0, ErrMessageNotFound
	}

	target := strings.Trim(messageID, "<>")
	a.log.Debug().Str("folder", folder).Str("message_id", target).Uint32("exists", exists).Msg("resolving uid")

	for seqStart := uint32(1); seqStart <= exists; {
		seqEnd := seqStart + config.ResolveScanBatch - 1
		if seqEnd > exists {
			seqEnd = exists
		}

		var seqSet imap.SeqSet
		seqSet.AddRange(seqStart, seqEnd)

		msgs, err := cli.Fetch(seqSet, &imap.FetchOptions{UID: true, Envelope: true}).Collect()
		if err != nil {
			return 0, fmt.Errorf("fetch %d:%d: %w", seqStart, seqEnd, err)
		}
		for _, msg := range msgs {
			if msg.Envelope == nil {
				continue
			}
			if strings.Trim(msg.Envelope.MessageID, "<>") == target {
				return uint32(msg.UID), nil
			}
		}

		seqStart = seqEnd + 1
	}

	return 0, ErrMessageNotFound
}

// MoveRequest moves a message between folders, optionally mutating its
// seen flag first. SourceFolder defaults to INBOX.
type MoveRequest struct {
	UID          uint32
	Folder       string
	SourceFolder string
	MarkAsSeen   *bool
}

// MoveResult reports where the message landed. UID is the message's UID in
// the destination when the server discloses it.
type MoveResult struct {
	Destination string
	UID         uint32
}

func (a *Actions) Move(account *store.IMAPAccount, req MoveRequest) (*MoveResult, error) {
	cli, err := dial(account, nil)
	if err != nil {
		return nil, err
	}
	defer logout(cli)

	source := req.SourceFolder
	if source == "" {
		source = "INBOX"
	}
	if _, err := cli.Select(source, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", source, err)
	}

	uidSet := imap.UIDSetNum(imap.UID(req.UID))

	if req.MarkAsSeen != nil {
		op := imap.StoreFlagsDel
		if *req.MarkAsSeen {
			op = imap.StoreFlagsAdd
		}
		storeCmd := cli.Store(uidSet, &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return nil, fmt.Errorf("store flags uid=%d: %w", req.UID, err)
		}
		a.log.Debug().Uint32("uid", req.UID).Bool("seen", *req.MarkAsSeen).Msg("flags updated")
	}

	data, err := cli.Move(uidSet, req.Folder).Wait()
	if err != nil {
		return nil, fmt.Errorf("move uid=%d to %s: %w", req.UID, req.Folder, err)
	}

	result := &MoveResult{Destination: req.Folder}
	if data != nil {
		if destUIDs, ok := data.DestUIDs.(imap.UIDSet); ok && len(destUIDs) > 0 {
			result.UID = uint32(destUIDs[0].Start)
		}
	}

	a.log.Info().Uint32("uid", req.UID).Str("from", source).Str("to", req.Folder).Msg("moved")
	return result, nil
}

// AppendMessage appends a raw message to a folder with the given flags and
// returns the assigned UID when the server discloses it. Drafts use
// \Draft, copies of sent mail use \Seen.
func (a *Actions) AppendMessage(account *store.IMAPAccount, folder string, raw []byte, flags []imap.Flag) (uint32, error) {
	cli, err := dial(account, nil)
	if err != nil {
		return 0, err
	}
	defer logout(cli)

	appendCmd := cli.Append(folder, int64(len(raw)), &imap.AppendOptions{Flags: flags})
	if _, err := appendCmd.Write(raw); err != nil {
		return 0, fmt.Errorf("append write: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return 0, fmt.Errorf("append close: %w", err)
	}
	data, err := appendCmd.Wait()
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", folder, err)
	}

	var uid uint32
	if data != nil {
		uid = uint32(data.UID)
	}
	a.log.Info().Str("folder", folder).Uint32("uid", uid).Msg("message appended")
	return uid, nil
}

func logout(cli *imapclient.Client) {
	if err := cli.Logout().Wait(); err != nil {
		cli.Close()
	}
}
