// Package imap implements the polling-by-UID provider: a long-lived
// listener that aligns the account cursor against the emails_since
// threshold, detects unseen mail past the cursor, and forwards it in strict
// ascending UID order, plus the one-shot mailbox actions used by the HTTP
// surface.
package imap

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/venueops/email-worker/internal/store"
)

// uidStamp pairs a UID with its server-assigned receipt time. It is the
// only metadata the alignment scan fetches.
type uidStamp struct {
	UID          uint32
	InternalDate time.Time
}

// fetched is one fully fetched message: identity, receipt time, and raw
// RFC 5322 source.
type fetched struct {
	UID          uint32
	InternalDate time.Time
	Raw          []byte
}

// mailbox is the narrow view of a selected INBOX that alignment and change
// detection run against. The live implementation wraps an imapclient
// session; tests substitute an in-memory mailbox.
type mailbox interface {
	// Stats returns the current message count and highest assigned UID.
	Stats() (exists uint32, maxUID uint32, err error)

	// FetchStamps returns (UID, INTERNALDATE) for every message in the
	// inclusive UID range.
	FetchStamps(from, to uint32) ([]uidStamp, error)

	// SearchUnseen returns the UIDs of unseen messages with UID strictly
	// greater than afterUID, unsorted.
	SearchUnseen(afterUID uint32) ([]uint32, error)

	// FetchFull returns one message with its raw source, or nil if the
	// UID no longer exists.
	FetchFull(uid uint32) (*fetched, error)
}

// liveMailbox runs the mailbox operations against a selected IMAP session.
type liveMailbox struct {
	cli *imapclient.Client
	box string
}

func (m *liveMailbox) Stats() (uint32, uint32, error) {
	data, err := m.cli.Status(m.box, &imap.StatusOptions{NumMessages: true, UIDNext: true}).Wait()
	if err != nil {
		return 0, 0, fmt.Errorf("status %s: %w", m.box, err)
	}
	var exists uint32
	if data.NumMessages != nil {
		exists = *data.NumMessages
	}
	var maxUID uint32
	if data.UIDNext > 1 {
		maxUID = uint32(data.UIDNext) - 1
	}
	return exists, maxUID, nil
}

func (m *liveMailbox) FetchStamps(from, to uint32) ([]uidStamp, error) {
	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(from), imap.UID(to))

	msgs, err := m.cli.Fetch(uidSet, &imap.FetchOptions{UID: true, InternalDate: true}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch %d:%d: %w", from, to, err)
	}

	stamps := make([]uidStamp, 0, len(msgs))
	for _, msg := range msgs {
		if msg.UID == 0 {
			continue
		}
		stamps = append(stamps, uidStamp{UID: uint32(msg.UID), InternalDate: msg.InternalDate})
	}
	return stamps, nil
}

func (m *liveMailbox) SearchUnseen(afterUID uint32) ([]uint32, error) {
	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(afterUID+1), 0)

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		UID:     []imap.UIDSet{uidSet},
	}

	data, err := m.cli.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}

	uids := data.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out, nil
}

func (m *liveMailbox) FetchFull(uid uint32) (*fetched, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := m.cli.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts)
	defer fetchCmd.Close()

	msgData := fetchCmd.Next()
	if msgData == nil {
		return nil, nil
	}

	msg := &fetched{}
	for {
		item := msgData.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			msg.UID = uint32(data.UID)
		case imapclient.FetchItemDataInternalDate:
			msg.InternalDate = data.Time
		case imapclient.FetchItemDataBodySection:
			raw, err := io.ReadAll(data.Literal)
			if err != nil {
				return nil, fmt.Errorf("read body uid=%d: %w", uid, err)
			}
			msg.Raw = raw
		}
	}

	if msg.UID == 0 {
		msg.UID = uid
	}
	return msg, nil
}

// dial opens and authenticates a fresh IMAP connection for the account.
// Every action endpoint uses its own short-lived connection so it never
// interferes with the listener's session.
func dial(account *store.IMAPAccount, options *imapclient.Options) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", account.Host, account.Port)

	var cli *imapclient.Client
	var err error
	if account.Secure {
		cli, err = imapclient.DialTLS(addr, options)
	} else {
		cli, err = imapclient.DialInsecure(addr, options)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := cli.Login(account.Username, account.Secret).Wait(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	return cli, nil
}

func sortUIDs(uids []uint32) {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
}
