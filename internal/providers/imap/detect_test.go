package imap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/event"
	"github.com/venueops/email-worker/internal/store"
)

type fakeSink struct {
	forwarded []uint32
	failAt    uint32
}

func (s *fakeSink) Forward(_ context.Context, ev *event.Event) bool {
	if s.failAt != 0 && ev.UID == s.failAt {
		return false
	}
	s.forwarded = append(s.forwarded, ev.UID)
	return true
}

type fakeStore struct {
	store.Store
	lastUID  map[string]uint32
	writeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{lastUID: map[string]uint32{}}
}

func (s *fakeStore) UpdateLastUID(_ context.Context, accountID string, lastUID uint32) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.lastUID[accountID] = lastUID
	return nil
}

func newTestListener(mb mailbox, st store.Store, fw *fakeSink, lastUID uint32, since *time.Time) *Listener {
	return &Listener{
		account: store.IMAPAccount{ID: "acct-1", VenueID: "venue-1", Username: "ops@example.com"},
		store:   st,
		sink:    fw,
		log:     zerolog.Nop(),
		mb:      mb,
		lastUID: lastUID,
		since:   since,
	}
}

func rawMessage(subject string) []byte {
	return []byte("From: a@example.com\r\nTo: b@example.com\r\nSubject: " + subject + "\r\n\r\nbody\r\n")
}

func TestDetectCycleForwardsInAscendingOrder(t *testing.T) {
	mb := newFakeMailbox(map[uint32]fakeMessage{
		103: {internalDate: date("2024-03-03"), raw: rawMessage("three")},
		101: {internalDate: date("2024-03-01"), raw: rawMessage("one")},
		102: {internalDate: date("2024-03-02"), raw: rawMessage("two")},
	})
	st := newFakeStore()
	fw := &fakeSink{}
	l := newTestListener(mb, st, fw, 100, nil)

	if err := l.detectCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []uint32{101, 102, 103}
	if len(fw.forwarded) != len(want) {
		t.Fatalf("forwarded %v, want %v", fw.forwarded, want)
	}
	for i, uid := range want {
		if fw.forwarded[i] != uid {
			t.Fatalf("forwarded %v, want %v", fw.forwarded, want)
		}
	}
	if l.lastUID != 103 {
		t.Errorf("lastUID = %d, want 103", l.lastUID)
	}
	if st.lastUID["acct-1"] != 103 {
		t.Errorf("persisted cursor = %d, want 103", st.lastUID["acct-1"])
	}
}

func TestDetectCycleHaltsOnSinkFailure(t *testing.T) {
	mb := newFakeMailbox(map[uint32]fakeMessage{
		101: {internalDate: date("2024-03-01"), raw: rawMessage("one")},
		102: {internalDate: date("2024-03-02"), raw: rawMessage("two")},
		103: {internalDate: date("2024-03-03"), raw: rawMessage("three")},
	})
	st := newFakeStore()
	fw := &fakeSink{failAt: 103}
	l := newTestListener(mb, st, fw, 100, nil)

	// A rejected forward ends the cycle without error; the session stays
	// up and the failed UID is retried next wake.
	if err := l.detectCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if l.lastUID != 102 {
		t.Errorf("lastUID = %d, want 102", l.lastUID)
	}
	if st.lastUID["acct-1"] != 102 {
		t.Errorf("persisted cursor = %d, want 102", st.lastUID["acct-1"])
	}

	// Retry with the sink healthy again: only 103 goes out.
	fw.failAt = 0
	fw.forwarded = nil
	if err := l.detectCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fw.forwarded) != 1 || fw.forwarded[0] != 103 {
		t.Errorf("forwarded %v, want [103]", fw.forwarded)
	}
	if l.lastUID != 103 {
		t.Errorf("lastUID = %d, want 103", l.lastUID)
	}
}

func TestDetectCycleIgnoresUIDsAtOrBelowCursor(t *testing.T) {
	mb := newFakeMailbox(map[uint32]fakeMessage{
		99:  {internalDate: date("2024-03-01"), raw: rawMessage("old")},
		100: {internalDate: date("2024-03-01"), raw: rawMessage("boundary")},
		101: {internalDate: date("2024-03-02"), raw: rawMessage("new")},
	})
	st := newFakeStore()
	fw := &fakeSink{}
	l := newTestListener(mb, st, fw, 100, nil)

	if err := l.detectCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fw.forwarded) != 1 || fw.forwarded[0] != 101 {
		t.Errorf("forwarded %v, want [101]", fw.forwarded)
	}
}

func TestDetectCycleSkipsMessagesBeforeThreshold(t *testing.T) {
	since := date("2024-03-02")
	mb := newFakeMailbox(map[uint32]fakeMessage{
		101: {internalDate: date("2024-03-01"), raw: rawMessage("before")},
		102: {internalDate: date("2024-03-03"), raw: rawMessage("after")},
	})
	st := newFakeStore()
	fw := &fakeSink{}
	// Cursor already aligned; pass since only for the per-message filter.
	l := newTestListener(mb, st, fw, 100, &since)

	if err := l.detectCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fw.forwarded) != 1 || fw.forwarded[0] != 102 {
		t.Errorf("forwarded %v, want [102]", fw.forwarded)
	}
}

func TestDetectCycleStorePersistFailureDoesNotHalt(t *testing.T) {
	mb := newFakeMailbox(map[uint32]fakeMessage{
		101: {internalDate: date("2024-03-01"), raw: rawMessage("one")},
		102: {internalDate: date("2024-03-02"), raw: rawMessage("two")},
	})
	st := newFakeStore()
	st.writeErr = context.DeadlineExceeded
	fw := &fakeSink{}
	l := newTestListener(mb, st, fw, 100, nil)

	if err := l.detectCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Both forwarded despite every persist failing; in-memory cursor leads.
	if len(fw.forwarded) != 2 {
		t.Errorf("forwarded %v, want both messages", fw.forwarded)
	}
	if l.lastUID != 102 {
		t.Errorf("lastUID = %d, want 102", l.lastUID)
	}
}
