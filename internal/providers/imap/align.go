package imap

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/venueops/email-worker/internal/config"
)

// alignCursor reconciles a stored cursor with the emails_since threshold.
// It returns the cursor the account should resume from and whether that
// differs from the stored value. The stored cursor is returned unchanged
// when no threshold is configured or the mailbox is empty.
//
// The scan walks forward in fixed UID windows fetching only (UID,
// INTERNALDATE); the first window containing a message at or past the
// threshold decides the resolved position: one less than the smallest
// qualifying UID. Starting from the stored cursor is a heuristic — if that
// scan comes up empty the scan restarts from UID 1, which covers a stored
// cursor that already overshot the threshold.
func alignCursor(mb mailbox, since *time.Time, stored uint32, log zerolog.Logger) (uint32, bool, error) {
	if since == nil {
		return stored, false, nil
	}

	exists, maxUID, err := mb.Stats()
	if err != nil {
		return stored, false, err
	}
	if exists == 0 || maxUID == 0 {
		return stored, false, nil
	}

	start := uint32(1)
	if stored > 0 && stored <= maxUID {
		start = stored
	}

	sinceUID, err := scanFrom(mb, start, maxUID, *since)
	if err != nil {
		return stored, false, err
	}
	if sinceUID == 0 && start != 1 {
		sinceUID, err = scanFrom(mb, 1, maxUID, *since)
		if err != nil {
			return stored, false, err
		}
	}

	if sinceUID == 0 {
		// Nothing in the mailbox satisfies the threshold: suppress all
		// existing mail, only future arrivals will be seen.
		if stored == maxUID {
			return stored, false, nil
		}
		log.Info().Uint32("last_uid", maxUID).Time("emails_since", *since).
			Msg("no message past threshold, cursor set to mailbox end")
		return maxUID, true, nil
	}

	desired := sinceUID - 1
	if stored >= desired {
		// Never regress: a cursor at or past the threshold boundary
		// stays where it is, otherwise already-forwarded mail would be
		// delivered again.
		return stored, false, nil
	}

	log.Info().Uint32("last_uid", desired).Time("emails_since", *since).
		Msg("cursor aligned to threshold")
	return desired, true, nil
}

// scanFrom walks UID windows from start to maxUID and returns the smallest
// UID in the first window holding a message at or past the threshold, or 0
// when the whole range is older.
func scanFrom(mb mailbox, start, maxUID uint32, since time.Time) (uint32, error) {
	cursor := start
	for cursor <= maxUID {
		end := cursor + config.AlignScanBatch - 1
		if end > maxUID {
			end = maxUID
		}

		stamps, err := mb.FetchStamps(cursor, end)
		if err != nil {
			return 0, err
		}

		best := uint32(0)
		for _, s := range stamps {
			if s.InternalDate.IsZero() || s.InternalDate.Before(since) {
				continue
			}
			if best == 0 || s.UID < best {
				best = s.UID
			}
		}
		if best != 0 {
			return best, nil
		}

		cursor = end + 1
	}
	return 0, nil
}
