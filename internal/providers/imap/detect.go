package imap

import (
	"context"
)

// detectCycle runs one alignment + change-detection pass over the session's
// mailbox. Events are forwarded in strict ascending UID order and the
// cursor is committed per successfully forwarded message, so a sink failure
// leaves the cursor contiguous with what was actually delivered and the
// failed UID is retried on the next wake.
func (l *Listener) detectCycle(ctx context.Context) error {
	if err := l.align(ctx); err != nil {
		return err
	}

	uids, err := l.mb.SearchUnseen(l.lastUID)
	if err != nil {
		return err
	}

	// Servers may answer a UID range search boundary-inclusive; filter
	// strictly greater before trusting the result.
	candidates := uids[:0]
	for _, uid := range uids {
		if uid > l.lastUID {
			candidates = append(candidates, uid)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sortUIDs(candidates)

	l.log.Info().Int("count", len(candidates)).Uint32("after_uid", l.lastUID).Msg("unseen messages found")

	for _, uid := range candidates {
		// Guards races with concurrent external mailbox changes: the
		// in-memory cursor may have moved past this candidate.
		if uid <= l.lastUID {
			l.log.Debug().Uint32("uid", uid).Uint32("last_uid", l.lastUID).Msg("skipping already-processed uid")
			continue
		}

		msg, err := l.mb.FetchFull(uid)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}

		if l.since != nil && !msg.InternalDate.IsZero() && msg.InternalDate.Before(*l.since) {
			l.log.Debug().Uint32("uid", uid).Time("internal_date", msg.InternalDate).
				Msg("skipping uid before emails_since")
			continue
		}

		ev := normalize(&l.account, msg)

		if !l.sink.Forward(ctx, ev) {
			// Halt this cycle entirely: skipping ahead would either
			// reorder delivery or advance the cursor over a gap.
			l.log.Error().Uint32("uid", uid).Msg("forward failed, not committing")
			return nil
		}

		l.lastUID = uid
		if err := l.store.UpdateLastUID(ctx, l.account.ID, uid); err != nil {
			// In-memory cursor still advanced; a restart re-derives the
			// position through alignment.
			l.log.Error().Err(err).Uint32("uid", uid).Msg("failed to persist last_uid")
		} else {
			l.log.Info().Uint32("uid", uid).Msg("forwarded and committed")
		}
	}

	return nil
}

// align resolves the emails_since threshold into a starting cursor before
// each detection pass. Persistence of the resolved value is best-effort;
// the in-memory cursor is authoritative for this run either way.
func (l *Listener) align(ctx context.Context) error {
	desired, changed, err := alignCursor(l.mb, l.since, l.lastUID, l.log)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	l.lastUID = desired
	if err := l.store.UpdateLastUID(ctx, l.account.ID, desired); err != nil {
		l.log.Error().Err(err).Uint32("uid", desired).Msg("failed to persist aligned cursor")
	}
	return nil
}
