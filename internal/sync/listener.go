// Package sync is the mailbox synchronization core: the per-account
// supervisor with reconnect backoff, the runner manager, and the
// deduplication cache shared by feed-style providers.
package sync

import "context"

// Listener is one account's provider-specific sync behavior. The two
// implementations are the IMAP polling listener and the Graph delta-feed
// listener; the supervisor drives either through the same state machine.
type Listener interface {
	// Key identifies the account for logging and runner bookkeeping.
	Key() string

	// Connect establishes the provider session. A failed connect counts
	// as a backoff attempt.
	Connect(ctx context.Context) error

	// Run aligns the cursor once and then detects changes until a
	// transport error occurs or ctx is cancelled. It never returns nil
	// except on cancellation.
	Run(ctx context.Context) error

	// Close releases the session. Called on every error path; logout
	// failures are swallowed.
	Close()
}
