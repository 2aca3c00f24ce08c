// Package sink delivers normalized email events downstream. Delivery is
// boolean: the engine only needs to know whether it may commit the cursor
// (or dedup entry) for the event it just handed over.
package sink

import (
	"context"

	"github.com/venueops/email-worker/internal/event"
)

// Forwarder accepts one event. A false return is non-fatal to the process
// but fatal to the current forwarding batch: the caller must stop its cycle
// without committing the event. The sink is expected to be idempotent on
// the payload's message identifier.
type Forwarder interface {
	Forward(ctx context.Context, ev *event.Event) bool
}
