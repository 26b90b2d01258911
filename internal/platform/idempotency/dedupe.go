package idempotency

import (
	"context"
	"strings"
	"time"
)

// Deduplicator suppresses repeat deliveries of external events (payment
// provider webhooks retry aggressively) by reserving the event ID in the
// idempotency store.
type Deduplicator struct {
	store Store
	ttl   time.Duration
	clock func() time.Time
}

// NewDeduplicator builds a Deduplicator over the given store. A zero ttl
// falls back to DefaultTTL.
func NewDeduplicator(store Store, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{store: store, ttl: ttl, clock: time.Now}
}

// Seen reserves the event ID and reports whether it was already processed or
// is currently being processed. The first caller for an ID gets false and
// should proceed; it must call Done or Forget afterwards.
func (d *Deduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	if d == nil || d.store == nil {
		return false, nil
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, nil
	}
	reservation, err := d.store.Reserve(ctx, d.key(eventID), d.key(eventID), d.clock().UTC(), d.ttl)
	if err != nil {
		return false, err
	}
	return reservation.State != ReservationStateNew, nil
}

// Done marks the event as fully processed so later deliveries are dropped.
func (d *Deduplicator) Done(ctx context.Context, eventID string) error {
	if d == nil || d.store == nil {
		return nil
	}
	key := d.key(strings.TrimSpace(eventID))
	return d.store.SaveResponse(ctx, key, key, Response{Status: 200}, d.clock().UTC(), d.ttl)
}

// Forget releases the reservation so a retry can reprocess the event after a
// handling failure.
func (d *Deduplicator) Forget(ctx context.Context, eventID string) error {
	if d == nil || d.store == nil {
		return nil
	}
	key := d.key(strings.TrimSpace(eventID))
	return d.store.Release(ctx, key, key)
}

func (d *Deduplicator) key(eventID string) string {
	return "webhook-event|" + eventID
}
