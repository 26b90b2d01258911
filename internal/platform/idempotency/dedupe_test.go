package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestDeduplicatorSuppressesRepeatEvents(t *testing.T) {
	store := NewMemoryStore()
	dedupe := NewDeduplicator(store, time.Hour)
	ctx := context.Background()

	seen, err := dedupe.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if seen {
		t.Fatal("first delivery should not be marked seen")
	}

	// A concurrent redelivery while the first is in flight must be suppressed.
	seen, err = dedupe.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if !seen {
		t.Fatal("in-flight event should be marked seen")
	}

	if err := dedupe.Done(ctx, "evt_1"); err != nil {
		t.Fatalf("Done returned error: %v", err)
	}

	seen, err = dedupe.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if !seen {
		t.Fatal("completed event should stay suppressed")
	}
}

func TestDeduplicatorForgetAllowsRetry(t *testing.T) {
	store := NewMemoryStore()
	dedupe := NewDeduplicator(store, time.Hour)
	ctx := context.Background()

	if seen, _ := dedupe.Seen(ctx, "evt_2"); seen {
		t.Fatal("first delivery should not be marked seen")
	}
	if err := dedupe.Forget(ctx, "evt_2"); err != nil {
		t.Fatalf("Forget returned error: %v", err)
	}
	if seen, _ := dedupe.Seen(ctx, "evt_2"); seen {
		t.Fatal("released event should be reprocessable")
	}
}

func TestDeduplicatorIgnoresEmptyIDs(t *testing.T) {
	dedupe := NewDeduplicator(NewMemoryStore(), time.Hour)

	seen, err := dedupe.Seen(context.Background(), "  ")
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if seen {
		t.Fatal("blank event IDs should never dedupe")
	}
}
