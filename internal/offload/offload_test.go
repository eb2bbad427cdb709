package offload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/store"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedStore creates a store file with one contact and closes the writer so
// read-only opens see a settled database.
func seedStore(t *testing.T) store.Options {
	t.Helper()

	opts := store.Options{Path: filepath.Join(t.TempDir(), "contacts.db")}

	s, err := store.Open(opts, testLogger(t))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	err = s.UpsertContact(context.Background(), &contact.Contact{
		UserID:      "u1",
		Source:      contact.SourceManual,
		ExternalID:  "c1",
		DisplayName: "Ann Smith",
		Partition:   contact.PartitionImported,
		Provenance:  contact.ProvenanceDirect,
		Emails:      []contact.Email{{Address: "ann@example.com", Primary: true}},
	})
	if err != nil {
		t.Fatalf("seeding contact: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}

	return opts
}

func TestDoRunsQueryReadOnly(t *testing.T) {
	t.Parallel()

	r := NewRunner(seedStore(t), time.Second, testLogger(t))

	var got []contact.Contact

	err := r.Do(context.Background(), func(ctx context.Context, s *store.Store) error {
		var err error

		got, err = s.ListActiveContacts(ctx, "u1")

		return err
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if len(got) != 1 || got[0].DisplayName != "Ann Smith" {
		t.Errorf("unexpected query result: %+v", got)
	}
}

func TestDoDeadlineReturnsErrTimeout(t *testing.T) {
	t.Parallel()

	r := NewRunner(seedStore(t), 50*time.Millisecond, testLogger(t))

	start := time.Now()

	err := r.Do(context.Background(), func(ctx context.Context, _ *store.Store) error {
		<-ctx.Done()
		// Simulate a query still stuck in the driver after the deadline.
		time.Sleep(200 * time.Millisecond)

		return ctx.Err()
	})

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Do returned %v, want ErrTimeout", err)
	}

	// The deadline, not the stuck worker, decides when Do returns.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Do took %v, deadline did not preempt the worker", elapsed)
	}
}

func TestDoQueryFailureIsNotTimeout(t *testing.T) {
	t.Parallel()

	r := NewRunner(seedStore(t), time.Second, testLogger(t))

	boom := errors.New("boom")

	err := r.Do(context.Background(), func(context.Context, *store.Store) error {
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("Do returned %v, want wrapped query error", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("query failure misreported as timeout")
	}
}

func TestDoCallerCancellationWinsOverTimeout(t *testing.T) {
	t.Parallel()

	r := NewRunner(seedStore(t), time.Minute, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func(ctx context.Context, _ *store.Store) error {
		<-ctx.Done()

		return ctx.Err()
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do returned %v, want context.Canceled", err)
	}
}

func TestDoPanicInQueryIsContained(t *testing.T) {
	t.Parallel()

	r := NewRunner(seedStore(t), time.Second, testLogger(t))

	err := r.Do(context.Background(), func(context.Context, *store.Store) error {
		panic("query bug")
	})

	if err == nil {
		t.Fatal("Do returned nil after panic")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("panic misreported as timeout")
	}
}
