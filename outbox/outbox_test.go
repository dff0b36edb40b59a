package outbox_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"i4.energy/across/nbiotgw/outbox"
)

func newTestStore(t *testing.T) *outbox.Store {
	t.Helper()

	store, err := outbox.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueNext(t *testing.T) {
	t.Run("FIFO order", func(t *testing.T) {
		store := newTestStore(t)

		first, err := store.Enqueue("telemetry", []byte("one"), 1, false)
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := store.Enqueue("telemetry", []byte("two"), 1, false); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		next, err := store.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if next.ID != first.ID {
			t.Errorf("expected oldest message %s, got %s", first.ID, next.ID)
		}
		if next.Topic != "telemetry" || !bytes.Equal(next.Payload, []byte("one")) || next.QoS != 1 {
			t.Errorf("unexpected message: %+v", next)
		}
		if next.State != outbox.StateQueued || next.Attempts != 0 {
			t.Errorf("expected fresh queued message, got: %+v", next)
		}
	})

	t.Run("ErrEmpty on empty queue", func(t *testing.T) {
		store := newTestStore(t)

		if _, err := store.Next(); !errors.Is(err, outbox.ErrEmpty) {
			t.Errorf("expected ErrEmpty, got: %v", err)
		}
	})
}

func TestMarkSent(t *testing.T) {
	t.Run("Removes message from the queue", func(t *testing.T) {
		store := newTestStore(t)

		msg, err := store.Enqueue("telemetry", []byte("data"), 0, false)
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		if err := store.MarkSent(msg.ID); err != nil {
			t.Fatalf("mark sent failed: %v", err)
		}
		if _, err := store.Next(); !errors.Is(err, outbox.ErrEmpty) {
			t.Errorf("expected ErrEmpty after send, got: %v", err)
		}

		_, sent, _, err := store.Counts()
		if err != nil {
			t.Fatalf("counts failed: %v", err)
		}
		if sent != 1 {
			t.Errorf("expected 1 sent message, got %d", sent)
		}
	})

	t.Run("ErrNotFound on unknown id", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.MarkSent("no-such-id"); !errors.Is(err, outbox.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestMarkFailed(t *testing.T) {
	t.Run("Non-terminal failure stays queued with attempts bumped", func(t *testing.T) {
		store := newTestStore(t)

		msg, err := store.Enqueue("telemetry", []byte("data"), 0, false)
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		if err := store.MarkFailed(msg.ID, false); err != nil {
			t.Fatalf("mark failed failed: %v", err)
		}

		next, err := store.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if next.ID != msg.ID || next.Attempts != 1 {
			t.Errorf("expected requeued message with 1 attempt, got: %+v", next)
		}
	})

	t.Run("Terminal failure leaves the queue", func(t *testing.T) {
		store := newTestStore(t)

		msg, err := store.Enqueue("telemetry", []byte("data"), 0, false)
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		if err := store.MarkFailed(msg.ID, true); err != nil {
			t.Fatalf("mark failed failed: %v", err)
		}
		if _, err := store.Next(); !errors.Is(err, outbox.ErrEmpty) {
			t.Errorf("expected ErrEmpty after terminal failure, got: %v", err)
		}

		_, _, failed, err := store.Counts()
		if err != nil {
			t.Fatalf("counts failed: %v", err)
		}
		if failed != 1 {
			t.Errorf("expected 1 failed message, got %d", failed)
		}
	})
}
