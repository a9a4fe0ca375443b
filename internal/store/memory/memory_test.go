package memory

import (
	"context"
	"testing"

	"github.com/pyr33x/goqtt/internal/store"
)

func TestStoreSaveAndLoadSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := &store.Record{ClientID: "c1", Username: "alice", ExpiryInterval: 3600}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, ok, err := s.LoadSession(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if !ok {
		t.Fatal("LoadSession() ok = false, want true")
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want alice", got.Username)
	}
}

func TestStoreLoadSessionMissing(t *testing.T) {
	s := New()
	_, ok, err := s.LoadSession(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if ok {
		t.Fatal("LoadSession() ok = true for a client that was never saved")
	}
}

func TestStoreDeleteSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.SaveSession(ctx, &store.Record{ClientID: "c1"})
	_ = s.EnqueueOffline(ctx, "c1", store.OfflineMessage{Topic: "a/b"})

	if err := s.DeleteSession(ctx, "c1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, ok, _ := s.LoadSession(ctx, "c1"); ok {
		t.Fatal("expected the session to be gone after DeleteSession")
	}
	msgs, err := s.DrainOffline(ctx, "c1")
	if err != nil {
		t.Fatalf("DrainOffline: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected the offline queue to be cleared on delete, got %+v", msgs)
	}
}

func TestStoreEnqueueAndDrainOffline(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.EnqueueOffline(ctx, "c1", store.OfflineMessage{Topic: "a/b", Payload: []byte("1")})
	_ = s.EnqueueOffline(ctx, "c1", store.OfflineMessage{Topic: "a/b", Payload: []byte("2")})

	msgs, err := s.DrainOffline(ctx, "c1")
	if err != nil {
		t.Fatalf("DrainOffline: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("DrainOffline() = %d messages, want 2", len(msgs))
	}

	// A second drain returns nothing; the queue was consumed.
	msgs, err = s.DrainOffline(ctx, "c1")
	if err != nil {
		t.Fatalf("DrainOffline: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected an empty queue after draining, got %+v", msgs)
	}
}
