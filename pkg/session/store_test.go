package session

import (
	"testing"
)

func TestStore_PutAndGet(t *testing.T) {
	store := NewStore()
	s := newTestSession()

	if err := store.Put(s); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := store.Get(s.ID())
	if !ok {
		t.Fatal("session not found after Put")
	}
	if got.ID() != s.ID() {
		t.Errorf("Get() id = %q, want %q", got.ID(), s.ID())
	}

	if err := store.Put(s); err == nil {
		t.Error("duplicate Put should be rejected")
	}
}

func TestStore_Snapshots(t *testing.T) {
	store := NewStore()
	a := newTestSession()
	b := newTestSession()
	if err := store.Put(a); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(b); err != nil {
		t.Fatal(err)
	}

	snaps := store.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(Snapshots) = %d, want 2", len(snaps))
	}
	if snaps[0].NegotiationID >= snaps[1].NegotiationID {
		t.Error("snapshots should be ordered by negotiation id")
	}
}

func TestStore_Remove(t *testing.T) {
	store := NewStore()
	s := newTestSession()
	if err := store.Put(s); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(s.ID()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := store.Get(s.ID()); ok {
		t.Error("session still present after Remove")
	}
}
