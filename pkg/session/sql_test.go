package session

import (
	"context"
	"database/sql"
	"testing"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	archive, err := NewArchive(db, "sqlite")
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	return archive
}

func terminalSnapshot(t *testing.T) Snapshot {
	t.Helper()
	s := newTestSession()
	if err := s.AddParticipant(Participant{AgentID: "a1", DisplayName: "Agent One", ResonanceScore: 0.9}); err != nil {
		t.Fatal(err)
	}
	advance(t, s, StatusSynthesizing)
	if err := s.MarkParticipantActive("a1"); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyOffer("a1", "offer text"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPlan("archived plan"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionTo(StatusCompleted); err != nil {
		t.Fatal(err)
	}
	s.AppendTrace("plan", "round 1", "archived plan")
	return s.Snapshot()
}

func TestArchive_SaveAndGet(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	snap := terminalSnapshot(t)

	if err := archive.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := archive.Get(ctx, snap.NegotiationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", got.Status, StatusCompleted)
	}
	if got.PlanOutput == nil || *got.PlanOutput != "archived plan" {
		t.Errorf("PlanOutput = %v", got.PlanOutput)
	}
	if len(got.Participants) != 1 || got.Participants[0].AgentID != "a1" {
		t.Errorf("Participants = %+v", got.Participants)
	}
	if got.Participants[0].Offer == nil || got.Participants[0].Offer.Content != "offer text" {
		t.Error("participant offer did not round-trip")
	}
	if len(got.Trace) != 1 || got.Trace[0].Step != "plan" {
		t.Errorf("Trace = %+v", got.Trace)
	}
	if got.Demand.RawIntent != "I need a technical co-founder" {
		t.Errorf("Demand = %+v", got.Demand)
	}
}

func TestArchive_SaveIsIdempotent(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	snap := terminalSnapshot(t)

	if err := archive.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}
	// Second save updates in place rather than duplicating.
	status := StatusCompleted
	snap.Status = status
	if err := archive.Save(ctx, snap); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	list, err := archive.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("len(List) = %d, want 1", len(list))
	}
}

func TestArchive_GetMissing(t *testing.T) {
	archive := newTestArchive(t)
	if _, err := archive.Get(context.Background(), "neg-missing"); err == nil {
		t.Error("expected error for missing negotiation")
	}
}

func TestArchive_List(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := archive.Save(ctx, terminalSnapshot(t)); err != nil {
			t.Fatal(err)
		}
	}

	list, err := archive.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len(List) = %d, want 2 (limit)", len(list))
	}
}

func TestNewArchive_RejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := NewArchive(db, "oracle"); err == nil {
		t.Error("expected rejection of unsupported dialect")
	}
	if _, err := NewArchive(nil, "sqlite"); err == nil {
		t.Error("expected rejection of nil db")
	}
}
