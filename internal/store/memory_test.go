package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bidroom/auction-engine/internal/model"
)

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for _, id := range []string{"t2", "t1"} {
		s.PutTournament(&model.Tournament{
			ID:           id,
			OrganizerID:  "org",
			Status:       model.TournamentPending,
			Participants: []string{"p1", "p2"},
			TeamQueue:    []string{"T1", "T2"},
		})
	}
	return s
}

func running(id string) *model.AuctionState {
	return &model.AuctionState{
		TournamentID:  id,
		Status:        model.AuctionRunning,
		CurrentTeamID: "T1",
		TeamQueue:     []string{"T2"},
		Budgets:       []model.BudgetRecord{{ParticipantID: "p1", RemainingBudget: 100}},
	}
}

func TestMemoryStore_TournamentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	if _, err := s.GetTournament(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing tournament: %v", err)
	}

	if err := s.StartAuction(ctx, running("t1")); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	tr, _ := s.GetTournament(ctx, "t1")
	if tr.Status != model.TournamentAuction {
		t.Errorf("status after start = %s", tr.Status)
	}

	ended := running("t1")
	ended.Status = model.AuctionEnded
	if err := s.FinishAuction(ctx, ended); err != nil {
		t.Fatalf("FinishAuction: %v", err)
	}
	tr, _ = s.GetTournament(ctx, "t1")
	if tr.Status != model.TournamentActive {
		t.Errorf("status after finish = %s", tr.Status)
	}

	if err := s.StartAuction(ctx, running("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("start unknown tournament: %v", err)
	}
}

func TestMemoryStore_ListRunningAuctions(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.StartAuction(ctx, running("t2"))
	s.StartAuction(ctx, running("t1"))

	ended := running("t2")
	ended.Status = model.AuctionEnded
	s.FinishAuction(ctx, ended)

	got, err := s.ListRunningAuctions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TournamentID != "t1" {
		t.Errorf("running = %+v", got)
	}
}

func TestMemoryStore_StateIsCopied(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	st := running("t1")
	s.StartAuction(ctx, st)

	st.TeamQueue[0] = "mutated"
	st.Budgets[0].RemainingBudget = 0

	got, _ := s.GetAuction(ctx, "t1")
	if got.TeamQueue[0] != "T2" || got.Budgets[0].RemainingBudget != 100 {
		t.Fatalf("stored state aliased caller's: %+v", got)
	}

	got.CurrentTeamID = "other"
	again, _ := s.GetAuction(ctx, "t1")
	if again.CurrentTeamID != "T1" {
		t.Error("returned state aliased stored state")
	}

	tr, _ := s.GetTournament(ctx, "t1")
	tr.Participants[0] = "mutated"
	tr, _ = s.GetTournament(ctx, "t1")
	if tr.Participants[0] != "p1" {
		t.Error("tournament participants aliased")
	}
}

func TestMemoryStore_OwnershipIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.StartAuction(ctx, running("t1"))

	own := &model.Ownership{ID: "o1", TournamentID: "t1", TeamID: "T1", ParticipantID: "p1", Price: 40, SoldAt: time.Now()}
	if err := s.RecordSettlement(ctx, running("t1"), own); err != nil {
		t.Fatalf("first settlement: %v", err)
	}

	next := running("t1")
	next.CurrentTeamID = "T2"
	dup := *own
	dup.ID, dup.ParticipantID = "o2", "p2"
	if err := s.RecordSettlement(ctx, next, &dup); !errors.Is(err, ErrOwnershipExists) {
		t.Fatalf("duplicate settlement: %v", err)
	}
	// A rejected settlement leaves the persisted state alone.
	if got, _ := s.GetAuction(ctx, "t1"); got.CurrentTeamID != "T1" {
		t.Errorf("state advanced by rejected settlement: %q", got.CurrentTeamID)
	}

	// The same team in another tournament is a different record.
	s.StartAuction(ctx, running("t2"))
	other := *own
	other.ID, other.TournamentID = "o3", "t2"
	if err := s.RecordSettlement(ctx, running("t2"), &other); err != nil {
		t.Fatalf("other tournament: %v", err)
	}

	// Unsold rounds carry no ownership record.
	if err := s.RecordSettlement(ctx, next, nil); err != nil {
		t.Fatalf("unsold settlement: %v", err)
	}

	owners, _ := s.ListOwnership(ctx, "t1")
	if len(owners) != 1 || owners[0].ParticipantID != "p1" {
		t.Errorf("ownership = %+v", owners)
	}
}

func TestMemoryStore_LogsAreScopedByTournament(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	for i, tid := range []string{"t1", "t2", "t1"} {
		st := running(tid)
		bid := &model.BidEvent{ID: string(rune('a' + i)), TournamentID: tid, TeamID: "T1", ParticipantID: "p1", Amount: int64(10 * (i + 1))}
		if err := s.RecordBid(ctx, bid, st); err != nil {
			t.Fatal(err)
		}
		s.AppendChat(ctx, &model.ChatMessage{ID: bid.ID, TournamentID: tid, ParticipantID: "p1", Text: "hi"})
	}

	bids, _ := s.ListBids(ctx, "t1")
	if len(bids) != 2 || bids[0].Amount != 10 || bids[1].Amount != 30 {
		t.Errorf("bids = %+v", bids)
	}
	chat, _ := s.ListChat(ctx, "t2")
	if len(chat) != 1 {
		t.Errorf("chat = %+v", chat)
	}
}
