package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bidroom/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	tournaments map[string]*model.Tournament
	auctions    map[string]*model.AuctionState
	bids        []model.BidEvent
	ownership   []model.Ownership
	chat        []model.ChatMessage
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tournaments: make(map[string]*model.Tournament),
		auctions:    make(map[string]*model.AuctionState),
	}
}

// PutTournament inserts or replaces a directory entry.
func (s *MemoryStore) PutTournament(t *model.Tournament) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tournaments[t.ID] = copyTournament(t)
}

func (s *MemoryStore) GetTournament(_ context.Context, id string) (*model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tournaments[id]
	if !ok {
		return nil, fmt.Errorf("tournament %s: %w", id, ErrNotFound)
	}
	return copyTournament(t), nil
}

func (s *MemoryStore) SetTournamentStatus(_ context.Context, id string, status model.TournamentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tournaments[id]
	if !ok {
		return fmt.Errorf("tournament %s: %w", id, ErrNotFound)
	}
	t.Status = status
	return nil
}

func (s *MemoryStore) StartAuction(_ context.Context, state *model.AuctionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tournaments[state.TournamentID]
	if !ok {
		return fmt.Errorf("tournament %s: %w", state.TournamentID, ErrNotFound)
	}
	t.Status = model.TournamentAuction
	s.auctions[state.TournamentID] = state.Clone()
	return nil
}

func (s *MemoryStore) SaveAuction(_ context.Context, state *model.AuctionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auctions[state.TournamentID] = state.Clone()
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, tournamentID string) (*model.AuctionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.auctions[tournamentID]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", tournamentID, ErrNotFound)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) ListRunningAuctions(_ context.Context) ([]model.AuctionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AuctionState
	for _, st := range s.auctions {
		if st.Status == model.AuctionRunning {
			out = append(out, *st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TournamentID < out[j].TournamentID })
	return out, nil
}

func (s *MemoryStore) FinishAuction(_ context.Context, state *model.AuctionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tournaments[state.TournamentID]; ok {
		t.Status = model.TournamentActive
	}
	s.auctions[state.TournamentID] = state.Clone()
	return nil
}

func (s *MemoryStore) RecordBid(_ context.Context, bid *model.BidEvent, state *model.AuctionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bids = append(s.bids, *bid)
	s.auctions[state.TournamentID] = state.Clone()
	return nil
}

func (s *MemoryStore) ListBids(_ context.Context, tournamentID string) ([]model.BidEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BidEvent
	for _, b := range s.bids {
		if b.TournamentID == tournamentID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) RecordSettlement(_ context.Context, state *model.AuctionState, ownership *model.Ownership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ownership != nil {
		for _, o := range s.ownership {
			if o.TournamentID == ownership.TournamentID && o.TeamID == ownership.TeamID {
				return fmt.Errorf("team %s: %w", ownership.TeamID, ErrOwnershipExists)
			}
		}
		s.ownership = append(s.ownership, *ownership)
	}
	s.auctions[state.TournamentID] = state.Clone()
	return nil
}

func (s *MemoryStore) ListOwnership(_ context.Context, tournamentID string) ([]model.Ownership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Ownership
	for _, o := range s.ownership {
		if o.TournamentID == tournamentID {
			result = append(result, o)
		}
	}
	return result, nil
}

func (s *MemoryStore) AppendChat(_ context.Context, msg *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chat = append(s.chat, *msg)
	return nil
}

func (s *MemoryStore) ListChat(_ context.Context, tournamentID string) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ChatMessage
	for _, m := range s.chat {
		if m.TournamentID == tournamentID {
			result = append(result, m)
		}
	}
	return result, nil
}

func copyTournament(t *model.Tournament) *model.Tournament {
	out := *t
	out.Participants = append([]string(nil), t.Participants...)
	out.TeamQueue = append([]string(nil), t.TeamQueue...)
	return &out
}
