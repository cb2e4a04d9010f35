package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bidroom/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for directory lookups. Writes go to the primary store and
// invalidate the cache; auction state, bids and ownership are never cached
// because the engine is their only writer and holds them in memory.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	data, err := s.rdb.Get(ctx, tournamentKey(id)).Bytes()
	if err == nil {
		var t model.Tournament
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	// Cache miss: read from primary.
	t, err := s.Store.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(t); err == nil {
		if err := s.rdb.Set(ctx, tournamentKey(id), data, s.ttl).Err(); err != nil {
			slog.Warn("tournament cache write failed", "tournament", id, "err", err)
		}
	}
	return t, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SetTournamentStatus(ctx context.Context, id string, status model.TournamentStatus) error {
	if err := s.Store.SetTournamentStatus(ctx, id, status); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedStore) StartAuction(ctx context.Context, state *model.AuctionState) error {
	if err := s.Store.StartAuction(ctx, state); err != nil {
		return err
	}
	s.invalidate(ctx, state.TournamentID)
	return nil
}

func (s *CachedStore) FinishAuction(ctx context.Context, state *model.AuctionState) error {
	if err := s.Store.FinishAuction(ctx, state); err != nil {
		return err
	}
	s.invalidate(ctx, state.TournamentID)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.rdb.Del(ctx, tournamentKey(id)).Err(); err != nil {
		slog.Warn("tournament cache invalidation failed", "tournament", id, "err", err)
	}
}

func tournamentKey(id string) string { return fmt.Sprintf("tournament:%s", id) }
