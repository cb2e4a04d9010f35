// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for directory lookups), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/bidroom/auction-engine/internal/model"
)

var (
	// ErrNotFound is returned when a tournament or auction does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrOwnershipExists is returned when a team already has a final owner.
	// Ownership records are write-once.
	ErrOwnershipExists = errors.New("store: team ownership already recorded")
)

// Directory is the read side of the external tournament/team/user catalog.
type Directory interface {
	// GetTournament returns the tournament with its participants and the
	// ordered team queue.
	GetTournament(ctx context.Context, id string) (*model.Tournament, error)

	// SetTournamentStatus moves the tournament through its lifecycle.
	SetTournamentStatus(ctx context.Context, id string, status model.TournamentStatus) error
}

// Store is the persistence interface. Every method that takes an
// AuctionState writes it atomically with its side effect, so the persisted
// state never disagrees with the bid log or the ownership records.
type Store interface {
	Directory

	// --- Auction state ---

	// StartAuction persists the initial state and marks the tournament
	// auction_active.
	StartAuction(ctx context.Context, state *model.AuctionState) error

	// SaveAuction overwrites the persisted state (timer resets, halts).
	SaveAuction(ctx context.Context, state *model.AuctionState) error

	// GetAuction returns the persisted state for a tournament.
	GetAuction(ctx context.Context, tournamentID string) (*model.AuctionState, error)

	// ListRunningAuctions returns every persisted auction still running.
	ListRunningAuctions(ctx context.Context) ([]model.AuctionState, error)

	// FinishAuction persists the ended state and marks the tournament
	// tournament_active.
	FinishAuction(ctx context.Context, state *model.AuctionState) error

	// --- Immutable bid log ---

	// RecordBid appends an accepted bid together with the new state.
	RecordBid(ctx context.Context, bid *model.BidEvent, state *model.AuctionState) error

	// ListBids returns accepted bids for a tournament in acceptance order.
	ListBids(ctx context.Context, tournamentID string) ([]model.BidEvent, error)

	// --- Settlement ---

	// RecordSettlement persists a finished round. ownership is nil when the
	// team went unsold.
	RecordSettlement(ctx context.Context, state *model.AuctionState, ownership *model.Ownership) error

	// ListOwnership returns final ownership records for a tournament.
	ListOwnership(ctx context.Context, tournamentID string) ([]model.Ownership, error)

	// --- Chat ---

	// AppendChat stores a relayed chat message.
	AppendChat(ctx context.Context, msg *model.ChatMessage) error

	// ListChat returns chat messages in timestamp order.
	ListChat(ctx context.Context, tournamentID string) ([]model.ChatMessage, error)
}
