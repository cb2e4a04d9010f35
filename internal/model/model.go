// Package model defines the core domain types shared across the auction engine.
// All monetary values are int64 amounts in the smallest currency unit
// (pence). Never float64 for money.
package model

import "time"

// TournamentStatus is the directory-level lifecycle of a tournament.
type TournamentStatus string

const (
	TournamentPending  TournamentStatus = "pending"
	TournamentAuction  TournamentStatus = "auction_active"
	TournamentActive   TournamentStatus = "tournament_active"
	TournamentComplete TournamentStatus = "completed"
)

// Tournament is the read-only directory view the engine needs at auction
// start. It is owned by the external tournament/team/user catalog.
type Tournament struct {
	ID                   string           `json:"id" db:"id"`
	Name                 string           `json:"name" db:"name"`
	OrganizerID          string           `json:"organizer_id" db:"organizer_id"`
	Status               TournamentStatus `json:"status" db:"status"`
	Participants         []string         `json:"participants"`
	TeamQueue            []string         `json:"team_queue"`
	BudgetPerParticipant int64            `json:"budget_per_participant" db:"budget_per_participant"`
	TeamsPerParticipant  int              `json:"teams_per_participant" db:"teams_per_participant"`
	MinimumBid           int64            `json:"minimum_bid" db:"minimum_bid"`
	BidIncrement         int64            `json:"bid_increment" db:"bid_increment"`       // 0 → any positive amount
	MinParticipants      int              `json:"min_participants" db:"min_participants"` // 0 → engine default
}

// AuctionStatus is the top-level state of a tournament auction.
type AuctionStatus string

const (
	AuctionInactive AuctionStatus = "inactive"
	AuctionRunning  AuctionStatus = "running"
	AuctionEnded    AuctionStatus = "ended"
)

// RoundPhase is the sub-state of a running auction for the current team.
type RoundPhase string

const (
	PhaseAwaitingBids RoundPhase = "awaiting_bids"
	PhaseSettling     RoundPhase = "settling"
)

// HighBid is the standing winning bid for the current team.
type HighBid struct {
	ParticipantID string    `json:"participant_id"`
	Amount        int64     `json:"amount"`
	PlacedAt      time.Time `json:"placed_at"`
}

// BudgetRecord is one participant's remaining budget and squad size.
// RemainingBudget only decreases and OwnedTeamCount only increases.
type BudgetRecord struct {
	ParticipantID   string   `json:"participant_id"`
	RemainingBudget int64    `json:"remaining_budget"`
	OwnedTeamCount  int      `json:"owned_team_count"`
	TotalSpent      int64    `json:"total_spent"`
	OwnedTeams      []string `json:"owned_teams"`
}

// AuctionState is the authoritative, persistable state of one tournament's
// auction. It is enough to resume the auction after a restart.
type AuctionState struct {
	TournamentID        string         `json:"tournament_id"`
	OrganizerID         string         `json:"organizer_id"`
	Status              AuctionStatus  `json:"status"`
	Phase               RoundPhase     `json:"phase,omitempty"`
	TeamQueue           []string       `json:"team_queue"`
	CurrentTeamID       string         `json:"current_team_id,omitempty"`
	CurrentHighBid      *HighBid       `json:"current_high_bid,omitempty"`
	BiddingDeadline     time.Time      `json:"bidding_deadline"`
	Budgets             []BudgetRecord `json:"budgets"`
	Requeued            []string       `json:"requeued,omitempty"`
	TeamsPerParticipant int            `json:"teams_per_participant"`
	MinimumBid          int64          `json:"minimum_bid"`
	BidIncrement        int64          `json:"bid_increment"`
	SettledCount        int            `json:"settled_count"`
	LastBidAt           time.Time      `json:"last_bid_at"`
	Seq                 uint64         `json:"seq"`
	TimerReset          bool           `json:"timer_reset,omitempty"` // cleared by the next bid or round
	Halted              bool           `json:"halted,omitempty"`
	HaltReason          string         `json:"halt_reason,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Clone returns a deep copy that shares no slices with s.
func (s *AuctionState) Clone() *AuctionState {
	out := *s
	out.TeamQueue = append([]string(nil), s.TeamQueue...)
	out.Requeued = append([]string(nil), s.Requeued...)
	if s.CurrentHighBid != nil {
		hb := *s.CurrentHighBid
		out.CurrentHighBid = &hb
	}
	out.Budgets = make([]BudgetRecord, len(s.Budgets))
	for i, b := range s.Budgets {
		out.Budgets[i] = b
		out.Budgets[i].OwnedTeams = append([]string(nil), b.OwnedTeams...)
	}
	return &out
}

// BidEvent is an immutable record of an accepted bid.
// Once created, these are never modified or deleted.
type BidEvent struct {
	ID            string    `json:"id" db:"id"`
	TournamentID  string    `json:"tournament_id" db:"tournament_id"`
	TeamID        string    `json:"team_id" db:"team_id"`
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}

// Ownership is the write-once final ownership record of a sold team.
type Ownership struct {
	ID            string    `json:"id" db:"id"`
	TournamentID  string    `json:"tournament_id" db:"tournament_id"`
	TeamID        string    `json:"team_id" db:"team_id"`
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	Price         int64     `json:"price" db:"price"`
	SoldAt        time.Time `json:"sold_at" db:"sold_at"`
}

// ChatMessage is a relayed chat line from a tournament participant.
type ChatMessage struct {
	ID            string    `json:"id" db:"id"`
	TournamentID  string    `json:"tournament_id" db:"tournament_id"`
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	Text          string    `json:"text" db:"text"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}

// Squad aggregates one participant's acquisitions for a tournament.
type Squad struct {
	ParticipantID   string   `json:"participant_id"`
	Teams           []string `json:"teams"`
	TotalSpent      int64    `json:"total_spent"`
	RemainingBudget int64    `json:"remaining_budget"`
	MaxBid          int64    `json:"max_bid"` // largest bid the reserve rule admits now
}
