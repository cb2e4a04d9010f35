package auction

import (
	"errors"

	"github.com/bidroom/auction-engine/internal/ledger"
)

var (
	// ErrNoActiveAuction is returned when no team is open for bidding, either
	// because the auction is not running or because the round's deadline has
	// already passed on the server clock.
	ErrNoActiveAuction = errors.New("auction: no active auction")

	// ErrInvalidIncrement is returned when an amount is not a positive
	// multiple of the bid increment.
	ErrInvalidIncrement = errors.New("auction: amount is not a valid bid increment")

	// ErrBidTooLow is returned when an amount does not beat the standing bid,
	// or is under the minimum bid for an opening bid.
	ErrBidTooLow = errors.New("auction: bid too low")

	// ErrAlreadyHighBidder is returned when the standing high bidder tries
	// to raise their own bid and self-raising is disabled.
	ErrAlreadyHighBidder = errors.New("auction: already the high bidder")

	ErrNotAuthorized         = errors.New("auction: requestor is not the tournament organizer")
	ErrNotEnoughParticipants = errors.New("auction: not enough participants")
	ErrNotParticipant        = errors.New("auction: not a tournament participant")
	ErrAuctionAlreadyStarted = errors.New("auction: auction already started for this tournament")
	ErrEmptyTeamQueue        = errors.New("auction: tournament has no teams to auction")
	ErrTournamentNotFound    = errors.New("auction: tournament not found")
	ErrInvalidMessage        = errors.New("auction: chat message must be 1-500 characters")

	// ErrAuctionHalted is returned for any mutation of an auction that was
	// stopped by a consistency fault and awaits manual intervention.
	ErrAuctionHalted = errors.New("auction: auction halted")

	// ErrConsistencyFault marks an internal invariant violation. The
	// tournament's auction is halted when one occurs.
	ErrConsistencyFault = errors.New("auction: consistency fault")
)

// Kind classifies engine errors for callers.
type Kind string

const (
	KindValidation Kind = "validation" // bad bid or request; no state changed
	KindState      Kind = "state"      // operation not allowed in the current state
	KindFault      Kind = "fault"      // internal failure
)

// codes maps sentinel errors to the stable reason codes reported to clients.
// Faults come first so a fault wrapping a ledger error stays a fault.
var codes = []struct {
	err  error
	code string
	kind Kind
}{
	{ErrConsistencyFault, "consistency_fault", KindFault},
	{ErrInvalidIncrement, "invalid_increment", KindValidation},
	{ErrBidTooLow, "bid_too_low", KindValidation},
	{ErrAlreadyHighBidder, "already_high_bidder", KindValidation},
	{ErrInvalidMessage, "invalid_message", KindValidation},
	{ledger.ErrInsufficientFunds, "insufficient_funds", KindValidation},
	{ledger.ErrWouldStarveFutureRounds, "would_starve_future_rounds", KindValidation},
	{ledger.ErrSquadAlreadyFull, "squad_already_full", KindValidation},
	{ledger.ErrUnknownParticipant, "not_a_participant", KindValidation},
	{ErrNotParticipant, "not_a_participant", KindValidation},

	{ErrNoActiveAuction, "no_active_auction", KindState},
	{ErrAuctionHalted, "auction_halted", KindState},
	{ErrNotAuthorized, "not_authorized", KindState},
	{ErrNotEnoughParticipants, "not_enough_participants", KindState},
	{ErrAuctionAlreadyStarted, "auction_already_started", KindState},
	{ErrEmptyTeamQueue, "empty_team_queue", KindState},
	{ErrTournamentNotFound, "tournament_not_found", KindState},
	{ledger.ErrBudgetBelowReserve, "budget_below_reserve", KindState},
}

// Code returns the reason code for err, or "internal_error" for errors the
// engine does not recognize.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}

// KindOf classifies err. Unrecognized errors are faults.
func KindOf(err error) Kind {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindFault
}
