package auction

import (
	"time"

	"github.com/bidroom/auction-engine/internal/ledger"
	"github.com/bidroom/auction-engine/internal/model"
)

// ValidateBid decides whether participantID may bid amount against st at
// server time now. Rules are applied in order and the first failure is
// returned:
//
//  1. a team is open for bidding and its deadline has not passed
//  2. amount is a positive multiple of the bid increment
//  3. amount beats the standing bid, or meets the minimum bid if none
//  4. the bidder is not already the high bidder, unless allowSelfRaise
//  5. the ledger's reserve check passes
//
// ValidateBid never mutates st or l.
func ValidateBid(st *model.AuctionState, l *ledger.Ledger, now time.Time, participantID string, amount int64, allowSelfRaise bool) error {
	if st == nil || st.Status != model.AuctionRunning || st.Phase != model.PhaseAwaitingBids ||
		st.CurrentTeamID == "" || now.After(st.BiddingDeadline) {
		return ErrNoActiveAuction
	}

	if amount <= 0 || (st.BidIncrement > 0 && amount%st.BidIncrement != 0) {
		return ErrInvalidIncrement
	}

	if hb := st.CurrentHighBid; hb != nil {
		if amount <= hb.Amount {
			return ErrBidTooLow
		}
	} else if amount < st.MinimumBid {
		return ErrBidTooLow
	}

	if !allowSelfRaise && st.CurrentHighBid != nil && st.CurrentHighBid.ParticipantID == participantID {
		return ErrAlreadyHighBidder
	}

	return l.ReserveCheck(participantID, amount)
}
