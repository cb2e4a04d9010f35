package auction

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bidroom/auction-engine/internal/config"
	"github.com/bidroom/auction-engine/internal/ledger"
	"github.com/bidroom/auction-engine/internal/model"
	"github.com/bidroom/auction-engine/internal/testutil"
)

var now = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func runningState() *model.AuctionState {
	return &model.AuctionState{
		TournamentID:        "t1",
		Status:              model.AuctionRunning,
		Phase:               model.PhaseAwaitingBids,
		CurrentTeamID:       "T1",
		TeamQueue:           []string{"T2"},
		BiddingDeadline:     now.Add(time.Minute),
		TeamsPerParticipant: 2,
		MinimumBid:          10,
		BidIncrement:        5,
	}
}

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New([]string{"p1", "p2"}, 100, 2, 10)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return l
}

func TestValidateBid_RuleOrder(t *testing.T) {
	l := newLedger(t)

	withHigh := func(pid string, amount int64) *model.AuctionState {
		st := runningState()
		st.CurrentHighBid = &model.HighBid{ParticipantID: pid, Amount: amount}
		return st
	}
	ended := runningState()
	ended.Status = model.AuctionEnded
	ended.CurrentTeamID = ""
	settling := runningState()
	settling.Phase = model.PhaseSettling

	tests := []struct {
		name   string
		st     *model.AuctionState
		at     time.Time
		pid    string
		amount int64
		want   error
	}{
		{"ok opening bid", runningState(), now, "p1", 10, nil},
		{"nil state", nil, now, "p1", 10, ErrNoActiveAuction},
		{"ended", ended, now, "p1", 10, ErrNoActiveAuction},
		{"settling", settling, now, "p1", 10, ErrNoActiveAuction},
		{"after deadline", runningState(), now.Add(time.Minute + time.Nanosecond), "p1", 10, ErrNoActiveAuction},
		{"at deadline", runningState(), now.Add(time.Minute), "p1", 10, nil},
		// Inactive beats every other problem with the bid.
		{"after deadline and bad increment", runningState(), now.Add(2 * time.Minute), "p1", 7, ErrNoActiveAuction},
		{"zero", runningState(), now, "p1", 0, ErrInvalidIncrement},
		{"negative", runningState(), now, "p1", -5, ErrInvalidIncrement},
		{"off increment", runningState(), now, "p1", 12, ErrInvalidIncrement},
		{"below minimum", runningState(), now, "p1", 5, ErrBidTooLow},
		{"equal to high", withHigh("p2", 20), now, "p1", 20, ErrBidTooLow},
		{"beats high", withHigh("p2", 20), now, "p1", 25, nil},
		// Too low is reported before self-raise.
		{"self raise too low", withHigh("p1", 20), now, "p1", 15, ErrBidTooLow},
		{"self raise", withHigh("p1", 20), now, "p1", 25, ErrAlreadyHighBidder},
		{"over budget", runningState(), now, "p1", 105, ledger.ErrInsufficientFunds},
		{"starves", runningState(), now, "p1", 95, ledger.ErrWouldStarveFutureRounds},
		{"unknown", runningState(), now, "ghost", 10, ledger.ErrUnknownParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBid(tt.st, l, tt.at, tt.pid, tt.amount, false)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected err %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateBid_SelfRaiseAllowed(t *testing.T) {
	st := runningState()
	st.CurrentHighBid = &model.HighBid{ParticipantID: "p1", Amount: 20}
	if err := ValidateBid(st, newLedger(t), now, "p1", 25, true); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateBid_NoIncrementAcceptsAnyPositive(t *testing.T) {
	st := runningState()
	st.BidIncrement = 0
	if err := ValidateBid(st, newLedger(t), now, "p1", 13, false); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateBid_DoesNotMutate(t *testing.T) {
	st := runningState()
	l := newLedger(t)
	before := fmt.Sprintf("%+v %+v", *st, l.Records())
	ValidateBid(st, l, now, "p1", 50, false)
	if after := fmt.Sprintf("%+v %+v", *st, l.Records()); after != before {
		t.Errorf("state changed:\n%s\n%s", before, after)
	}
}

func TestSettle_DoesNotMutateInputs(t *testing.T) {
	st := runningState()
	st.Budgets = newLedger(t).Records()
	st.CurrentHighBid = &model.HighBid{ParticipantID: "p1", Amount: 40}
	l := ledger.Restore(st.Budgets, 2, 10)

	s, err := settle(st, l, Options{Clock: testutil.NewManualClock(now), RoundDuration: time.Minute, UnsoldPolicy: config.UnsoldDrop})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if s.outcome.Kind != OutcomeSold || s.outcome.ParticipantID != "p1" || s.outcome.Amount != 40 {
		t.Errorf("outcome = %+v", s.outcome)
	}
	if s.ownership == nil || s.ownership.TeamID != "T1" {
		t.Errorf("ownership = %+v", s.ownership)
	}
	if rec, _ := l.Record("p1"); rec.RemainingBudget != 100 {
		t.Errorf("input ledger committed: %+v", rec)
	}
	if st.CurrentTeamID != "T1" || st.CurrentHighBid == nil {
		t.Error("input state advanced")
	}
	if s.next.CurrentTeamID != "T2" || s.next.CurrentHighBid != nil {
		t.Errorf("next = %q high %+v", s.next.CurrentTeamID, s.next.CurrentHighBid)
	}
	if rec, _ := s.ledger.Record("p1"); rec.RemainingBudget != 60 || rec.OwnedTeamCount != 1 {
		t.Errorf("staged ledger = %+v", rec)
	}
	if n := len(s.events); n != 2 || s.events[0].Seq != st.Seq+1 || s.next.Seq != st.Seq+2 {
		t.Errorf("events = %d, seqs %d..%d", n, s.events[0].Seq, s.next.Seq)
	}
}

func TestSettle_CommitFailureIsConsistencyFault(t *testing.T) {
	st := runningState()
	st.Budgets = newLedger(t).Records()
	// A standing bid the ledger cannot honor means validation was bypassed.
	st.CurrentHighBid = &model.HighBid{ParticipantID: "p1", Amount: 500}
	l := ledger.Restore(st.Budgets, 2, 10)

	_, err := settle(st, l, Options{Clock: testutil.NewManualClock(now), RoundDuration: time.Minute})
	if !errors.Is(err, ErrConsistencyFault) {
		t.Fatalf("err = %v, want ErrConsistencyFault", err)
	}
	if KindOf(err) != KindFault {
		t.Errorf("kind = %s, want fault", KindOf(err))
	}
}

func TestCodeAndKind(t *testing.T) {
	tests := []struct {
		err  error
		code string
		kind Kind
	}{
		{ErrBidTooLow, "bid_too_low", KindValidation},
		{fmt.Errorf("wrapped: %w", ledger.ErrInsufficientFunds), "insufficient_funds", KindValidation},
		{ErrNoActiveAuction, "no_active_auction", KindState},
		{ErrNotAuthorized, "not_authorized", KindState},
		{fmt.Errorf("%w: have 1, need 4", ErrNotEnoughParticipants), "not_enough_participants", KindState},
		{ErrAuctionHalted, "auction_halted", KindState},
		{errors.New("connection reset"), "internal_error", KindFault},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.kind)
		}
	}
}
