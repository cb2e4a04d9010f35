package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/bidroom/auction-engine/internal/broadcast"
	"github.com/bidroom/auction-engine/internal/config"
	"github.com/bidroom/auction-engine/internal/ledger"
	"github.com/bidroom/auction-engine/internal/metrics"
	"github.com/bidroom/auction-engine/internal/model"
	"github.com/bidroom/auction-engine/internal/store"
)

// OutcomeKind is the result of settling one round.
type OutcomeKind string

const (
	OutcomeSold     OutcomeKind = "sold"
	OutcomeUnsold   OutcomeKind = "unsold"   // dropped from the auction
	OutcomeRequeued OutcomeKind = "requeued" // unsold, back at the end of the queue
)

// Outcome describes a settled round.
type Outcome struct {
	Kind          OutcomeKind
	TeamID        string
	ParticipantID string // set when sold
	Amount        int64  // set when sold
}

// settlement is a fully staged round close: the outcome, the state after
// advancing, the ledger after committing, and the events to publish once
// the store has accepted it.
type settlement struct {
	outcome   Outcome
	next      *model.AuctionState
	ledger    *ledger.Ledger
	ownership *model.Ownership
	events    []broadcast.Event
}

// settle closes the current round from st and l without mutating either.
// It commits the high bid on a copy of the ledger, applies the unsold
// policy, advances to the next team, and ends the auction when the queue is
// exhausted or no participant can still buy. Teams left in the queue when
// nobody can buy are settled unsold.
func settle(st *model.AuctionState, l *ledger.Ledger, opts Options) (*settlement, error) {
	now := opts.Clock.Now()
	teamID := st.CurrentTeamID
	staged := l.Clone()
	next := st.Clone()
	s := &settlement{next: next, ledger: staged}

	seq := next.Seq
	emit := func(ev broadcast.Event) {
		seq++
		ev.Seq = seq
		ev.TournamentID = next.TournamentID
		ev.Timestamp = now
		s.events = append(s.events, ev)
	}

	if hb := st.CurrentHighBid; hb != nil {
		if err := staged.Commit(hb.ParticipantID, teamID, hb.Amount); err != nil {
			return nil, fmt.Errorf("%w: settle %s: %v", ErrConsistencyFault, teamID, err)
		}
		s.outcome = Outcome{Kind: OutcomeSold, TeamID: teamID, ParticipantID: hb.ParticipantID, Amount: hb.Amount}
		s.ownership = &model.Ownership{
			ID:            uuid.New().String(),
			TournamentID:  st.TournamentID,
			TeamID:        teamID,
			ParticipantID: hb.ParticipantID,
			Price:         hb.Amount,
			SoldAt:        now,
		}
		next.SettledCount++
		emit(broadcast.Event{
			Type:          broadcast.EventTeamSold,
			TeamID:        teamID,
			ParticipantID: hb.ParticipantID,
			Amount:        hb.Amount,
		})
	} else if opts.UnsoldPolicy == config.UnsoldRequeueOnce && !slices.Contains(st.Requeued, teamID) {
		s.outcome = Outcome{Kind: OutcomeRequeued, TeamID: teamID}
		next.TeamQueue = append(next.TeamQueue, teamID)
		next.Requeued = append(next.Requeued, teamID)
		emit(broadcast.Event{Type: broadcast.EventTeamUnsold, TeamID: teamID, Requeued: true})
	} else {
		s.outcome = Outcome{Kind: OutcomeUnsold, TeamID: teamID}
		next.SettledCount++
		emit(broadcast.Event{Type: broadcast.EventTeamUnsold, TeamID: teamID})
	}

	next.Budgets = staged.Records()
	next.CurrentHighBid = nil
	next.TimerReset = false
	next.UpdatedAt = now

	if len(next.TeamQueue) > 0 && !staged.CanStillBuy() {
		for _, leftover := range next.TeamQueue {
			next.SettledCount++
			emit(broadcast.Event{Type: broadcast.EventTeamUnsold, TeamID: leftover})
		}
		next.TeamQueue = []string{}
	}

	if len(next.TeamQueue) > 0 {
		next.CurrentTeamID = next.TeamQueue[0]
		next.TeamQueue = next.TeamQueue[1:]
		next.Phase = model.PhaseAwaitingBids
		next.BiddingDeadline = now.Add(opts.RoundDuration)
		emit(broadcast.Event{
			Type:     broadcast.EventAuctionStarted,
			TeamID:   next.CurrentTeamID,
			Deadline: deadlinePtr(next.BiddingDeadline),
		})
	} else {
		next.Status = model.AuctionEnded
		next.Phase = ""
		next.CurrentTeamID = ""
		emit(broadcast.Event{Type: broadcast.EventAuctionEnded})
	}

	next.Seq = seq
	return s, nil
}

// settleLocked closes the current round. The staged result is persisted
// before anything is applied; if staging or persistence fails the auction
// halts with its pre-settlement state intact.
func (a *Auction) settleLocked() {
	a.state.Phase = model.PhaseSettling

	s, err := settle(a.state, a.ledger, a.engine.opts)
	if err != nil {
		a.state.Phase = model.PhaseAwaitingBids
		a.haltLocked(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timerPersistTimeout)
	defer cancel()

	if err := a.engine.store.RecordSettlement(ctx, s.next, s.ownership); err != nil {
		a.state.Phase = model.PhaseAwaitingBids
		if errors.Is(err, store.ErrOwnershipExists) {
			err = fmt.Errorf("%w: duplicate settlement of %s: %v", ErrConsistencyFault, s.outcome.TeamID, err)
		} else {
			err = fmt.Errorf("%w: persist settlement of %s: %v", ErrConsistencyFault, s.outcome.TeamID, err)
		}
		a.haltLocked(err)
		return
	}

	a.state = s.next
	a.ledger = s.ledger
	for _, ev := range s.events {
		a.topic.Publish(ev)
	}

	metrics.Settlements.WithLabelValues(string(s.outcome.Kind)).Inc()
	slog.Info("round settled",
		"tournament", a.state.TournamentID,
		"team", s.outcome.TeamID,
		"outcome", s.outcome.Kind,
		"participant", s.outcome.ParticipantID,
		"amount", s.outcome.Amount,
	)

	if a.state.Status == model.AuctionRunning {
		a.armLocked()
		slog.Info("next team up",
			"tournament", a.state.TournamentID,
			"team", a.state.CurrentTeamID,
			"deadline", a.state.BiddingDeadline,
		)
		return
	}

	a.finishLocked(ctx)
}

// finishLocked tears down an ended auction: the tournament moves on in the
// directory, the event stream closes and the engine forgets the auction.
func (a *Auction) finishLocked(ctx context.Context) {
	a.timer.Stop()
	tournamentID := a.state.TournamentID

	if err := a.engine.store.FinishAuction(ctx, a.state); err != nil {
		// Ownership and the ended state are already persisted.
		slog.Error("mark tournament active failed", "tournament", tournamentID, "err", err)
	}

	a.engine.hub.Close(tournamentID)
	a.engine.unregister(tournamentID)
	metrics.ActiveAuctions.Dec()

	slog.Info("auction ended",
		"tournament", tournamentID,
		"settled", a.state.SettledCount,
	)
}
