package auction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bidroom/auction-engine/internal/broadcast"
	"github.com/bidroom/auction-engine/internal/ledger"
	"github.com/bidroom/auction-engine/internal/metrics"
	"github.com/bidroom/auction-engine/internal/model"
	"github.com/bidroom/auction-engine/internal/timer"
)

const (
	maxChatLength = 500

	// timerPersistTimeout bounds store writes made from timer callbacks,
	// which have no request context.
	timerPersistTimeout = 5 * time.Second
)

// Auction is one tournament's running auction. All fields are guarded by mu.
type Auction struct {
	engine *Engine

	mu     sync.Mutex
	state  *model.AuctionState
	ledger *ledger.Ledger
	timer  *timer.Driver
	topic  *broadcast.Topic
}

// PlaceBid validates participantID's bid and, if admissible, persists it,
// makes it the standing high bid, applies the anti-snipe extension and
// publishes new_bid. A rejected bid changes nothing.
func (a *Auction) PlaceBid(ctx context.Context, participantID string, amount int64) (*model.BidEvent, error) {
	start := time.Now()
	defer func() { metrics.BidLatency.Observe(time.Since(start).Seconds()) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	opts := a.engine.opts
	now := opts.Clock.Now()

	var err error
	if a.state.Halted {
		err = ErrAuctionHalted
	} else {
		err = ValidateBid(a.state, a.ledger, now, participantID, amount, opts.AllowSelfRaise)
	}
	if err != nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		metrics.BidRejections.WithLabelValues(Code(err)).Inc()
		slog.Debug("bid rejected",
			"tournament", a.state.TournamentID,
			"team", a.state.CurrentTeamID,
			"participant", participantID,
			"amount", amount,
			"code", Code(err),
		)
		return nil, err
	}

	// Bid timestamps are strictly increasing within a tournament even if
	// the wall clock stalls or steps back. They step in microseconds, the
	// resolution Postgres keeps.
	ts := now.Truncate(time.Microsecond)
	if !ts.After(a.state.LastBidAt) {
		ts = a.state.LastBidAt.Add(time.Microsecond)
	}

	next := a.state.Clone()
	next.CurrentHighBid = &model.HighBid{
		ParticipantID: participantID,
		Amount:        amount,
		PlacedAt:      ts,
	}
	next.LastBidAt = ts
	next.TimerReset = false
	next.UpdatedAt = now
	next.Seq++

	extended := false
	if opts.SnipeExtension > 0 && next.BiddingDeadline.Sub(now) <= opts.SnipeThreshold {
		if candidate := now.Add(opts.SnipeExtension); candidate.After(next.BiddingDeadline) {
			next.BiddingDeadline = candidate
			extended = true
		}
	}

	bid := &model.BidEvent{
		ID:            uuid.New().String(),
		TournamentID:  next.TournamentID,
		TeamID:        next.CurrentTeamID,
		ParticipantID: participantID,
		Amount:        amount,
		Timestamp:     ts,
	}

	if err := a.engine.store.RecordBid(ctx, bid, next); err != nil {
		metrics.BidsTotal.WithLabelValues("error").Inc()
		slog.Error("persist bid failed",
			"tournament", next.TournamentID,
			"team", next.CurrentTeamID,
			"participant", participantID,
			"err", err,
		)
		return nil, fmt.Errorf("persist bid: %w", err)
	}

	a.state = next
	if extended {
		a.timer.Rearm(next.BiddingDeadline)
	}

	a.publishLocked(broadcast.Event{
		Type:          broadcast.EventNewBid,
		Seq:           next.Seq,
		TeamID:        next.CurrentTeamID,
		ParticipantID: participantID,
		Amount:        amount,
		Deadline:      deadlinePtr(next.BiddingDeadline),
	})

	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	slog.Info("bid accepted",
		"tournament", next.TournamentID,
		"team", next.CurrentTeamID,
		"participant", participantID,
		"amount", amount,
		"deadline", next.BiddingDeadline,
		"extended", extended,
	)
	return bid, nil
}

// ResetTimer gives the current round a deadline of now + ResetDuration
// without touching the standing bid. A second reset before any bid or
// round change is a no-op, so repeated calls have the effect of one.
func (a *Auction) ResetTimer(ctx context.Context, requestorID string) (*model.AuctionState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if requestorID != a.state.OrganizerID {
		return nil, ErrNotAuthorized
	}
	if a.state.Halted {
		return nil, ErrAuctionHalted
	}
	if a.state.Status != model.AuctionRunning || a.state.Phase != model.PhaseAwaitingBids {
		return nil, ErrNoActiveAuction
	}
	if a.state.TimerReset {
		slog.Info("timer reset ignored, already reset this round",
			"tournament", a.state.TournamentID,
			"team", a.state.CurrentTeamID,
			"deadline", a.state.BiddingDeadline,
		)
		return a.state.Clone(), nil
	}

	now := a.engine.opts.Clock.Now()
	next := a.state.Clone()
	next.BiddingDeadline = now.Add(a.engine.opts.ResetDuration)
	next.TimerReset = true
	next.UpdatedAt = now
	next.Seq++

	if err := a.engine.store.SaveAuction(ctx, next); err != nil {
		return nil, fmt.Errorf("persist timer reset: %w", err)
	}

	a.state = next
	// Arm rather than Rearm: a wedged round may have no live timer at all.
	a.armLocked()

	a.publishLocked(broadcast.Event{
		Type:     broadcast.EventTimerReset,
		Seq:      next.Seq,
		TeamID:   next.CurrentTeamID,
		Deadline: deadlinePtr(next.BiddingDeadline),
	})

	metrics.TimerResets.Inc()
	slog.Info("timer reset",
		"tournament", next.TournamentID,
		"team", next.CurrentTeamID,
		"requestor", requestorID,
		"deadline", next.BiddingDeadline,
	)
	return next.Clone(), nil
}

// Subscribe attaches a subscriber whose first event is a snapshot taken
// under the auction lock, so no event can fall between the snapshot and
// the first incremental event.
func (a *Auction) Subscribe() *broadcast.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.topic.Subscribe(snapshotEvent(a.state, a.engine.opts.Clock.Now()))
}

// Snapshot returns a copy of the current state.
func (a *Auction) Snapshot() *model.AuctionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Squads summarizes the ledger.
func (a *Auction) Squads() []model.Squad {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Squads()
}

// PostChat relays a message from a participant or the organizer.
func (a *Auction) PostChat(ctx context.Context, participantID, text string) (*model.ChatMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, err := newChatMessage(a.state.TournamentID, participantID, text, a.engine.opts.Clock.Now())
	if err != nil {
		return nil, err
	}
	if participantID != a.state.OrganizerID && !a.ledger.Has(participantID) {
		return nil, ErrNotParticipant
	}
	if err := a.engine.store.AppendChat(ctx, msg); err != nil {
		return nil, fmt.Errorf("append chat: %w", err)
	}

	a.state.Seq++
	a.publishLocked(chatEvent(msg, a.state.Seq))
	return msg, nil
}

// armLocked schedules settlement at the current deadline.
func (a *Auction) armLocked() {
	a.timer.Arm(a.state.BiddingDeadline, a.onTimer)
}

// onTimer runs when a round deadline passes. Expiries superseded by a
// rearm are discarded here, under the auction lock, so a settlement can
// never race a bid that extended the deadline.
func (a *Auction) onTimer(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.timer.Generation() || a.state.Status != model.AuctionRunning || a.state.Halted {
		metrics.TimerFires.WithLabelValues("stale").Inc()
		return
	}

	// The runtime timer can fire marginally early relative to the wall
	// clock; the persisted deadline is authoritative.
	if now := a.engine.opts.Clock.Now(); now.Before(a.state.BiddingDeadline) {
		metrics.TimerFires.WithLabelValues("early").Inc()
		a.timer.Rearm(a.state.BiddingDeadline)
		return
	}

	metrics.TimerFires.WithLabelValues("settled").Inc()
	a.settleLocked()
}

// haltLocked stops the auction after a consistency fault. In-memory state
// keeps its pre-settlement values; nothing from the failed step is applied.
func (a *Auction) haltLocked(cause error) {
	a.timer.Stop()
	a.state.Halted = true
	a.state.HaltReason = cause.Error()
	a.state.Seq++
	a.state.UpdatedAt = a.engine.opts.Clock.Now()

	metrics.Halts.WithLabelValues(Code(cause)).Inc()
	slog.Error("auction halted",
		"tournament", a.state.TournamentID,
		"team", a.state.CurrentTeamID,
		"err", cause,
	)

	ctx, cancel := context.WithTimeout(context.Background(), timerPersistTimeout)
	defer cancel()
	if err := a.engine.store.SaveAuction(ctx, a.state); err != nil {
		// The persisted state is still the last good one; a restart resumes
		// from it.
		slog.Error("persist halt flag failed", "tournament", a.state.TournamentID, "err", err)
	}

	a.publishLocked(broadcast.Event{
		Type:   broadcast.EventAuctionHalted,
		Seq:    a.state.Seq,
		TeamID: a.state.CurrentTeamID,
		Reason: Code(cause),
	})
}

func (a *Auction) publishLocked(ev broadcast.Event) {
	ev.TournamentID = a.state.TournamentID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.engine.opts.Clock.Now()
	}
	a.topic.Publish(ev)
}

func snapshotEvent(st *model.AuctionState, now time.Time) broadcast.Event {
	return broadcast.Event{
		Type:         broadcast.EventSnapshot,
		TournamentID: st.TournamentID,
		Seq:          st.Seq,
		Timestamp:    now,
		State:        st.Clone(),
	}
}

func newChatMessage(tournamentID, participantID, text string, now time.Time) (*model.ChatMessage, error) {
	if participantID == "" {
		return nil, ErrNotParticipant
	}
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n == 0 || n > maxChatLength {
		return nil, ErrInvalidMessage
	}
	return &model.ChatMessage{
		ID:            uuid.New().String(),
		TournamentID:  tournamentID,
		ParticipantID: participantID,
		Text:          text,
		Timestamp:     now,
	}, nil
}

func chatEvent(msg *model.ChatMessage, seq uint64) broadcast.Event {
	return broadcast.Event{
		Type:          broadcast.EventChatMessage,
		TournamentID:  msg.TournamentID,
		Seq:           seq,
		Timestamp:     msg.Timestamp,
		ParticipantID: msg.ParticipantID,
		Text:          msg.Text,
	}
}
