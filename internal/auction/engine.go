// Package auction runs live team auctions: one serialized state machine per
// tournament that validates bids, drives the round timer, settles each team
// and publishes every transition to the tournament's event stream.
//
// Every mutation of a tournament's auction runs under that auction's mutex.
// Different tournaments never share a lock. The Engine's own lock only
// guards the registry of running auctions and is always acquired after an
// auction's lock, never before.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/bidroom/auction-engine/internal/broadcast"
	"github.com/bidroom/auction-engine/internal/config"
	"github.com/bidroom/auction-engine/internal/ledger"
	"github.com/bidroom/auction-engine/internal/metrics"
	"github.com/bidroom/auction-engine/internal/model"
	"github.com/bidroom/auction-engine/internal/store"
	"github.com/bidroom/auction-engine/internal/timer"
)

// Options tunes auction behavior.
type Options struct {
	RoundDuration   time.Duration
	SnipeThreshold  time.Duration // a bid with this much time left or less extends the deadline
	SnipeExtension  time.Duration // the deadline becomes at least bid time + SnipeExtension
	ResetDuration   time.Duration
	UnsoldPolicy    config.UnsoldPolicy
	AllowSelfRaise  bool
	MinParticipants int // used when the tournament does not set its own
	ShuffleTeams    bool

	// Clock defaults to the system clock.
	Clock timer.Clock
	// Shuffle reorders the team queue at start when ShuffleTeams is set.
	// Defaults to math/rand/v2.
	Shuffle func([]string)
}

// OptionsFromConfig builds engine options from loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RoundDuration:   cfg.RoundDuration,
		SnipeThreshold:  cfg.SnipeThreshold,
		SnipeExtension:  cfg.SnipeExtension,
		ResetDuration:   cfg.ResetDuration,
		UnsoldPolicy:    cfg.UnsoldPolicy,
		AllowSelfRaise:  cfg.AllowSelfRaise,
		MinParticipants: cfg.MinParticipants,
		ShuffleTeams:    cfg.ShuffleTeams,
	}
}

func (o Options) withDefaults() Options {
	if o.RoundDuration <= 0 {
		o.RoundDuration = 2 * time.Minute
	}
	if o.ResetDuration <= 0 {
		o.ResetDuration = 5 * time.Minute
	}
	if !o.UnsoldPolicy.Valid() {
		o.UnsoldPolicy = config.UnsoldDrop
	}
	if o.MinParticipants <= 0 {
		o.MinParticipants = 4
	}
	if o.Clock == nil {
		o.Clock = timer.SystemClock{}
	}
	if o.Shuffle == nil {
		o.Shuffle = func(ids []string) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		}
	}
	return o
}

// Engine owns every running auction.
type Engine struct {
	store store.Store
	hub   *broadcast.Hub
	opts  Options

	mu       sync.RWMutex
	auctions map[string]*Auction
	starting map[string]bool
}

// NewEngine creates an engine persisting to st and publishing on hub.
func NewEngine(st store.Store, hub *broadcast.Hub, opts Options) *Engine {
	return &Engine{
		store:    st,
		hub:      hub,
		opts:     opts.withDefaults(),
		auctions: make(map[string]*Auction),
		starting: make(map[string]bool),
	}
}

// StartAuction opens the tournament's auction. requestorID must be the
// tournament's organizer, the tournament must still be pending and it must
// have at least its minimum participant count.
func (e *Engine) StartAuction(ctx context.Context, tournamentID, requestorID string) (*model.AuctionState, error) {
	e.mu.Lock()
	if _, running := e.auctions[tournamentID]; running || e.starting[tournamentID] {
		e.mu.Unlock()
		return nil, ErrAuctionAlreadyStarted
	}
	e.starting[tournamentID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.starting, tournamentID)
		e.mu.Unlock()
	}()

	t, err := e.store.GetTournament(ctx, tournamentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTournamentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tournament %s: %w", tournamentID, err)
	}

	if t.OrganizerID != requestorID {
		return nil, ErrNotAuthorized
	}
	if t.Status != model.TournamentPending {
		return nil, ErrAuctionAlreadyStarted
	}
	minParticipants := t.MinParticipants
	if minParticipants <= 0 {
		minParticipants = e.opts.MinParticipants
	}
	if len(t.Participants) < minParticipants {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughParticipants, len(t.Participants), minParticipants)
	}
	if len(t.TeamQueue) == 0 {
		return nil, ErrEmptyTeamQueue
	}

	l, err := ledger.New(t.Participants, t.BudgetPerParticipant, t.TeamsPerParticipant, t.MinimumBid)
	if err != nil {
		return nil, err
	}

	queue := append([]string(nil), t.TeamQueue...)
	if e.opts.ShuffleTeams {
		e.opts.Shuffle(queue)
	}

	now := e.opts.Clock.Now()
	state := &model.AuctionState{
		TournamentID:        t.ID,
		OrganizerID:         t.OrganizerID,
		Status:              model.AuctionRunning,
		Phase:               model.PhaseAwaitingBids,
		CurrentTeamID:       queue[0],
		TeamQueue:           queue[1:],
		BiddingDeadline:     now.Add(e.opts.RoundDuration),
		Budgets:             l.Records(),
		TeamsPerParticipant: t.TeamsPerParticipant,
		MinimumBid:          t.MinimumBid,
		BidIncrement:        t.BidIncrement,
		Seq:                 1,
		UpdatedAt:           now,
	}

	if err := e.store.StartAuction(ctx, state); err != nil {
		return nil, fmt.Errorf("persist auction start %s: %w", tournamentID, err)
	}

	a := e.newAuction(state, l)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.armLocked()
	e.register(a)
	a.publishLocked(broadcast.Event{
		Type:     broadcast.EventAuctionStarted,
		Seq:      state.Seq,
		TeamID:   state.CurrentTeamID,
		Deadline: deadlinePtr(state.BiddingDeadline),
	})

	metrics.ActiveAuctions.Inc()
	slog.Info("auction started",
		"tournament", tournamentID,
		"participants", len(t.Participants),
		"teams", len(queue),
		"first_team", state.CurrentTeamID,
		"deadline", state.BiddingDeadline,
	)
	return state.Clone(), nil
}

// Recover reloads every persisted running auction and re-arms its timer.
// Auctions whose deadline passed while the process was down settle
// immediately. Halted auctions are loaded but stay halted.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	states, err := e.store.ListRunningAuctions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running auctions: %w", err)
	}

	n := 0
	for i := range states {
		st := &states[i]
		e.mu.RLock()
		_, exists := e.auctions[st.TournamentID]
		e.mu.RUnlock()
		if exists {
			continue
		}

		l := ledger.Restore(st.Budgets, st.TeamsPerParticipant, st.MinimumBid)
		a := e.newAuction(st.Clone(), l)

		a.mu.Lock()
		a.state.Phase = model.PhaseAwaitingBids
		if !a.state.Halted {
			a.armLocked()
		}
		e.register(a)
		a.mu.Unlock()

		metrics.ActiveAuctions.Inc()
		n++
		slog.Info("auction recovered",
			"tournament", st.TournamentID,
			"team", st.CurrentTeamID,
			"deadline", st.BiddingDeadline,
			"halted", st.Halted,
		)
	}
	return n, nil
}

// PlaceBid validates and accepts a bid for the team currently up.
func (e *Engine) PlaceBid(ctx context.Context, tournamentID, participantID string, amount int64) (*model.BidEvent, error) {
	a := e.lookup(tournamentID)
	if a == nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		metrics.BidRejections.WithLabelValues(Code(ErrNoActiveAuction)).Inc()
		return nil, ErrNoActiveAuction
	}
	return a.PlaceBid(ctx, participantID, amount)
}

// ResetTimer gives the current round a fresh deadline. Organizer only.
func (e *Engine) ResetTimer(ctx context.Context, tournamentID, requestorID string) (*model.AuctionState, error) {
	a := e.lookup(tournamentID)
	if a == nil {
		return nil, ErrNoActiveAuction
	}
	return a.ResetTimer(ctx, requestorID)
}

// Subscribe attaches to the tournament's event stream. The first event is
// always a snapshot of the current state.
func (e *Engine) Subscribe(ctx context.Context, tournamentID string) (*broadcast.Subscription, error) {
	if a := e.lookup(tournamentID); a != nil {
		return a.Subscribe(), nil
	}

	// The store is read without the registry lock held.
	st, err := e.persistedState(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if sub, ok := e.subscribePersisted(tournamentID, st, false); ok {
		return sub, nil
	}

	// Persisted as running but no longer registered: the auction finished
	// after the read, and its final state is stored by now.
	st, err = e.persistedState(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	sub, _ := e.subscribePersisted(tournamentID, st, true)
	return sub, nil
}

// subscribePersisted subscribes with st as the snapshot unless an auction
// registered since st was read, in which case the live auction serves the
// snapshot. The registry lock is held until the subscription exists, so a
// start registering now publishes auction_started to this subscriber. It
// reports false when st is a running state with no live auction behind it
// and final is not set.
func (e *Engine) subscribePersisted(tournamentID string, st *model.AuctionState, final bool) (*broadcast.Subscription, bool) {
	e.mu.RLock()
	if a, ok := e.auctions[tournamentID]; ok {
		e.mu.RUnlock()
		return a.Subscribe(), true
	}
	defer e.mu.RUnlock()

	if st.Status == model.AuctionRunning && !final {
		return nil, false
	}
	return e.hub.Topic(tournamentID).Subscribe(snapshotEvent(st, e.opts.Clock.Now())), true
}

// Snapshot returns the current auction state: live if running, otherwise
// the last persisted state, or an inactive state for a tournament whose
// auction never started.
func (e *Engine) Snapshot(ctx context.Context, tournamentID string) (*model.AuctionState, error) {
	if a := e.lookup(tournamentID); a != nil {
		return a.Snapshot(), nil
	}
	return e.persistedState(ctx, tournamentID)
}

// Squads summarizes every participant's acquisitions and remaining budget.
func (e *Engine) Squads(ctx context.Context, tournamentID string) ([]model.Squad, error) {
	if a := e.lookup(tournamentID); a != nil {
		return a.Squads(), nil
	}
	st, err := e.persistedState(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if st.Status == model.AuctionInactive {
		return []model.Squad{}, nil
	}
	return ledger.Restore(st.Budgets, st.TeamsPerParticipant, st.MinimumBid).Squads(), nil
}

// Squad returns one participant's squad. Before the auction starts no
// participant has one.
func (e *Engine) Squad(ctx context.Context, tournamentID, participantID string) (*model.Squad, error) {
	squads, err := e.Squads(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	for i := range squads {
		if squads[i].ParticipantID == participantID {
			return &squads[i], nil
		}
	}
	return nil, ErrNotParticipant
}

// Bids returns accepted bids in acceptance order.
func (e *Engine) Bids(ctx context.Context, tournamentID string) ([]model.BidEvent, error) {
	return e.store.ListBids(ctx, tournamentID)
}

// Ownership returns final ownership records.
func (e *Engine) Ownership(ctx context.Context, tournamentID string) ([]model.Ownership, error) {
	return e.store.ListOwnership(ctx, tournamentID)
}

// Chat returns relayed chat messages.
func (e *Engine) Chat(ctx context.Context, tournamentID string) ([]model.ChatMessage, error) {
	return e.store.ListChat(ctx, tournamentID)
}

// PostChat relays a participant's message to the tournament's stream and
// appends it to the chat log.
func (e *Engine) PostChat(ctx context.Context, tournamentID, participantID, text string) (*model.ChatMessage, error) {
	if a := e.lookup(tournamentID); a != nil {
		return a.PostChat(ctx, participantID, text)
	}

	msg, err := newChatMessage(tournamentID, participantID, text, e.opts.Clock.Now())
	if err != nil {
		return nil, err
	}
	t, err := e.store.GetTournament(ctx, tournamentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTournamentNotFound
	}
	if err != nil {
		return nil, err
	}
	if !isMember(t, participantID) {
		return nil, ErrNotParticipant
	}
	if err := e.store.AppendChat(ctx, msg); err != nil {
		return nil, fmt.Errorf("append chat: %w", err)
	}
	// No auction sequence outside a running auction.
	e.hub.Publish(tournamentID, chatEvent(msg, 0))
	return msg, nil
}

// Running returns the number of auctions this engine is driving.
func (e *Engine) Running() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.auctions)
}

// Shutdown stops every round timer. State is already persisted, so a later
// Recover resumes where the auctions left off.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	auctions := make([]*Auction, 0, len(e.auctions))
	for _, a := range e.auctions {
		auctions = append(auctions, a)
	}
	e.mu.RUnlock()

	for _, a := range auctions {
		a.timer.Stop()
	}
}

func (e *Engine) newAuction(st *model.AuctionState, l *ledger.Ledger) *Auction {
	return &Auction{
		engine: e,
		state:  st,
		ledger: l,
		timer:  timer.NewDriver(e.opts.Clock),
		topic:  e.hub.Topic(st.TournamentID),
	}
}

func (e *Engine) lookup(tournamentID string) *Auction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.auctions[tournamentID]
}

func (e *Engine) register(a *Auction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auctions[a.state.TournamentID] = a
}

func (e *Engine) unregister(tournamentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.auctions, tournamentID)
}

func (e *Engine) persistedState(ctx context.Context, tournamentID string) (*model.AuctionState, error) {
	st, err := e.store.GetAuction(ctx, tournamentID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	t, err := e.store.GetTournament(ctx, tournamentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTournamentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model.AuctionState{
		TournamentID:        t.ID,
		OrganizerID:         t.OrganizerID,
		Status:              model.AuctionInactive,
		TeamQueue:           append([]string{}, t.TeamQueue...),
		Budgets:             []model.BudgetRecord{},
		TeamsPerParticipant: t.TeamsPerParticipant,
		MinimumBid:          t.MinimumBid,
		BidIncrement:        t.BidIncrement,
	}, nil
}

func isMember(t *model.Tournament, participantID string) bool {
	if participantID == t.OrganizerID {
		return true
	}
	for _, p := range t.Participants {
		if p == participantID {
			return true
		}
	}
	return false
}

func deadlinePtr(t time.Time) *time.Time {
	return &t
}
