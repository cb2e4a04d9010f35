// Package ledger implements the per-tournament budget ledger: each
// participant's remaining budget and acquired-team count.
//
// The ledger enforces the reserve rule. A participant who still has to fill
// k more squad slots after winning the current team must keep at least
// minimumBid * k in reserve, so no bid can leave them unable to complete
// their squad at minimum prices.
//
// The ledger does no I/O and no locking; the owning auction serializes
// access to it.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bidroom/auction-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a bid exceeds the remaining budget.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrWouldStarveFutureRounds is returned when a bid would leave too
	// little budget to buy the remaining required teams at the minimum bid.
	ErrWouldStarveFutureRounds = errors.New("ledger: bid would starve future rounds")

	// ErrSquadAlreadyFull is returned when the participant already owns
	// teamsPerParticipant teams.
	ErrSquadAlreadyFull = errors.New("ledger: squad already full")

	// ErrUnknownParticipant is returned for participants not in the ledger.
	ErrUnknownParticipant = errors.New("ledger: unknown participant")

	// ErrBudgetBelowReserve is returned by New when the starting budget
	// cannot cover a full squad at the minimum bid.
	ErrBudgetBelowReserve = errors.New("ledger: budget cannot cover a full squad at minimum bid")
)

// Ledger tracks budget records for one tournament.
type Ledger struct {
	teamsPerParticipant int
	minimumBid          int64
	records             map[string]*model.BudgetRecord
	order               []string
}

// New creates a ledger where every participant starts with budget and no
// teams. It fails if budget < minimumBid * teamsPerParticipant, because
// the reserve invariant would be violated from the first round.
func New(participants []string, budget int64, teamsPerParticipant int, minimumBid int64) (*Ledger, error) {
	if teamsPerParticipant < 1 {
		return nil, fmt.Errorf("ledger: teams per participant must be positive, got %d", teamsPerParticipant)
	}
	if minimumBid < 0 || budget < 0 {
		return nil, fmt.Errorf("ledger: negative budget or minimum bid")
	}
	if budget < minimumBid*int64(teamsPerParticipant) {
		return nil, fmt.Errorf("%w: budget %d < %d x %d", ErrBudgetBelowReserve, budget, minimumBid, teamsPerParticipant)
	}

	records := make([]model.BudgetRecord, 0, len(participants))
	for _, id := range participants {
		records = append(records, model.BudgetRecord{
			ParticipantID:   id,
			RemainingBudget: budget,
		})
	}
	return Restore(records, teamsPerParticipant, minimumBid), nil
}

// Restore rebuilds a ledger from persisted records.
func Restore(records []model.BudgetRecord, teamsPerParticipant int, minimumBid int64) *Ledger {
	l := &Ledger{
		teamsPerParticipant: teamsPerParticipant,
		minimumBid:          minimumBid,
		records:             make(map[string]*model.BudgetRecord, len(records)),
	}
	for _, r := range records {
		if _, dup := l.records[r.ParticipantID]; dup {
			continue
		}
		rec := r
		rec.OwnedTeams = append([]string(nil), r.OwnedTeams...)
		l.records[r.ParticipantID] = &rec
		l.order = append(l.order, r.ParticipantID)
	}
	return l
}

// ReserveCheck reports whether participantID may bid amount for the team
// currently up. It returns nil when admissible, or one of
// ErrUnknownParticipant, ErrSquadAlreadyFull, ErrInsufficientFunds,
// ErrWouldStarveFutureRounds.
func (l *Ledger) ReserveCheck(participantID string, amount int64) error {
	rec, ok := l.records[participantID]
	if !ok {
		return ErrUnknownParticipant
	}
	if rec.OwnedTeamCount >= l.teamsPerParticipant {
		return ErrSquadAlreadyFull
	}
	if amount > rec.RemainingBudget {
		return ErrInsufficientFunds
	}
	if rec.RemainingBudget-amount < l.reserveAfterWin(rec) {
		return ErrWouldStarveFutureRounds
	}
	return nil
}

// Commit records that participantID won a team for amount. It re-checks
// the reserve rule; a failure here means the caller bypassed validation.
func (l *Ledger) Commit(participantID, teamID string, amount int64) error {
	if err := l.ReserveCheck(participantID, amount); err != nil {
		return fmt.Errorf("commit %s for %d: %w", participantID, amount, err)
	}
	rec := l.records[participantID]
	rec.RemainingBudget -= amount
	rec.TotalSpent += amount
	rec.OwnedTeamCount++
	rec.OwnedTeams = append(rec.OwnedTeams, teamID)
	return nil
}

// MaxBid returns the largest amount ReserveCheck would currently admit for
// participantID, or 0 if none.
func (l *Ledger) MaxBid(participantID string) int64 {
	rec, ok := l.records[participantID]
	if !ok || rec.OwnedTeamCount >= l.teamsPerParticipant {
		return 0
	}
	limit := rec.RemainingBudget - l.reserveAfterWin(rec)
	if limit < 0 {
		return 0
	}
	return limit
}

// CanStillBuy reports whether any participant has an open squad slot and
// can afford the minimum bid.
func (l *Ledger) CanStillBuy() bool {
	for _, id := range l.order {
		rec := l.records[id]
		if rec.OwnedTeamCount < l.teamsPerParticipant && l.MaxBid(id) >= l.minimumBid {
			return true
		}
	}
	return false
}

// Record returns a copy of one participant's record.
func (l *Ledger) Record(participantID string) (model.BudgetRecord, bool) {
	rec, ok := l.records[participantID]
	if !ok {
		return model.BudgetRecord{}, false
	}
	out := *rec
	out.OwnedTeams = append([]string(nil), rec.OwnedTeams...)
	return out, true
}

// Records returns copies of all records in participant join order.
func (l *Ledger) Records() []model.BudgetRecord {
	out := make([]model.BudgetRecord, 0, len(l.order))
	for _, id := range l.order {
		r, _ := l.Record(id)
		out = append(out, r)
	}
	return out
}

// Clone returns an independent copy, used to stage a settlement before it
// is persisted.
func (l *Ledger) Clone() *Ledger {
	return Restore(l.Records(), l.teamsPerParticipant, l.minimumBid)
}

// Has reports whether participantID is part of this ledger.
func (l *Ledger) Has(participantID string) bool {
	_, ok := l.records[participantID]
	return ok
}

// Squads summarizes every participant's acquisitions, sorted by
// participant ID for stable output.
func (l *Ledger) Squads() []model.Squad {
	squads := make([]model.Squad, 0, len(l.order))
	for _, id := range l.order {
		rec := l.records[id]
		squads = append(squads, model.Squad{
			ParticipantID:   id,
			Teams:           append([]string{}, rec.OwnedTeams...),
			TotalSpent:      rec.TotalSpent,
			RemainingBudget: rec.RemainingBudget,
			MaxBid:          l.MaxBid(id),
		})
	}
	sort.Slice(squads, func(i, j int) bool { return squads[i].ParticipantID < squads[j].ParticipantID })
	return squads
}

// reserveAfterWin is the budget that must remain after winning one more
// team: the minimum bid for every slot still open after that win.
func (l *Ledger) reserveAfterWin(rec *model.BudgetRecord) int64 {
	open := l.teamsPerParticipant - rec.OwnedTeamCount - 1
	if open <= 0 {
		return 0
	}
	return l.minimumBid * int64(open)
}
