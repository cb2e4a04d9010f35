package auction_test

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/bidroom/auction-engine/internal/broadcast"
	"github.com/bidroom/auction-engine/internal/model"
)

// TestProperty_AuctionInvariants drives random bid and timer sequences and
// checks, after every step, the reserve invariant and squad bounds, and at
// the end that bids per team strictly increase and every team settled once.
func TestProperty_AuctionInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nParticipants := rapid.IntRange(2, 4).Draw(rt, "participants")
		teamsPer := rapid.IntRange(1, 3).Draw(rt, "teamsPer")
		minBid := rapid.Int64Range(1, 10).Draw(rt, "minBid")
		budget := minBid*int64(teamsPer) + rapid.Int64Range(0, 100).Draw(rt, "extraBudget")
		nTeams := rapid.IntRange(1, 6).Draw(rt, "teams")

		participants := make([]string, nParticipants)
		for i := range participants {
			participants[i] = fmt.Sprintf("p%d", i)
		}
		teams := make([]string, nTeams)
		for i := range teams {
			teams[i] = fmt.Sprintf("T%d", i)
		}

		opts := defaultOptions()
		opts.AllowSelfRaise = rapid.Bool().Draw(rt, "selfRaise")
		e := newEnv(rt, opts)
		e.seed(tournamentSeed{participants: participants, teams: teams, budget: budget, teamsPer: teamsPer, minBid: minBid})
		e.start(rt, "t1")
		sub := e.subscribe(rt, "t1")

		checkReserve := func() {
			st := e.snapshot(rt, "t1")
			if st.Status != model.AuctionRunning {
				return
			}
			for _, b := range st.Budgets {
				if b.OwnedTeamCount > teamsPer {
					rt.Fatalf("%s owns %d > %d", b.ParticipantID, b.OwnedTeamCount, teamsPer)
				}
				if b.RemainingBudget < minBid*int64(teamsPer-b.OwnedTeamCount) {
					rt.Fatalf("reserve violated for %+v (min %d, per %d)", b, minBid, teamsPer)
				}
			}
		}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.IntRange(0, 4).Draw(rt, "action") == 0 {
				e.clock.Advance(opts.RoundDuration)
			} else {
				p := rapid.SampledFrom(participants).Draw(rt, "bidder")
				amount := rapid.Int64Range(1, budget).Draw(rt, "amount")
				// Rejections are expected; they must not change state.
				e.engine.PlaceBid(context.Background(), "t1", p, amount)
			}
			checkReserve()
		}

		// Run the auction out. Each advance closes at least one round.
		for i := 0; i < nTeams+1 && e.snapshot(rt, "t1").Status == model.AuctionRunning; i++ {
			e.clock.Advance(opts.RoundDuration + opts.SnipeExtension)
		}
		if st := e.snapshot(rt, "t1"); st.Status != model.AuctionEnded {
			rt.Fatalf("auction still %s after draining", st.Status)
		}

		bids, _ := e.engine.Bids(context.Background(), "t1")
		last := map[string]int64{}
		for _, b := range bids {
			if b.Amount <= last[b.TeamID] {
				rt.Fatalf("team %s: bid %d not above %d", b.TeamID, b.Amount, last[b.TeamID])
			}
			last[b.TeamID] = b.Amount
		}

		events, closed := drain(sub)
		if !closed {
			rt.Fatalf("stream not closed after end")
		}
		settled := map[string]int{}
		ended := 0
		for _, ev := range events {
			switch ev.Type {
			case broadcast.EventTeamSold, broadcast.EventTeamUnsold:
				settled[ev.TeamID]++
			case broadcast.EventAuctionEnded:
				ended++
			}
		}
		if ended != 1 {
			rt.Fatalf("auction_ended emitted %d times", ended)
		}
		for _, team := range teams {
			if settled[team] != 1 {
				rt.Fatalf("team %s settled %d times", team, settled[team])
			}
		}
	})
}
