// Package broadcast fans auction events out to every subscriber of a
// tournament, preserving the order in which the auction emitted them.
package broadcast

import (
	"time"

	"github.com/bidroom/auction-engine/internal/model"
)

// EventType names a kind of event on a tournament's channel.
type EventType string

const (
	EventSnapshot       EventType = "snapshot"
	EventAuctionStarted EventType = "auction_started"
	EventNewBid         EventType = "new_bid"
	EventTeamSold       EventType = "team_sold"
	EventTeamUnsold     EventType = "team_unsold"
	EventAuctionEnded   EventType = "auction_ended"
	EventChatMessage    EventType = "chat_message"
	EventTimerReset     EventType = "timer_reset"
	EventAuctionHalted  EventType = "auction_halted"
)

// Event is a JSON message delivered to subscribers. Seq increases by one
// per event within a tournament; a snapshot carries the Seq of the last
// event it reflects.
type Event struct {
	Type          EventType           `json:"type"`
	TournamentID  string              `json:"tournament_id"`
	Seq           uint64              `json:"seq"`
	Timestamp     time.Time           `json:"timestamp"`
	TeamID        string              `json:"team_id,omitempty"`
	ParticipantID string              `json:"participant_id,omitempty"`
	Amount        int64               `json:"amount,omitempty"`
	Deadline      *time.Time          `json:"deadline,omitempty"`
	Requeued      bool                `json:"requeued,omitempty"`
	Text          string              `json:"text,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	State         *model.AuctionState `json:"state,omitempty"`
}
