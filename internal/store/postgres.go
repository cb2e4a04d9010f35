package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/bidroom/auction-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Auction state is kept as a JSONB document written in the same
// transaction as the bid or settlement that produced it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates missing tables.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// GetTournament loads the tournament row, then its participants and team
// queue concurrently.
func (s *PostgresStore) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	var t model.Tournament
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, organizer_id, status,
		        budget_per_participant, teams_per_participant,
		        minimum_bid, bid_increment, min_participants
		 FROM tournaments WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.OrganizerID, &status,
			&t.BudgetPerParticipant, &t.TeamsPerParticipant,
			&t.MinimumBid, &t.BidIncrement, &t.MinParticipants)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tournament %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tournament %s: %w", id, err)
	}
	t.Status = model.TournamentStatus(status)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ids, err := s.queryIDs(gCtx,
			`SELECT participant_id FROM tournament_participants
			 WHERE tournament_id = $1 ORDER BY joined_at, participant_id`, id)
		if err != nil {
			return fmt.Errorf("load participants for %s: %w", id, err)
		}
		t.Participants = ids
		return nil
	})

	g.Go(func() error {
		ids, err := s.queryIDs(gCtx,
			`SELECT team_id FROM tournament_teams
			 WHERE tournament_id = $1 ORDER BY position`, id)
		if err != nil {
			return fmt.Errorf("load teams for %s: %w", id, err)
		}
		t.TeamQueue = ids
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) SetTournamentStatus(ctx context.Context, id string, status model.TournamentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tournaments SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tournament %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) StartAuction(ctx context.Context, state *model.AuctionState) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE tournaments SET status = $2 WHERE id = $1`,
			state.TournamentID, string(model.TournamentAuction)); err != nil {
			return err
		}
		return upsertState(ctx, tx, state)
	})
}

func (s *PostgresStore) SaveAuction(ctx context.Context, state *model.AuctionState) error {
	return upsertState(ctx, s.pool, state)
}

func (s *PostgresStore) GetAuction(ctx context.Context, tournamentID string) (*model.AuctionState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM auction_states WHERE tournament_id = $1`, tournamentID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("auction %s: %w", tournamentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var st model.AuctionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode auction %s: %w", tournamentID, err)
	}
	return &st, nil
}

func (s *PostgresStore) ListRunningAuctions(ctx context.Context) ([]model.AuctionState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM auction_states WHERE status = $1 ORDER BY tournament_id`,
		string(model.AuctionRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.AuctionState
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st model.AuctionState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *PostgresStore) FinishAuction(ctx context.Context, state *model.AuctionState) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE tournaments SET status = $2 WHERE id = $1`,
			state.TournamentID, string(model.TournamentActive)); err != nil {
			return err
		}
		return upsertState(ctx, tx, state)
	})
}

func (s *PostgresStore) RecordBid(ctx context.Context, bid *model.BidEvent, state *model.AuctionState) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bid_events (id, tournament_id, team_id, participant_id, amount, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			bid.ID, bid.TournamentID, bid.TeamID, bid.ParticipantID, bid.Amount, bid.Timestamp,
		); err != nil {
			return err
		}
		return upsertState(ctx, tx, state)
	})
}

func (s *PostgresStore) ListBids(ctx context.Context, tournamentID string) ([]model.BidEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tournament_id, team_id, participant_id, amount, timestamp
		 FROM bid_events WHERE tournament_id = $1 ORDER BY seq`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.BidEvent
	for rows.Next() {
		var b model.BidEvent
		if err := rows.Scan(&b.ID, &b.TournamentID, &b.TeamID, &b.ParticipantID, &b.Amount, &b.Timestamp); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) RecordSettlement(ctx context.Context, state *model.AuctionState, ownership *model.Ownership) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if ownership != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO team_ownership (id, tournament_id, team_id, participant_id, price, sold_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				ownership.ID, ownership.TournamentID, ownership.TeamID,
				ownership.ParticipantID, ownership.Price, ownership.SoldAt,
			); err != nil {
				return err
			}
		}
		return upsertState(ctx, tx, state)
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("team %s: %w", ownership.TeamID, ErrOwnershipExists)
	}
	return err
}

func (s *PostgresStore) ListOwnership(ctx context.Context, tournamentID string) ([]model.Ownership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tournament_id, team_id, participant_id, price, sold_at
		 FROM team_ownership WHERE tournament_id = $1 ORDER BY sold_at`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ownership
	for rows.Next() {
		var o model.Ownership
		if err := rows.Scan(&o.ID, &o.TournamentID, &o.TeamID, &o.ParticipantID, &o.Price, &o.SoldAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendChat(ctx context.Context, msg *model.ChatMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, tournament_id, participant_id, text, timestamp)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.TournamentID, msg.ParticipantID, msg.Text, msg.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListChat(ctx context.Context, tournamentID string) ([]model.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tournament_id, participant_id, text, timestamp
		 FROM chat_messages WHERE tournament_id = $1 ORDER BY timestamp`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.TournamentID, &m.ParticipantID, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) queryIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertState(ctx context.Context, db execer, state *model.AuctionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode auction %s: %w", state.TournamentID, err)
	}
	_, err = db.Exec(ctx,
		`INSERT INTO auction_states (tournament_id, status, state, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tournament_id)
		 DO UPDATE SET status = EXCLUDED.status, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.TournamentID, string(state.Status), raw, state.UpdatedAt,
	)
	return err
}
