package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type archiveDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ArchivedTurn is one durable record of a conversation turn.
type ArchivedTurn struct {
	ID             string
	ConversationID string
	UserID         string
	Role           string
	Content        string
	Intent         string
	State          string
	Model          string
	CreatedAt      time.Time
}

// TurnArchive writes every processed turn to Postgres. Redis keeps the hot
// window; this table is the durable record for support and analytics.
type TurnArchive struct {
	db archiveDB
}

func NewTurnArchive(pool *pgxpool.Pool) *TurnArchive {
	if pool == nil {
		panic("coach: pgx pool required")
	}
	return &TurnArchive{db: pool}
}

func newTurnArchiveWithDB(db archiveDB) *TurnArchive {
	return &TurnArchive{db: db}
}

// Record inserts one turn. detection and response may be nil.
func (a *TurnArchive) Record(ctx context.Context, conversationID, userID string, turn ConversationTurn) error {
	intent := ""
	if turn.DetectedIntent != nil {
		intent = string(turn.DetectedIntent.Top())
	}
	state, model := "", ""
	var responseJSON []byte
	if turn.Response != nil {
		state = string(turn.Response.Meta.State)
		model = string(turn.Response.Meta.Model)
		data, err := json.Marshal(turn.Response)
		if err != nil {
			return fmt.Errorf("coach: marshal archived response: %w", err)
		}
		responseJSON = data
	}

	query := `
		INSERT INTO conversation_turns (id, conversation_id, user_id, role, content, intent, state, model, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := a.db.Exec(ctx, query, turn.ID, conversationID, userID, turn.Role, turn.Content, intent, state, model, responseJSON, ts); err != nil {
		return fmt.Errorf("coach: insert archived turn: %w", err)
	}
	return nil
}

// RecentForUser returns the user's latest archived turns, newest first.
func (a *TurnArchive) RecentForUser(ctx context.Context, userID string, limit int32) ([]ArchivedTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, conversation_id, user_id, role, content, intent, state, model, created_at
		FROM conversation_turns
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := a.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("coach: fetch archived turns: %w", err)
	}
	defer rows.Close()

	var turns []ArchivedTurn
	for rows.Next() {
		var t ArchivedTurn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.Role, &t.Content, &t.Intent, &t.State, &t.Model, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("coach: scan archived turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
