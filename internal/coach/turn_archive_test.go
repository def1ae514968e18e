package coach

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestTurnArchiveRecordAndFetch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	archive := newTurnArchiveWithDB(mock)
	ctx := context.Background()

	turn := ConversationTurn{
		ID:        "t1",
		Role:      RoleUser,
		Content:   "j'ai faim",
		Timestamp: time.Now().UTC(),
		DetectedIntent: &IntentDetectionResult{
			TopIntents: []ScoredIntent{{Intent: IntentHunger, Confidence: 0.9}},
		},
	}
	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs("t1", "c1", "u1", RoleUser, "j'ai faim", string(IntentHunger), "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := archive.Record(ctx, "c1", "u1", turn); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "conversation_id", "user_id", "role", "content", "intent", "state", "model", "created_at"}).
		AddRow("t1", "c1", "u1", RoleUser, "j'ai faim", string(IntentHunger), "", "", now)
	mock.ExpectQuery("SELECT id").WithArgs("u1", int32(10)).WillReturnRows(rows)

	turns, err := archive.RecentForUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(turns) != 1 || turns[0].ID != "t1" || turns[0].Intent != string(IntentHunger) {
		t.Fatalf("unexpected turns: %#v", turns)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTurnArchiveRecordAssistantTurn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	archive := newTurnArchiveWithDB(mock)

	turn := ConversationTurn{
		ID:      "t2",
		Role:    RoleAssistant,
		Content: "Un encas protéiné peut aider.",
		Response: &ConversationResponse{
			Message: "Un encas protéiné peut aider.",
			Meta:    ResponseMeta{State: StateAssembled, Model: "rules"},
		},
	}
	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs("t2", "c1", "u1", RoleAssistant, turn.Content, "", string(StateAssembled), "rules", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := archive.Record(context.Background(), "c1", "u1", turn); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
