package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/streamchat/internal/assembly"
)

// PostgresStore persists turn records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn_records (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			query TEXT NOT NULL,
			state TEXT NOT NULL,
			mode TEXT NOT NULL,
			final_text TEXT NOT NULL,
			citations JSONB NOT NULL DEFAULT '[]'::jsonb,
			suggested_actions JSONB NOT NULL DEFAULT '[]'::jsonb,
			error JSONB,
			message_id TEXT NOT NULL DEFAULT '',
			remote_conversation_id TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turn_records_conversation_started ON turn_records (conversation_id, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const selectColumns = `id, conversation_id, user_id, query, state, mode, final_text,
	citations, suggested_actions, error, message_id, remote_conversation_id, started_at, finished_at`

func (s *PostgresStore) Save(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = record.FinishedAt
	}

	citations, err := marshalList(record.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	suggestions, err := marshalList(record.SuggestedActions)
	if err != nil {
		return fmt.Errorf("marshal suggested actions: %w", err)
	}
	var turnErr []byte
	if record.Error != nil {
		if turnErr, err = json.Marshal(record.Error); err != nil {
			return fmt.Errorf("marshal turn error: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO turn_records (`+selectColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
			final_text = EXCLUDED.final_text,
			citations = EXCLUDED.citations,
			suggested_actions = EXCLUDED.suggested_actions,
			error = EXCLUDED.error,
			message_id = EXCLUDED.message_id,
			remote_conversation_id = EXCLUDED.remote_conversation_id`,
		record.ID,
		record.ConversationID,
		record.UserID,
		record.Query,
		string(record.State),
		string(record.Mode),
		record.FinalText,
		string(citations),
		string(suggestions),
		nullableJSON(turnErr),
		record.MessageID,
		record.RemoteConversationID,
		record.StartedAt,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (TurnRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM turn_records WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TurnRecord{}, ErrNotFound
	}
	if err != nil {
		return TurnRecord{}, fmt.Errorf("get turn record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM turn_records
		 WHERE conversation_id=$1 ORDER BY started_at DESC LIMIT $2`,
		conversationID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turn records: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn records: %w", err)
	}

	// Chronological order for display.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (TurnRecord, error) {
	var (
		rec                    TurnRecord
		state, mode            string
		citations, suggestions []byte
		turnErr                []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.ConversationID, &rec.UserID, &rec.Query, &state, &mode, &rec.FinalText,
		&citations, &suggestions, &turnErr, &rec.MessageID, &rec.RemoteConversationID,
		&rec.StartedAt, &rec.FinishedAt,
	); err != nil {
		return TurnRecord{}, err
	}
	rec.State = assembly.State(state)
	rec.Mode = assembly.Mode(mode)
	if err := json.Unmarshal(citations, &rec.Citations); err != nil {
		return TurnRecord{}, fmt.Errorf("decode citations: %w", err)
	}
	if err := json.Unmarshal(suggestions, &rec.SuggestedActions); err != nil {
		return TurnRecord{}, fmt.Errorf("decode suggested actions: %w", err)
	}
	if len(turnErr) > 0 {
		rec.Error = &assembly.TurnError{}
		if err := json.Unmarshal(turnErr, rec.Error); err != nil {
			return TurnRecord{}, fmt.Errorf("decode turn error: %w", err)
		}
	}
	return rec, nil
}

func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
