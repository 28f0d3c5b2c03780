package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore keeps document content in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetText(ctx context.Context, documentID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM documents WHERE id = $1`, documentID,
	).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrDocumentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get document %s: %w", documentID, err)
	}
	return content, nil
}

func (s *PostgresStore) SetText(ctx context.Context, documentID string, text string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, content, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, documentID, text)
	if err != nil {
		return fmt.Errorf("set document %s: %w", documentID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
