package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/models"
)

// pgStore persists values in the memory_entries table
type pgStore struct {
	db *db.DB
}

// NewPGStore creates a postgres-backed store. EnsureSchema should run
// before first use.
func NewPGStore(database *db.DB) Store {
	return &pgStore{db: database}
}

// EnsureMemorySchema creates the memory_entries table if it does not exist
func EnsureMemorySchema(ctx context.Context, database *db.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS memory_entries (
			id BIGSERIAL PRIMARY KEY,
			namespace VARCHAR(128) NOT NULL DEFAULT 'default',
			name VARCHAR(256) NOT NULL,
			value JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (namespace, name)
		)
	`

	if _, err := database.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure memory_entries schema: %w", err)
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, key string) (interface{}, error) {
	namespace, name := SplitKey(key)

	var entry models.MemoryEntry
	err := s.db.QueryRow(ctx,
		`SELECT id, namespace, name, value, created_at, updated_at
		 FROM memory_entries WHERE namespace = $1 AND name = $2`,
		namespace, name,
	).Scan(&entry.ID, &entry.Namespace, &entry.Name, &entry.Value, &entry.CreatedAt, &entry.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory key %s: %w", key, err)
	}
	return entry.Decode()
}

func (s *pgStore) Set(ctx context.Context, key string, value interface{}) error {
	namespace, name := SplitKey(key)
	if len(namespace) > MaxNamespaceLen {
		return fmt.Errorf("namespace exceeds %d chars", MaxNamespaceLen)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("name exceeds %d chars", MaxNameLen)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode memory key %s: %w", key, err)
	}

	query := `
		INSERT INTO memory_entries (namespace, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, namespace, name, encoded); err != nil {
		return fmt.Errorf("failed to write memory key %s: %w", key, err)
	}
	return nil
}

func (s *pgStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM memory_entries`); err != nil {
		return fmt.Errorf("failed to clear memory store: %w", err)
	}
	return nil
}

func (s *pgStore) Backend() string {
	return "pg"
}

func (s *pgStore) Available(ctx context.Context) bool {
	return s.db != nil && s.db.Health(ctx) == nil
}

func (s *pgStore) Entries(ctx context.Context) (map[string]interface{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, namespace, name, value, created_at, updated_at FROM memory_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate memory entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]interface{})
	for rows.Next() {
		var entry models.MemoryEntry
		if err := rows.Scan(&entry.ID, &entry.Namespace, &entry.Name, &entry.Value,
			&entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}

		value, err := entry.Decode()
		if err != nil {
			continue
		}
		entries[Key(entry.Namespace, entry.Name)] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory entries: %w", err)
	}
	return entries, nil
}
