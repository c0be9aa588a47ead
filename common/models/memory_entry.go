package models

import (
	"encoding/json"
	"time"
)

// MemoryEntry represents one persisted memory value
// Maps to: memory_entries table, unique on (namespace, name)
type MemoryEntry struct {
	ID        int64           `db:"id" json:"id"`
	Namespace string          `db:"namespace" json:"namespace"`
	Name      string          `db:"name" json:"name"`
	Value     json.RawMessage `db:"value" json:"value"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Decode unmarshals the stored JSONB value. NULL values decode to nil,
// matching what the store hands back for absent keys.
func (e *MemoryEntry) Decode() (interface{}, error) {
	if len(e.Value) == 0 {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal(e.Value, &value); err != nil {
		return nil, err
	}
	return value, nil
}
