package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

// NotifyChannel is the channel the schema's row triggers notify on.
const NotifyChannel = "dashboard_changes"

//go:embed schema.sql
var schemaSQL string

// Migrate creates the catalog tables and change triggers if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
