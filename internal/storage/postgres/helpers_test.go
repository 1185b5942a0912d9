package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes every stored vector. It lives in a _test file of
// package postgres so that it can reach the unexported db field while
// staying out of the production build.
func (s *VectorStore) TruncateForTest(ctx context.Context) error {
	if !s.available {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+tableName); err != nil {
		return fmt.Errorf("postgres: failed to truncate vectors: %w", err)
	}
	return nil
}
