package cr

import (
	"context"
	"fmt"
)

// GetHistory returns the most recent operations, ordered newest first.
func (s *CRService) GetHistory(ctx context.Context, limit int) ([]*Operation, error) {
	ops, err := s.store.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
