package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type CartStore struct{}

func NewCartStore() *CartStore {
	return &CartStore{}
}

func (s *CartStore) ClearForUser(ctx context.Context, q Querier, userID uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
