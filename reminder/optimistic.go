package reminder

import (
	"context"
	"time"
)

const maxUpdateAttempts = 8

// loadFunc reads the current version of a reminder.
type loadFunc func(ctx context.Context, id string) (*Reminder, error)

// swapFunc writes next only if the stored version still equals expected.
type swapFunc func(ctx context.Context, next *Reminder, expected int64) (bool, error)

// updateOptimistic is the read-mutate-compare-and-swap loop shared by the database stores.
// mutate may run more than once and must only depend on the reminder it is given.
func updateOptimistic(ctx context.Context, id string, mutate Mutation, load loadFunc, swap swapFunc) (*Reminder, error) {
	for i := 0; i < maxUpdateAttempts; i++ {
		cur, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		next.ID = cur.ID
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()

		ok, err := swap(ctx, next, cur.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, ErrConflict
}
