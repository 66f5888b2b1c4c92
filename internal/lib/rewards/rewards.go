// Package rewards credits user accounts with points for confirmed incident
// reports and completed navigation.
package rewards

import (
	"context"
	"sync"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
)

// SecondsPerNavigationPoint is the navigation time worth one point
const SecondsPerNavigationPoint = 360

// Store holds account balances. Implementations must make AwardPoints atomic.
type Store interface {
	AwardPoints(ctx context.Context, userID string, delta int) error
	Points(ctx context.Context, userID string) (int, error)
}

// NavigationPoints converts completed navigation time to points
func NavigationPoints(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return seconds / SecondsPerNavigationPoint
}

// AwardNavigation credits points for navigation time. It returns the number
// of points credited; zero means the trip was too short and nothing changed.
func AwardNavigation(ctx context.Context, store Store, userID string, seconds int) (int, error) {
	if userID == "" {
		return 0, errs.Validation("AwardNavigation", "user_id is required")
	}
	if seconds < 0 {
		return 0, errs.Validation("AwardNavigation", "navigation time must not be negative")
	}

	points := NavigationPoints(seconds)
	if points < 1 {
		return 0, nil
	}
	if err := store.AwardPoints(ctx, userID, points); err != nil {
		return 0, err
	}
	return points, nil
}

// MemoryLedger is an in-process Store. Accounts are created on first award.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int)}
}

func (l *MemoryLedger) AwardPoints(ctx context.Context, userID string, delta int) error {
	if userID == "" {
		return errs.Validation("AwardPoints", "user id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += delta
	return nil
}

func (l *MemoryLedger) Points(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	points, ok := l.balances[userID]
	if !ok {
		return 0, errs.NotFound("Points", "no account for user %q", userID)
	}
	return points, nil
}
