// Package round owns the round lifecycle: orders accumulate while no round is
// active, a round opens once enough sell interest has gathered, and at the
// scheduled end time the matching engine runs and the round is sealed.
package round

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/indocomsoft/acquity/internal/models"
)

// OrderStore is the slice of order persistence the controller needs.
type OrderStore interface {
	GetPendingOrders(ctx context.Context, side string) ([]models.Order, error)
	GetOrdersForRound(ctx context.Context, roundID uuid.UUID) ([]models.Order, error)
	AssignRound(ctx context.Context, orderID, roundID uuid.UUID) error
}

// RoundStore persists rounds. ConcludeRound must be atomic: it returns false
// when the round was already concluded, so duplicate close attempts can be
// detected without a read-modify-write race.
type RoundStore interface {
	CreateRound(ctx context.Context, endTime time.Time) (*models.Round, error)
	GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error)
	GetActiveRound(ctx context.Context) (*models.Round, error)
	GetUnconcludedRounds(ctx context.Context) ([]models.Round, error)
	ConcludeRound(ctx context.Context, id uuid.UUID) (bool, error)
}

// BanStore supplies the banned (buyer, seller) pairs.
type BanStore interface {
	GetBannedPairs(ctx context.Context) ([]models.BannedPair, error)
}

// MatchStore persists the match set of a concluded round.
type MatchStore interface {
	CreateMatches(ctx context.Context, matches []models.Match) error
}

// Scheduler fires a callback once at the given instant. Delivery is
// at-least-once; CloseRound tolerates duplicate fires.
type Scheduler interface {
	ScheduleOnce(at time.Time, fn func())
}

// Notifier is told about round events so participants can be emailed.
// Implementations must not block the round lifecycle on delivery failures.
type Notifier interface {
	RoundOpened(ctx context.Context)
	MatchOutcome(ctx context.Context, matched, unmatched []uuid.UUID)
}

// CloseOutcome is the structured result of CloseRound.
type CloseOutcome int

const (
	// Closed means this call ran the matching engine and sealed the round.
	Closed CloseOutcome = iota
	// AlreadyConcluded means a previous call sealed the round; nothing was done.
	AlreadyConcluded
)

func (o CloseOutcome) String() string {
	switch o {
	case Closed:
		return "closed"
	case AlreadyConcluded:
		return "already_concluded"
	default:
		return "unknown"
	}
}
