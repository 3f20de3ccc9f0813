package round

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/indocomsoft/acquity/internal/config"
	"github.com/indocomsoft/acquity/internal/match"
	"github.com/indocomsoft/acquity/internal/models"
	"github.com/indocomsoft/acquity/internal/set"
)

// Controller drives the round state machine. Order admission may be called
// concurrently; opening and closing are serialized by the controller's mutex
// so a round can be neither double-opened nor double-closed in-process.
type Controller struct {
	cfg       *config.Config
	orders    OrderStore
	rounds    RoundStore
	bans      BanStore
	matches   MatchStore
	scheduler Scheduler
	notifier  Notifier
	engine    *match.Engine
	log       *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewController(
	cfg *config.Config,
	orders OrderStore,
	rounds RoundStore,
	bans BanStore,
	matches MatchStore,
	scheduler Scheduler,
	notifier Notifier,
	engine *match.Engine,
	log *slog.Logger,
) *Controller {
	return &Controller{
		cfg:       cfg,
		orders:    orders,
		rounds:    rounds,
		bans:      bans,
		matches:   matches,
		scheduler: scheduler,
		notifier:  notifier,
		engine:    engine,
		log:       log,
		now:       time.Now,
	}
}

// AdmitSellOrder places a created sell order into the lifecycle. With a round
// active the order joins it immediately; otherwise the order stays pending and
// may tip the open threshold, in which case a new round opens.
func (c *Controller) AdmitSellOrder(ctx context.Context, order *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.rounds.GetActiveRound(ctx)
	if err != nil {
		return fmt.Errorf("get active round: %w", err)
	}
	if active != nil {
		if err := c.orders.AssignRound(ctx, order.ID, active.ID); err != nil {
			return fmt.Errorf("assign sell order to round: %w", err)
		}
		order.RoundID = &active.ID
		return nil
	}

	start, err := c.ShouldRoundStart(ctx)
	if err != nil {
		return err
	}
	if !start {
		return nil
	}

	opened, err := c.openRound(ctx)
	if err != nil {
		return err
	}
	order.RoundID = &opened.ID
	return nil
}

// AdmitBuyOrder stamps a created buy order with the active round if there is
// one. A pending buy order never triggers a round open.
func (c *Controller) AdmitBuyOrder(ctx context.Context, order *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.rounds.GetActiveRound(ctx)
	if err != nil {
		return fmt.Errorf("get active round: %w", err)
	}
	if active == nil {
		return nil
	}
	if err := c.orders.AssignRound(ctx, order.ID, active.ID); err != nil {
		return fmt.Errorf("assign buy order to round: %w", err)
	}
	order.RoundID = &active.ID
	return nil
}

// ShouldRoundStart is the open-threshold predicate: enough distinct sellers
// with pending sell orders, or enough total pending sell volume. It reads the
// pool and nothing else.
func (c *Controller) ShouldRoundStart(ctx context.Context) (bool, error) {
	pending, err := c.orders.GetPendingOrders(ctx, models.SideSell)
	if err != nil {
		return false, fmt.Errorf("get pending sell orders: %w", err)
	}

	sellers := set.New[uuid.UUID]()
	var totalShares float64
	for _, o := range pending {
		sellers.Insert(o.UserID)
		totalShares += o.NumberOfShares
	}

	return len(sellers) >= c.cfg.SellerCountCutoff || totalShares >= c.cfg.TotalSharesCutoff, nil
}

// OpenRound opens a new round, stamping every pending order into it and
// scheduling the close at its end time. Calling it while a round is active is
// a caller bug and panics.
func (c *Controller) OpenRound(ctx context.Context) (*models.Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openRound(ctx)
}

// openRound requires c.mu to be held.
func (c *Controller) openRound(ctx context.Context) (*models.Round, error) {
	active, err := c.rounds.GetActiveRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active round: %w", err)
	}
	if active != nil {
		panic(fmt.Sprintf("round %s is still active; the threshold check must not fire during a round", active.ID))
	}

	endTime := c.now().Add(c.cfg.RoundLength)
	newRound, err := c.rounds.CreateRound(ctx, endTime)
	if err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}

	for _, side := range []string{models.SideSell, models.SideBuy} {
		pending, err := c.orders.GetPendingOrders(ctx, side)
		if err != nil {
			return nil, fmt.Errorf("get pending %s orders: %w", side, err)
		}
		for _, o := range pending {
			if err := c.orders.AssignRound(ctx, o.ID, newRound.ID); err != nil {
				return nil, fmt.Errorf("assign order %s to round: %w", o.ID, err)
			}
		}
	}

	roundID := newRound.ID
	c.scheduler.ScheduleOnce(endTime, func() {
		if _, _, err := c.CloseRound(context.Background(), roundID); err != nil {
			c.log.Error("scheduled round close failed", "round_id", roundID, "error", err)
		}
	})

	c.notifier.RoundOpened(ctx)
	c.log.Info("round opened", "round_id", roundID, "end_time", endTime)
	return newRound, nil
}

// CloseRound runs the matching engine over the round's orders, seals the round
// and persists the match set. It is idempotent: closing an already
// concluded round reports AlreadyConcluded and does nothing, so duplicate
// timer fires are harmless.
func (c *Controller) CloseRound(ctx context.Context, roundID uuid.UUID) ([]match.Pair, CloseOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.rounds.GetRound(ctx, roundID)
	if err != nil {
		return nil, 0, fmt.Errorf("get round: %w", err)
	}
	if r.IsConcluded {
		c.log.Info("round already concluded", "round_id", roundID)
		return nil, AlreadyConcluded, nil
	}

	orders, err := c.orders.GetOrdersForRound(ctx, roundID)
	if err != nil {
		return nil, 0, fmt.Errorf("get round orders: %w", err)
	}

	var buys, sells []models.Order
	for _, o := range orders {
		// Skip stragglers whose stamp disagrees with the round being closed.
		if o.RoundID == nil || *o.RoundID != roundID {
			c.log.Warn("order round mismatch, skipping", "order_id", o.ID, "round_id", roundID)
			continue
		}
		switch o.Side {
		case models.SideBuy:
			buys = append(buys, o)
		case models.SideSell:
			sells = append(sells, o)
		}
	}

	bannedPairs, err := c.bans.GetBannedPairs(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("get banned pairs: %w", err)
	}

	pairs := c.engine.Run(buys, sells, match.NewBanFilter(bannedPairs))

	// Win the seal before writing match rows, so a racing closer that loses
	// the atomic update leaves no duplicates behind.
	concluded, err := c.rounds.ConcludeRound(ctx, roundID)
	if err != nil {
		return nil, 0, fmt.Errorf("conclude round: %w", err)
	}
	if !concluded {
		// Another process sealed the round between our read and the update.
		c.log.Info("round concluded concurrently", "round_id", roundID)
		return nil, AlreadyConcluded, nil
	}

	records := make([]models.Match, 0, len(pairs))
	for _, p := range pairs {
		records = append(records, models.Match{
			RoundID:     roundID,
			BuyOrderID:  p.BuyOrderID,
			SellOrderID: p.SellOrderID,
		})
	}
	if err := c.matches.CreateMatches(ctx, records); err != nil {
		return nil, 0, fmt.Errorf("persist matches: %w", err)
	}

	matched, unmatched := match.SplitParticipants(buys, sells, pairs)
	c.notifier.MatchOutcome(ctx, matched, unmatched)

	c.log.Info("round closed", "round_id", roundID, "matches", len(pairs))
	return pairs, Closed, nil
}

// Rearm reschedules closes for unconcluded rounds after a process restart,
// since in-memory timers do not survive one. An unconcluded round whose end
// time already passed is closed immediately.
func (c *Controller) Rearm(ctx context.Context) error {
	rounds, err := c.rounds.GetUnconcludedRounds(ctx)
	if err != nil {
		return fmt.Errorf("get unconcluded rounds: %w", err)
	}

	for _, r := range rounds {
		roundID := r.ID
		at := r.EndTime
		if at.Before(c.now()) {
			at = c.now()
		}
		c.scheduler.ScheduleOnce(at, func() {
			if _, _, err := c.CloseRound(context.Background(), roundID); err != nil {
				c.log.Error("scheduled round close failed", "round_id", roundID, "error", err)
			}
		})
		c.log.Info("rescheduled round close", "round_id", roundID, "at", at)
	}
	return nil
}
