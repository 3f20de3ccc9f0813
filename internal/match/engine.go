// Package match implements the two-phase matching engine for a trading round:
// an optimal-pairing stage over a bipartite compatibility graph followed by a
// desperation-waterfall distribution of the leftover buy orders.
package match

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/indocomsoft/acquity/internal/models"
	"github.com/indocomsoft/acquity/internal/set"
)

// Pair matches one buy order to one sell order.
type Pair struct {
	BuyOrderID  uuid.UUID `json:"buy_order_id"`
	SellOrderID uuid.UUID `json:"sell_order_id"`
}

// Engine computes the match set of a round. It is a pure function of its
// inputs: no retries, no persistence, no clock.
type Engine struct {
	solver AssignmentSolver
	log    *slog.Logger
}

func NewEngine(solver AssignmentSolver, log *slog.Logger) *Engine {
	return &Engine{solver: solver, log: log}
}

// Run matches the round's buy orders against its sell orders.
//
// Sellers with a single order get that order doubled first, so a lone seller
// can be split across two buyers. The optimal-pairing stage then consumes as
// many one-to-one pairs as possible at minimum cost, and the waterfall
// distributes the remaining buyers over the sell orders. Every buy order
// appears in at most one pair; a sell order may appear several times.
//
// Orders with negative price or non-positive share counts indicate a caller
// bug and panic.
func (e *Engine) Run(buys, sells []models.Order, bans *BanFilter) []Pair {
	validateOrders(buys)
	validateOrders(sells)

	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	doubled := doubleSoleSellers(sells)

	primary := pairOptimally(buys, doubled, bans, e.solver)

	matchedBuys := set.New[uuid.UUID]()
	for _, p := range primary {
		matchedBuys.Insert(p.BuyOrderID)
	}
	var remaining []models.Order
	for _, b := range buys {
		if !matchedBuys.Include(b.ID) {
			remaining = append(remaining, b)
		}
	}

	secondary := waterfall(remaining, doubled, bans)

	e.log.Info("matching complete",
		"buy_orders", len(buys),
		"sell_orders", len(sells),
		"primary_matches", len(primary),
		"secondary_matches", len(secondary),
	)
	return append(primary, secondary...)
}

// SplitParticipants partitions the users behind the given orders into those
// with at least one matched order and those with none, for notification.
func SplitParticipants(buys, sells []models.Order, pairs []Pair) (matched, unmatched []uuid.UUID) {
	matchedOrders := set.New[uuid.UUID]()
	for _, p := range pairs {
		matchedOrders.Insert(p.BuyOrderID)
		matchedOrders.Insert(p.SellOrderID)
	}

	matchedUsers := set.New[uuid.UUID]()
	allUsers := set.New[uuid.UUID]()
	for _, o := range append(append([]models.Order{}, buys...), sells...) {
		allUsers.Insert(o.UserID)
		if matchedOrders.Include(o.ID) {
			matchedUsers.Insert(o.UserID)
		}
	}

	for _, id := range allUsers.Slice() {
		if matchedUsers.Include(id) {
			matched = append(matched, id)
		} else {
			unmatched = append(unmatched, id)
		}
	}
	return matched, unmatched
}

// doubleSoleSellers duplicates the single order of any seller who placed
// exactly one, giving a lone order two allocation slots. Sellers with several
// orders already have their multiplicity.
func doubleSoleSellers(sells []models.Order) []models.Order {
	ordersBySeller := make(map[uuid.UUID]int, len(sells))
	for _, s := range sells {
		ordersBySeller[s.UserID]++
	}

	doubled := make([]models.Order, 0, len(sells))
	for _, s := range sells {
		doubled = append(doubled, s)
		if ordersBySeller[s.UserID] == 1 {
			doubled = append(doubled, s)
		}
	}
	return doubled
}

func validateOrders(orders []models.Order) {
	for _, o := range orders {
		if o.Price < 0 || o.NumberOfShares <= 0 {
			panic(fmt.Sprintf("malformed order %s: price=%v shares=%v", o.ID, o.Price, o.NumberOfShares))
		}
	}
}
