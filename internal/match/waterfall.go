package match

import (
	"math"
	"sort"

	"github.com/indocomsoft/acquity/internal/models"
)

// waterfall greedily distributes the buy orders left over by the optimal
// pairing across the sell orders, in repeated passes. Each pass serves the
// sellers in desperation order (lowest ask first, larger size breaking ties)
// and gives each one its most desperate eligible buyer. A matched seller stays
// in play for the next pass; a seller with no eligible buyer left is retired.
// Buyers are consumed the moment they match.
func waterfall(buys, sells []models.Order, bans *BanFilter) []Pair {
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	queue := make([]models.Order, len(sells))
	copy(queue, sells)
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Price == queue[j].Price {
			return queue[i].NumberOfShares > queue[j].NumberOfShares
		}
		return queue[i].Price < queue[j].Price
	})

	// Mark-as-consumed flags instead of removing mid-iteration.
	consumed := make([]bool, len(buys))
	active := make([]bool, len(queue))
	remaining := len(queue)
	for i := range active {
		active[i] = true
	}

	var pairs []Pair
	for remaining > 0 {
		for si := range queue {
			if !active[si] {
				continue
			}
			sell := queue[si]

			best := -1
			for bi := range buys {
				if consumed[bi] || !compatible(buys[bi], sell, bans) {
					continue
				}
				if best == -1 || moreDesperateBuyer(buys[bi], buys[best], sell) {
					best = bi
				}
			}
			if best == -1 {
				// This seller has exhausted the pool at its price.
				active[si] = false
				remaining--
				continue
			}

			pairs = append(pairs, Pair{
				BuyOrderID:  buys[best].ID,
				SellOrderID: sell.ID,
			})
			consumed[best] = true
		}
	}
	return pairs
}

// moreDesperateBuyer reports whether candidate should be served before current
// for the given sell order: higher bid first, then nearer share count.
func moreDesperateBuyer(candidate, current, sell models.Order) bool {
	if candidate.Price != current.Price {
		return candidate.Price > current.Price
	}
	return math.Abs(sell.NumberOfShares-candidate.NumberOfShares) <
		math.Abs(sell.NumberOfShares-current.NumberOfShares)
}
