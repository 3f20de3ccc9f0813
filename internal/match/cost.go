package match

import (
	"math"

	"github.com/indocomsoft/acquity/internal/models"
)

// pairCost scores a candidate (buy, sell) pair. scale must be twice the
// largest share count in the round: a shares mismatch is bounded by half the
// scale, so any nonzero price difference outweighs every possible shares
// difference and the matching minimizes price spread first.
func pairCost(buy, sell models.Order, scale float64) float64 {
	return math.Abs(buy.Price-sell.Price)*scale + math.Abs(buy.NumberOfShares-sell.NumberOfShares)
}

// costScale returns 2*M where M is the maximum share count across the orders.
func costScale(orderLists ...[]models.Order) float64 {
	var m float64
	for _, orders := range orderLists {
		for _, o := range orders {
			if o.NumberOfShares > m {
				m = o.NumberOfShares
			}
		}
	}
	return 2 * m
}

// compatible reports whether the buy order can be matched with the sell order:
// the bid covers the ask and the pair is not banned.
func compatible(buy, sell models.Order, bans *BanFilter) bool {
	return buy.Price >= sell.Price && !bans.Banned(buy.UserID, sell.UserID)
}
