package match

import "github.com/indocomsoft/acquity/internal/models"

// pairOptimally runs the optimal-pairing stage: it builds the bipartite
// compatibility graph between buy and sell orders and extracts a matching of
// maximum cardinality that, among those, minimizes total cost.
//
// The graph is encoded as a square assignment matrix. Incompatible pairs and
// padding cells carry a penalty larger than the cost of any full matching, so
// the minimum-cost assignment uses as many real edges as possible before it
// resorts to penalty cells; the penalty edges are then discarded.
func pairOptimally(buys, sells []models.Order, bans *BanFilter, solver AssignmentSolver) []Pair {
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	scale := costScale(buys, sells)
	n := len(buys)
	if len(sells) > n {
		n = len(sells)
	}

	// Any real edge costs at most maxEdge, so a penalty above n*maxEdge can
	// never beat a real edge even across the whole assignment.
	var maxEdge float64
	for _, b := range buys {
		for _, s := range sells {
			if !compatible(b, s, bans) {
				continue
			}
			if c := pairCost(b, s, scale); c > maxEdge {
				maxEdge = c
			}
		}
	}
	penalty := maxEdge*float64(n) + 1

	costs := make([][]float64, n)
	for i := range costs {
		costs[i] = make([]float64, n)
		for j := range costs[i] {
			costs[i][j] = penalty
		}
	}
	for i, b := range buys {
		for j, s := range sells {
			if compatible(b, s, bans) {
				costs[i][j] = pairCost(b, s, scale)
			}
		}
	}

	assignment := solver.Solve(costs)

	var pairs []Pair
	for i := range buys {
		j := assignment[i]
		if j >= len(sells) || costs[i][j] >= penalty {
			continue
		}
		pairs = append(pairs, Pair{
			BuyOrderID:  buys[i].ID,
			SellOrderID: sells[j].ID,
		})
	}
	return pairs
}
