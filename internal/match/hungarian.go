package match

import "math"

// AssignmentSolver computes a minimum-cost assignment on a square cost matrix.
// It is the pluggable core of the optimal-pairing stage; the default is the
// Hungarian algorithm below, but anything that solves the assignment problem
// (e.g. a blossom-based matcher) can be swapped in.
type AssignmentSolver interface {
	// Solve returns, for every row, the column it is assigned to. Every row
	// and every column is used exactly once and the total cost is minimal.
	Solve(costs [][]float64) []int
}

// hungarianSolver is the potential-based O(n^3) Hungarian algorithm.
type hungarianSolver struct{}

// NewHungarianSolver returns the default assignment solver.
func NewHungarianSolver() AssignmentSolver {
	return hungarianSolver{}
}

func (hungarianSolver) Solve(costs [][]float64) []int {
	n := len(costs)
	if n == 0 {
		return nil
	}

	inf := math.Inf(1)
	// 1-based arrays; index 0 is the virtual start column/row.
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	rowOf := make([]int, n+1) // rowOf[j]: row currently assigned to column j
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		rowOf[0] = i
		j0 := 0
		minTo := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minTo {
			minTo[j] = inf
		}

		// Grow an alternating tree from row i until a free column is found.
		for {
			used[j0] = true
			i0 := rowOf[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := costs[i0-1][j-1] - u[i0] - v[j]
				if cur < minTo[j] {
					minTo[j] = cur
					way[j] = j0
				}
				if minTo[j] < delta {
					delta = minTo[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[rowOf[j]] += delta
					v[j] -= delta
				} else {
					minTo[j] -= delta
				}
			}
			j0 = j1
			if rowOf[j0] == 0 {
				break
			}
		}

		// Augment along the found path.
		for j0 != 0 {
			j1 := way[j0]
			rowOf[j0] = rowOf[j1]
			j0 = j1
		}
	}

	assignment := make([]int, n)
	for j := 1; j <= n; j++ {
		assignment[rowOf[j]-1] = j - 1
	}
	return assignment
}
