package arbiter

import (
	"math"
	"sort"
)

const (
	plannerMaxDepth = 3
	plannerBeam     = 6
	plannerGamma    = 0.9
)

// planNode is one step of a forward-search plan: the candidate taken at
// this step plus the accumulated discounted value to reach it.
type planNode struct {
	path  []Candidate
	value float64
}

// Plan runs the bounded forward-search planner (spec.md §4.9): depth <=3,
// beam <=6, discount gamma=0.9 per step. goalSatisfied and risk are
// caller-supplied since they depend on pipeline/arbiter state outside
// this package's scope. Stops early when goalSatisfied(path) is true for
// the best node, or when depth is exhausted.
func Plan(f Frame, w Weights, goalSatisfied func([]Candidate) bool, riskAt func([]Candidate) float64) []Candidate {
	if len(f.Candidates) == 0 {
		return nil
	}

	frontier := []planNode{{path: nil, value: 0}}
	for depth := 0; depth < plannerMaxDepth; depth++ {
		var next []planNode
		for _, node := range frontier {
			if goalSatisfied != nil && goalSatisfied(node.path) {
				next = append(next, node)
				continue
			}
			for _, c := range f.Candidates {
				if riskAt != nil && riskAt(append(append([]Candidate{}, node.path...), c)) >= 1.0 {
					continue // risk gate fails mid-chain
				}
				discount := math.Pow(plannerGamma, float64(depth))
				step := append(append([]Candidate{}, node.path...), c)
				next = append(next, planNode{
					path:  step,
					value: node.value + discount*Utility(f, c, w),
				})
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Slice(next, func(i, j int) bool { return next[i].value > next[j].value })
		if len(next) > plannerBeam {
			next = next[:plannerBeam]
		}
		frontier = next
		if goalSatisfied != nil && goalSatisfied(frontier[0].path) {
			break
		}
	}

	if len(frontier) == 0 {
		return nil
	}
	return frontier[0].path
}
