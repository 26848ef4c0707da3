// Package optim tunes controller gains by exhaustive search over the
// simulated rig.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Objective scores one parameter set. Lower is better.
type Objective func(ctx context.Context, params map[string]float64) (float64, error)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	// Workers bounds concurrent evaluations. Zero means GOMAXPROCS.
	Workers int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges}
}

// Result is the outcome of a search.
type Result struct {
	Params    map[string]float64
	Score     float64
	Evaluated int
	Failed    int
}

// Search evaluates every grid point. Points whose objective fails or
// returns NaN are counted and skipped. Ties go to the earlier point.
func (g *GridSearch) Search(ctx context.Context, objective Objective) (*Result, error) {
	if len(g.paramNames) != len(g.ranges) {
		return nil, fmt.Errorf("optim: %d parameters, %d ranges", len(g.paramNames), len(g.ranges))
	}
	for i, r := range g.ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("optim: empty range for %s", g.paramNames[i])
		}
	}

	var points []map[string]float64
	g.expand(0, make(map[string]float64), &points)

	scores := make([]float64, len(points))
	errs := make([]error, len(points))

	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				scores[idx], errs[idx] = objective(ctx, points[idx])
			}
		}()
	}
feed:
	for i := range points {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Score: math.Inf(1), Evaluated: len(points)}
	var lastErr error
	for i, p := range points {
		if errs[i] != nil || math.IsNaN(scores[i]) {
			res.Failed++
			if errs[i] != nil {
				lastErr = errs[i]
			}
			continue
		}
		if scores[i] < res.Score {
			res.Score = scores[i]
			res.Params = p
		}
	}
	if res.Params == nil {
		return res, errors.Join(errors.New("optim: every grid point failed"), lastErr)
	}
	return res, nil
}

func (g *GridSearch) expand(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, current)
		return
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		g.expand(depth+1, newParams, out)
	}
}
