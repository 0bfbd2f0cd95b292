package backtest

import (
	"math/rand"
	"sort"

	"openrange/pkg/model"
)

// MonteCarloResult summarizes a run's trades replayed in shuffled order
type MonteCarloResult struct {
	Simulations     int     `json:"simulations"`
	MedianReturn    float64 `json:"median_return"`    // % of initial capital
	WorstCase       float64 `json:"worst_case"`       // 5th percentile return
	BestCase        float64 `json:"best_case"`        // 95th percentile return
	MedianDrawdown  float64 `json:"median_drawdown"`  // currency
	WorstDrawdown   float64 `json:"worst_drawdown"`   // 95th percentile, currency
	RuinProbability float64 `json:"ruin_probability"` // % of sims where equity reached zero
}

// RunMonteCarlo reshuffles the trade P&L sequence starting from initialCapital.
// The final return only changes when a sequence is ruined; the drawdown
// distribution shows how much of the observed drawdown was trade ordering.
// Returns nil when there is nothing to simulate.
func RunMonteCarlo(trades []model.Trade, initialCapital float64, simulations int, seed int64) *MonteCarloResult {
	if len(trades) == 0 || simulations < 1 || initialCapital <= 0 {
		return nil
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}

	rng := rand.New(rand.NewSource(seed))
	finalReturns := make([]float64, simulations)
	maxDDs := make([]float64, simulations)
	ruinCount := 0

	for sim := 0; sim < simulations; sim++ {
		rng.Shuffle(len(pnls), func(i, j int) {
			pnls[i], pnls[j] = pnls[j], pnls[i]
		})

		capital := initialCapital
		peak := capital
		for _, pnl := range pnls {
			capital += pnl
			if capital > peak {
				peak = capital
			}
			if dd := peak - capital; dd > maxDDs[sim] {
				maxDDs[sim] = dd
			}
			if capital <= 0 {
				ruinCount++
				break
			}
		}

		finalReturns[sim] = (capital - initialCapital) / initialCapital * 100
	}

	sort.Float64s(finalReturns)
	sort.Float64s(maxDDs)

	return &MonteCarloResult{
		Simulations:     simulations,
		MedianReturn:    finalReturns[simulations/2],
		WorstCase:       finalReturns[simulations/20],
		BestCase:        finalReturns[simulations*19/20],
		MedianDrawdown:  maxDDs[simulations/2],
		WorstDrawdown:   maxDDs[simulations*19/20],
		RuinProbability: float64(ruinCount) / float64(simulations) * 100,
	}
}
