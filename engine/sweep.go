package engine

import (
	"sort"
	"sync"
	"time"

	"whaleflow/models"
)

// DetectSweeps groups a collection of annotated trades into per-underlying
// temporal clusters and returns the clusters that qualify as sweeps, sorted
// by descending total premium.
//
// Within one underlying the scan is a single greedy left-to-right pass over
// the time-sorted trades: a cluster starts at the cursor and extends while
// each next trade is within window of the cluster's first trade. A cluster
// with at least minLegs trades is emitted and the cursor jumps past it;
// otherwise the cursor advances by one. Clusters never overlap, so a sweep
// straddling a window boundary can split into two sub-threshold groups; that
// is a known property of the scan, not corrected here.
//
// Trades with a zero timestamp cannot be ordered and are excluded from
// clustering. Underlyings are independent and processed concurrently.
func DetectSweeps(trades []models.AnnotatedTrade, window time.Duration, minLegs int) []models.Sweep {
	if len(trades) == 0 {
		return nil
	}
	if minLegs < 1 {
		minLegs = 1
	}

	byUnderlying := make(map[string][]models.AnnotatedTrade)
	for _, t := range trades {
		u := t.Underlying()
		byUnderlying[u] = append(byUnderlying[u], t)
	}

	var (
		mu     sync.Mutex
		sweeps []models.Sweep
		wg     sync.WaitGroup
	)

	for underlying, group := range byUnderlying {
		wg.Add(1)
		go func(underlying string, group []models.AnnotatedTrade) {
			defer wg.Done()
			found := sweepOneUnderlying(underlying, group, window, minLegs)
			if len(found) == 0 {
				return
			}
			mu.Lock()
			sweeps = append(sweeps, found...)
			mu.Unlock()
		}(underlying, group)
	}
	wg.Wait()

	sort.SliceStable(sweeps, func(i, j int) bool {
		return sweeps[i].TotalPremium > sweeps[j].TotalPremium
	})
	return sweeps
}

func sweepOneUnderlying(underlying string, trades []models.AnnotatedTrade, window time.Duration, minLegs int) []models.Sweep {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})

	var sweeps []models.Sweep
	i := 0
	for i < len(trades) {
		if trades[i].Timestamp.IsZero() {
			i++
			continue
		}

		// Trades are sorted, so the first one outside the window ends the
		// cluster without re-scanning.
		j := i + 1
		for j < len(trades) && trades[j].Timestamp.Sub(trades[i].Timestamp) <= window {
			j++
		}

		if j-i >= minLegs {
			sweeps = append(sweeps, buildSweep(underlying, trades[i:j]))
			i = j
		} else {
			i++
		}
	}
	return sweeps
}

func buildSweep(underlying string, legs []models.AnnotatedTrade) models.Sweep {
	sweep := models.Sweep{
		Underlying: underlying,
		Legs:       append([]models.AnnotatedTrade(nil), legs...),
		Start:      legs[0].Timestamp,
		End:        legs[len(legs)-1].Timestamp,
		Sentiment:  legs[0].Direction,
	}

	strikeSet := make(map[float64]struct{})
	typeSet := make(map[models.OptionType]struct{})
	for _, leg := range legs {
		sweep.TotalPremium += leg.Premium
		sweep.TotalContracts += leg.Size
		if leg.Option != nil {
			strikeSet[leg.Option.Strike] = struct{}{}
			typeSet[leg.Option.Type] = struct{}{}
		}
	}

	sweep.Strikes = make([]float64, 0, len(strikeSet))
	for strike := range strikeSet {
		sweep.Strikes = append(sweep.Strikes, strike)
	}
	sort.Float64s(sweep.Strikes)

	for _, optType := range []models.OptionType{models.OptionCall, models.OptionPut} {
		if _, ok := typeSet[optType]; ok {
			sweep.Types = append(sweep.Types, optType)
		}
	}

	return sweep
}
