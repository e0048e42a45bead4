package valuation

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// aggregateInput is one holding considered for the fund-level average.
type aggregateInput struct {
	Name   string
	Weight float64
	Ratio  float64
}

// aggregateOutcome is the result of the weighted fund aggregation.
type aggregateOutcome struct {
	Ratio         *float64
	CriPerShare   *float64
	WeightCovered *float64
	ExcludedNames []string
	Warnings      []string
}

// aggregate computes the weight-weighted average ratio over holdings
// that do not trip the outlier-exclusion rule, then scales it by the
// fund's market price. Exclusion: ratio above OutlierRatioMin with
// weight below OutlierWeightMax.
func aggregate(inputs []aggregateInput, fundPrice *float64, th Thresholds) aggregateOutcome {
	var outcome aggregateOutcome

	ratios := make([]float64, 0, len(inputs))
	weights := make([]float64, 0, len(inputs))

	for _, in := range inputs {
		if in.Ratio > th.OutlierRatioMin && in.Weight < th.OutlierWeightMax {
			outcome.ExcludedNames = append(outcome.ExcludedNames,
				fmt.Sprintf("%s: %.2f ratio, %.2f%% weight", in.Name, in.Ratio, in.Weight*100))
			continue
		}
		ratios = append(ratios, in.Ratio)
		weights = append(weights, in.Weight)
	}

	weightSum := 0.0
	for _, w := range weights {
		weightSum += w
	}

	if weightSum > 0 {
		ratio := stat.Mean(ratios, weights)
		outcome.Ratio = &ratio
		outcome.WeightCovered = &weightSum
		if fundPrice != nil {
			cri := ratio * *fundPrice
			outcome.CriPerShare = &cri
		}
		if weightSum < th.CoverageWarnBelow {
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("holdings weights cover %.2f%% of the fund; results scaled by reported weights", weightSum*100))
		}
	}

	if len(outcome.ExcludedNames) > 0 {
		outcome.Warnings = append(outcome.Warnings,
			"excluded low-weight, high-CRI holdings from aggregate calculation: "+strings.Join(outcome.ExcludedNames, "; "))
	}

	return outcome
}
