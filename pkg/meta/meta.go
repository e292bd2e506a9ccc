// Package meta implements the fixed-effect inverse-variance
// meta-analysis shared by trait nodes (heritability) and correlation
// edges (genetic correlation).
package meta

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Result is the combined estimate across the studies that entered the
// meta-analysis. Used is the number of contributing studies; when it
// is zero the remaining fields are undefined.
type Result struct {
	Value float64 `json:"value"`
	SE    float64 `json:"se"`
	Z     float64 `json:"z"`
	P     float64 `json:"p"`
	Used  int     `json:"used"`
}

// Valid reports whether an estimate and its standard error may enter
// a meta-analysis: both finite, standard error strictly positive.
func Valid(estimate, se float64) bool {
	if math.IsNaN(estimate) || math.IsInf(estimate, 0) {
		return false
	}
	if math.IsNaN(se) || math.IsInf(se, 0) {
		return false
	}
	return se > 0
}

// Combine runs a fixed-effect inverse-variance meta-analysis over the
// given estimates and their standard errors. Every pair must already
// satisfy Valid. Weights are 1/se²; the combined standard error is
// 1/sqrt(sum of weights). A single pair is returned unchanged so one
// study's numbers pass through exactly.
func Combine(values, ses []float64) Result {
	if len(values) != len(ses) {
		panic("meta: slice length mismatch")
	}
	switch len(values) {
	case 0:
		return Result{}
	case 1:
		z := values[0] / ses[0]
		return Result{
			Value: values[0],
			SE:    ses[0],
			Z:     z,
			P:     TwoSidedP(z),
			Used:  1,
		}
	}

	weights := make([]float64, len(ses))
	for i, se := range ses {
		weights[i] = 1 / (se * se)
	}

	value := stat.Mean(values, weights)
	se := 1 / math.Sqrt(floats.Sum(weights))
	z := value / se

	return Result{
		Value: value,
		SE:    se,
		Z:     z,
		P:     TwoSidedP(z),
		Used:  len(values),
	}
}

// TwoSidedP converts a z score into a two-sided p-value under the
// standard normal distribution.
func TwoSidedP(z float64) float64 {
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}
