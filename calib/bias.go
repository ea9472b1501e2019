package calib

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoCorrespondences is returned when there is nothing to aggregate
	ErrNoCorrespondences = errors.New("no matched calibration marks")
	// ErrInsufficientSamples is returned when the spread cannot be computed (n < 2)
	ErrInsufficientSamples = errors.New("at least two matched marks are required for a spread estimate")
)

// Aggregate computes the bias statistics and the per-mark records of a set of
// correspondences.
//
// For a single correspondence the records and MeanMagnitude are returned
// together with ErrInsufficientSamples; StdMagnitude is NaN. For none, both
// statistics are NaN and ErrNoCorrespondences is returned.
func Aggregate(corrs []Correspondence) (BiasSummary, []BiasRecord, error) {
	summary := BiasSummary{
		MeanMagnitude: math.NaN(),
		StdMagnitude:  math.NaN(),
		Count:         len(corrs),
	}
	if len(corrs) == 0 {
		return summary, nil, ErrNoCorrespondences
	}

	records := make([]BiasRecord, len(corrs))
	deltaRow := make([]float64, len(corrs))
	deltaCol := make([]float64, len(corrs))
	for i, c := range corrs {
		dr := c.Reprojected.Row - c.Observed.Row
		dc := c.Reprojected.Col - c.Observed.Col
		deltaRow[i] = dr
		deltaCol[i] = dc
		pos := c.Observed
		if c.Position != nil {
			pos = *c.Position
		}
		records[i] = BiasRecord{
			Row:      pos.Row,
			Col:      pos.Col,
			DeltaRow: dr,
			DeltaCol: dc,
			Error:    math.Hypot(dr, dc),
		}
	}

	summary.MeanMagnitude = math.Hypot(stat.Mean(deltaRow, nil), stat.Mean(deltaCol, nil))
	if len(corrs) < 2 {
		return summary, records, ErrInsufficientSamples
	}

	// stat.StdDev is the unbiased (n-1) estimate
	summary.StdMagnitude = math.Hypot(stat.StdDev(deltaRow, nil), stat.StdDev(deltaCol, nil))
	return summary, records, nil
}
