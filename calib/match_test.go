package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsPoints(idx ...int) []ObservedPoint {
	out := make([]ObservedPoint, len(idx))
	for i, id := range idx {
		out[i] = ObservedPoint{Index: id, Row: float64(10 * id), Col: float64(20 * id)}
	}
	return out
}

func reprojPoints(idx ...int) []ReprojectedPoint {
	out := make([]ReprojectedPoint, len(idx))
	for i, id := range idx {
		out[i] = ReprojectedPoint{Index: id, Row: float64(10*id) + 0.5, Col: float64(20 * id)}
	}
	return out
}

func matchedIndices(m MatchResult) []int {
	out := make([]int, len(m.Matched))
	for i, c := range m.Matched {
		out[i] = c.Index
	}
	return out
}

func TestMatch_SameIndices(t *testing.T) {
	m := Match(obsPoints(0, 1, 2), reprojPoints(0, 1, 2))

	assert.Equal(t, []int{0, 1, 2}, matchedIndices(m))
	assert.Empty(t, m.UnmatchedObserved)
	assert.Empty(t, m.UnmatchedReprojected)
	for _, c := range m.Matched {
		assert.Equal(t, c.Index, c.Observed.Index)
		assert.Equal(t, c.Index, c.Reprojected.Index)
	}
}

func TestMatch_PartialOverlap(t *testing.T) {
	m := Match(obsPoints(0, 1, 2), reprojPoints(2, 3))

	require.Len(t, m.Matched, 1)
	assert.Equal(t, 2, m.Matched[0].Index)
	assert.Equal(t, []ObservedPoint{{Index: 0, Row: 0, Col: 0}, {Index: 1, Row: 10, Col: 20}}, m.UnmatchedObserved)
	require.Len(t, m.UnmatchedReprojected, 1)
	assert.Equal(t, 3, m.UnmatchedReprojected[0].Index)
}

func TestMatch_Disjoint(t *testing.T) {
	m := Match(obsPoints(0, 1), reprojPoints(5, 6))

	assert.Empty(t, m.Matched)
	assert.Len(t, m.UnmatchedObserved, 2)
	assert.Len(t, m.UnmatchedReprojected, 2)
}

func TestMatch_Empty(t *testing.T) {
	m := Match(nil, nil)
	assert.Empty(t, m.Matched)

	m = Match(obsPoints(1), nil)
	assert.Empty(t, m.Matched)
	assert.Len(t, m.UnmatchedObserved, 1)
}

func TestMatch_KeepsObservedOrder(t *testing.T) {
	m := Match(obsPoints(4, 1, 3), reprojPoints(1, 3, 4))
	assert.Equal(t, []int{4, 1, 3}, matchedIndices(m))
}

func TestMatch_OrderIndependentSet(t *testing.T) {
	a := Match(obsPoints(0, 1, 2, 3), reprojPoints(3, 2, 9))
	b := Match(obsPoints(3, 2, 1, 0), reprojPoints(9, 2, 3))

	assert.ElementsMatch(t, matchedIndices(a), matchedIndices(b))
}

func TestMatch_CountBound(t *testing.T) {
	obs := obsPoints(0, 1, 2, 3, 4)
	rep := reprojPoints(2, 4, 6)
	m := Match(obs, rep)

	assert.LessOrEqual(t, len(m.Matched), len(obs))
	assert.LessOrEqual(t, len(m.Matched), len(rep))
	assert.Equal(t, len(obs), len(m.Matched)+len(m.UnmatchedObserved))
	assert.Equal(t, len(rep), len(m.Matched)+len(m.UnmatchedReprojected))
}

func TestMatch_DuplicateIndicesFirstWins(t *testing.T) {
	obs := []ObservedPoint{{Index: 1, Row: 1}, {Index: 1, Row: 2}}
	rep := []ReprojectedPoint{{Index: 1, Row: 5}, {Index: 1, Row: 6}}

	m := Match(obs, rep)

	require.Len(t, m.Matched, 1)
	assert.Equal(t, 1.0, m.Matched[0].Observed.Row)
	assert.Equal(t, 5.0, m.Matched[0].Reprojected.Row)
	assert.Len(t, m.UnmatchedObserved, 1)
	assert.Len(t, m.UnmatchedReprojected, 1)
}

func TestMatch_RepeatedObservedIndexPairsOnce(t *testing.T) {
	obs := []ObservedPoint{{Index: 1, Row: 1}, {Index: 1, Row: 2}, {Index: 1, Row: 3}}
	rep := []ReprojectedPoint{{Index: 1, Row: 5}}

	m := Match(obs, rep)

	require.Len(t, m.Matched, 1)
	assert.Equal(t, 1.0, m.Matched[0].Observed.Row)
	assert.Len(t, m.UnmatchedObserved, 2)
	assert.Empty(t, m.UnmatchedReprojected)
	assert.LessOrEqual(t, len(m.Matched), len(rep))
}

// ---- match then aggregate ----

func TestMatchAggregate_SingleMark(t *testing.T) {
	obs := []ObservedPoint{{Index: 1, Row: 10, Col: 20}}
	rep := []ReprojectedPoint{{Index: 1, Row: 10.5, Col: 20.2}}

	m := Match(obs, rep)
	summary, records, err := Aggregate(m.Matched)

	assert.ErrorIs(t, err, ErrInsufficientSamples)
	require.Len(t, records, 1)
	assert.Equal(t, 10.0, records[0].Row)
	assert.Equal(t, 20.0, records[0].Col)
	assert.InDelta(t, 0.5, records[0].DeltaRow, 1e-12)
	assert.InDelta(t, 0.2, records[0].DeltaCol, 1e-12)
	assert.InDelta(t, 0.5385, records[0].Error, 1e-4)
	assert.InDelta(t, math.Hypot(0.5, 0.2), summary.MeanMagnitude, 1e-12)
	assert.True(t, math.IsNaN(summary.StdMagnitude))
}

func TestMatchAggregate_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		obs      []ObservedPoint
		rep      []ReprojectedPoint
		wantMean float64
		wantStd  float64
		wantN    int
	}{
		{
			name:     "constant row shift",
			obs:      []ObservedPoint{{0, 100, 100}, {1, 200, 100}, {2, 300, 100}},
			rep:      []ReprojectedPoint{{0, 100.5, 100}, {1, 200.5, 100}, {2, 300.5, 100}},
			wantMean: 0.5,
			wantStd:  0,
			wantN:    3,
		},
		{
			name:     "varying row shift",
			obs:      []ObservedPoint{{0, 10, 10}, {1, 20, 10}, {2, 30, 10}},
			rep:      []ReprojectedPoint{{0, 10.1, 10}, {1, 20.3, 10}, {2, 30.2, 10}},
			wantMean: 0.2,
			wantStd:  0.1,
			wantN:    3,
		},
		{
			name:     "row and column shift",
			obs:      []ObservedPoint{{0, 0, 0}, {1, 1, 1}},
			rep:      []ReprojectedPoint{{0, 0.2, 0.5}, {1, 1.2, 1.5}},
			wantMean: math.Hypot(0.2, 0.5),
			wantStd:  0,
			wantN:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Match(tt.obs, tt.rep)
			summary, records, err := Aggregate(m.Matched)
			require.NoError(t, err)
			assert.Equal(t, tt.wantN, summary.Count)
			assert.Len(t, records, tt.wantN)
			assert.InDelta(t, tt.wantMean, summary.MeanMagnitude, 1e-9)
			assert.InDelta(t, tt.wantStd, summary.StdMagnitude, 1e-9)
		})
	}
}

func TestMatchAggregate_OnlySharedIndexCounts(t *testing.T) {
	obs := []ObservedPoint{{0, 1, 1}, {2, 5, 5}}
	rep := []ReprojectedPoint{{1, 3, 3}, {2, 5.3, 5.4}}

	m := Match(obs, rep)
	require.Len(t, m.Matched, 1)

	summary, records, err := Aggregate(m.Matched)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
	require.Len(t, records, 1)
	assert.InDelta(t, 0.5, summary.MeanMagnitude, 1e-9)
	assert.True(t, math.IsNaN(summary.StdMagnitude))
}
