package learn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelEncoderSortedCodes(t *testing.T) {
	enc := NewLabelEncoder([]string{"b", "a", "Unknown", "b"})

	assert.Equal(t, []string{"Unknown", "a", "b"}, enc.Classes())

	code, err := enc.Encode("b")
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	_, err = enc.Encode("zzz")
	assert.Error(t, err)

	label, err := enc.Decode(1)
	require.NoError(t, err)
	assert.Equal(t, "a", label)

	_, err = enc.Decode(3)
	assert.Error(t, err)
}

func TestFeatureHasherDeterministic(t *testing.T) {
	h := NewFeatureHasher(10)

	a := h.Transform("CC-100")
	b := h.Transform("CC-100")
	assert.Equal(t, a, b)
	assert.Len(t, a, 10)

	var nonZero int
	for _, v := range a {
		if v != 0 {
			nonZero++
			assert.Equal(t, 1.0, math.Abs(v))
		}
	}
	assert.Equal(t, 1, nonZero)
}

func TestIsolationForestFlagsObviousOutlier(t *testing.T) {
	var X [][]float64
	for i := 0; i < 99; i++ {
		X = append(X, []float64{100 + float64(i%7), float64(i % 3)})
	}
	X = append(X, []float64{100000, 1})

	f := NewIsolationForest(0.01, 42)
	flags, scores, err := f.FitPredict(X)
	require.NoError(t, err)

	assert.True(t, flags[99], "the extreme row should be flagged")
	for i := 0; i < 99; i++ {
		assert.Less(t, scores[i], scores[99])
	}
}

func TestIsolationForestDeterministic(t *testing.T) {
	var X [][]float64
	for i := 0; i < 50; i++ {
		X = append(X, []float64{float64(i * i % 17), float64(i % 5)})
	}

	_, s1, err := NewIsolationForest(0.1, 7).FitPredict(X)
	require.NoError(t, err)
	_, s2, err := NewIsolationForest(0.1, 7).FitPredict(X)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}

func TestIsolationForestRejectsBadInput(t *testing.T) {
	assert.Error(t, NewIsolationForest(0.05, 1).Fit(nil))
	assert.Error(t, NewIsolationForest(0.9, 1).Fit([][]float64{{1}, {2}}))
	assert.Error(t, NewIsolationForest(math.NaN(), 1).Fit([][]float64{{1}, {2}}))
	assert.Error(t, NewIsolationForest(math.Inf(1), 1).Fit([][]float64{{1}, {2}}))
	assert.Error(t, NewIsolationForest(0.05, 1).Fit([][]float64{{1}, {math.NaN()}}))
	assert.Error(t, NewIsolationForest(0.05, 1).Fit([][]float64{{1, 2}, {3}}))
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}

func TestPercentile(t *testing.T) {
	v := []float64{4, 1, 3, 2}
	assert.Equal(t, 1.0, percentile(v, 0))
	assert.Equal(t, 4.0, percentile(v, 100))
	assert.InDelta(t, 2.5, percentile(v, 50), 1e-12)
}

func TestRandomForestLearnsDominantFeature(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 120; i++ {
		a := float64(i % 4)
		b := float64(i % 3)
		X = append(X, []float64{a, b})
		y = append(y, a*1000+b)
	}

	f := NewRandomForestRegressor(20, 42)
	require.NoError(t, f.Fit(X, y))

	imp := f.FeatureImportances()
	require.Len(t, imp, 2)
	assert.Greater(t, imp[0], 0.9)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)

	pred, err := f.Predict([][]float64{{3, 0}, {0, 2}})
	require.NoError(t, err)
	assert.InDelta(t, 3000, pred[0], 50)
	assert.InDelta(t, 2, pred[1], 50)
}

func TestRandomForestDeterministic(t *testing.T) {
	X := [][]float64{{0, 1}, {1, 0}, {2, 1}, {3, 0}, {0, 0}, {1, 1}, {2, 0}, {3, 1}}
	y := []float64{5, 9, 4, 12, 6, 8, 3, 11}

	f1 := NewRandomForestRegressor(10, 3)
	f2 := NewRandomForestRegressor(10, 3)
	require.NoError(t, f1.Fit(X, y))
	require.NoError(t, f2.Fit(X, y))

	assert.Equal(t, f1.FeatureImportances(), f2.FeatureImportances())
	p1, _ := f1.Predict(X)
	p2, _ := f2.Predict(X)
	assert.Equal(t, p1, p2)
}

func TestRandomForestConstantTarget(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}}
	y := []float64{7, 7, 7}

	f := NewRandomForestRegressor(5, 1)
	require.NoError(t, f.Fit(X, y))
	assert.Equal(t, []float64{0}, f.FeatureImportances())

	pred, err := f.Predict([][]float64{{5}})
	require.NoError(t, err)
	assert.Equal(t, 7.0, pred[0])
}

func TestRandomForestErrors(t *testing.T) {
	f := NewRandomForestRegressor(5, 1)
	_, err := f.Predict([][]float64{{1}})
	assert.Error(t, err)

	assert.Error(t, f.Fit([][]float64{{1}}, []float64{1, 2}))
	assert.Error(t, f.Fit(nil, nil))
}
