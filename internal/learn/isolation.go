package learn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

const eulerGamma = 0.5772156649015329

// IsolationForest scores points by how quickly random axis-aligned splits
// separate them from the rest of the sample.
type IsolationForest struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Seed          uint64

	trees     []*isoNode
	psi       int
	threshold float64
	fitted    bool
}

type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int // leaf only
}

// NewIsolationForest returns a forest with the usual defaults: 100 trees and
// sub-samples of at most 256 rows.
func NewIsolationForest(contamination float64, seed uint64) *IsolationForest {
	return &IsolationForest{
		NTrees:        100,
		SampleSize:    256,
		Contamination: contamination,
		Seed:          seed,
	}
}

// Fit builds the trees and derives the outlier cut-off from the training
// scores so that roughly Contamination of them fall above it.
func (f *IsolationForest) Fit(X [][]float64) error {
	if err := validateMatrix(X); err != nil {
		return fmt.Errorf("IsolationForest.Fit: %w", err)
	}
	if !(f.Contamination > 0 && f.Contamination <= 0.5) {
		return fmt.Errorf("IsolationForest.Fit: contamination %v must be in (0, 0.5]", f.Contamination)
	}
	if f.NTrees <= 0 {
		return errors.New("IsolationForest.Fit: NTrees must be positive")
	}

	n := len(X)
	f.psi = f.SampleSize
	if f.psi <= 0 || f.psi > n {
		f.psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(f.psi), 2))))

	rng := rand.New(rand.NewPCG(f.Seed, f.Seed^0x9e3779b97f4a7c15))
	f.trees = make([]*isoNode, 0, f.NTrees)
	for t := 0; t < f.NTrees; t++ {
		sample := sampleWithoutReplacement(rng, n, f.psi)
		f.trees = append(f.trees, buildIsoTree(rng, X, sample, 0, maxDepth))
	}
	f.fitted = true

	scores := f.scoreAll(X)
	f.threshold = percentile(scores, 100*(1-f.Contamination))
	return nil
}

// Scores returns the anomaly score of each row in (0, 1]; larger is more
// anomalous.
func (f *IsolationForest) Scores(X [][]float64) ([]float64, error) {
	if !f.fitted {
		return nil, errors.New("IsolationForest.Scores: model not fitted")
	}
	return f.scoreAll(X), nil
}

// FitPredict fits on X and returns the per-row outlier flags and scores.
func (f *IsolationForest) FitPredict(X [][]float64) ([]bool, []float64, error) {
	if err := f.Fit(X); err != nil {
		return nil, nil, err
	}
	scores := f.scoreAll(X)
	flags := make([]bool, len(scores))
	for i, s := range scores {
		flags[i] = s > f.threshold
	}
	return flags, scores, nil
}

func (f *IsolationForest) scoreAll(X [][]float64) []float64 {
	norm := averagePathLength(f.psi)
	scores := make([]float64, len(X))
	for i, row := range X {
		var total float64
		for _, tree := range f.trees {
			total += pathLength(tree, row, 0)
		}
		mean := total / float64(len(f.trees))
		if norm == 0 {
			scores[i] = 1
			continue
		}
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

func buildIsoTree(rng *rand.Rand, X [][]float64, idx []int, depth, maxDepth int) *isoNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isoNode{size: len(idx)}
	}

	// Only features that still vary inside this node can split it.
	nFeatures := len(X[idx[0]])
	var candidates []int
	mins := make([]float64, nFeatures)
	maxs := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		lo, hi := X[idx[0]][j], X[idx[0]][j]
		for _, i := range idx[1:] {
			v := X[i][j]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		mins[j], maxs[j] = lo, hi
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{size: len(idx)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	split := mins[feature] + rng.Float64()*(maxs[feature]-mins[feature])

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildIsoTree(rng, X, left, depth+1, maxDepth),
		right:   buildIsoTree(rng, X, right, depth+1, maxDepth),
	}
}

func pathLength(node *isoNode, row []float64, depth int) float64 {
	for node.left != nil {
		if row[node.feature] <= node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

func sampleWithoutReplacement(rng *rand.Rand, n, k int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func validateMatrix(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("empty feature matrix")
	}
	width := len(X[0])
	if width == 0 {
		return errors.New("feature matrix has no columns")
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d column %d is not finite", i, j)
			}
		}
	}
	return nil
}
