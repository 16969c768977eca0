package learn

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/cwbudde/algo-vecmath"
)

// RandomForestRegressor is a bagged ensemble of CART regression trees.
// Trees consider every feature at each split, in a seeded random order, and
// grow until leaves are pure unless MaxDepth is set.
type RandomForestRegressor struct {
	NTrees   int
	MaxDepth int // 0 means unlimited
	Seed     uint64

	trees       []*regTree
	nFeatures   int
	importances []float64
}

// NewRandomForestRegressor returns a forest of nTrees trees.
func NewRandomForestRegressor(nTrees int, seed uint64) *RandomForestRegressor {
	return &RandomForestRegressor{NTrees: nTrees, Seed: seed}
}

type regNode struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
	leaf      bool
}

type regTree struct {
	nodes      []regNode
	importance []float64
}

// Fit trains the forest on X and y.
func (f *RandomForestRegressor) Fit(X [][]float64, y []float64) error {
	if err := validateMatrix(X); err != nil {
		return fmt.Errorf("RandomForestRegressor.Fit: %w", err)
	}
	if len(y) != len(X) {
		return fmt.Errorf("RandomForestRegressor.Fit: %d targets for %d rows", len(y), len(X))
	}
	if f.NTrees <= 0 {
		return errors.New("RandomForestRegressor.Fit: NTrees must be positive")
	}
	if err := validateMatrix([][]float64{y}); err != nil {
		return fmt.Errorf("RandomForestRegressor.Fit: targets: %w", err)
	}

	f.nFeatures = len(X[0])
	n := len(X)
	rng := rand.New(rand.NewPCG(f.Seed, f.Seed^0xd1b54a32d192ed03))

	f.trees = make([]*regTree, 0, f.NTrees)
	total := make([]float64, f.nFeatures)
	for t := 0; t < f.NTrees; t++ {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		tree := &regTree{importance: make([]float64, f.nFeatures)}
		b := treeBuilder{X: X, y: y, rng: rng, maxDepth: f.MaxDepth, tree: tree}
		b.grow(sample, 0)
		normalizeInPlace(tree.importance)
		vecmath.AddBlockInPlace(total, tree.importance)
		f.trees = append(f.trees, tree)
	}

	f.importances = make([]float64, f.nFeatures)
	normalizeInto(f.importances, total)
	return nil
}

// Predict returns the ensemble mean for each row.
func (f *RandomForestRegressor) Predict(X [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, errors.New("RandomForestRegressor.Predict: model not fitted")
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != f.nFeatures {
			return nil, fmt.Errorf("RandomForestRegressor.Predict: row %d has %d columns, want %d", i, len(row), f.nFeatures)
		}
		var sum float64
		for _, tree := range f.trees {
			sum += tree.predict(row)
		}
		out[i] = sum / float64(len(f.trees))
	}
	return out, nil
}

// FeatureImportances returns the mean decrease in impurity per feature,
// normalized to sum to one. All zeros means no tree ever split.
func (f *RandomForestRegressor) FeatureImportances() []float64 {
	return append([]float64(nil), f.importances...)
}

func (t *regTree) predict(row []float64) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.leaf {
			return n.value
		}
		if row[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type treeBuilder struct {
	X        [][]float64
	y        []float64
	rng      *rand.Rand
	maxDepth int
	tree     *regTree
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	var sum, sumSq float64
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	n := float64(len(idx))
	nodeSSE := sse(sum, sumSq, n)

	at := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, regNode{value: sum / n, leaf: true})

	if len(idx) < 2 || nodeSSE <= 0 || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return at
	}

	feature, threshold, childSSE, ok := b.bestSplit(idx, sum, sumSq)
	if !ok || childSSE >= nodeSSE {
		return at
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.tree.importance[feature] += nodeSSE - childSSE

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.nodes[at] = regNode{feature: feature, threshold: threshold, left: l, right: r, value: sum / n}
	return at
}

func (b *treeBuilder) bestSplit(idx []int, sum, sumSq float64) (int, float64, float64, bool) {
	nFeatures := len(b.X[0])
	order := b.rng.Perm(nFeatures)

	sorted := make([]int, len(idx))
	bestFeature, bestThreshold, bestSSE := -1, 0.0, 0.0

	for _, j := range order {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][j] < b.X[sorted[c]][j] })

		var lSum, lSq float64
		for k := 0; k < len(sorted)-1; k++ {
			yv := b.y[sorted[k]]
			lSum += yv
			lSq += yv * yv

			cur, next := b.X[sorted[k]][j], b.X[sorted[k+1]][j]
			if cur == next {
				continue
			}
			nl := float64(k + 1)
			nr := float64(len(sorted)) - nl
			child := sse(lSum, lSq, nl) + sse(sum-lSum, sumSq-lSq, nr)
			if bestFeature < 0 || child < bestSSE {
				bestFeature = j
				bestThreshold = (cur + next) / 2
				bestSSE = child
			}
		}
	}
	return bestFeature, bestThreshold, bestSSE, bestFeature >= 0
}

// sse is the sum of squared deviations from the mean, clamped at zero
// against cancellation.
func sse(sum, sumSq, n float64) float64 {
	if n == 0 {
		return 0
	}
	v := sumSq - sum*sum/n
	if v < 0 {
		return 0
	}
	return v
}

func normalizeInPlace(v []float64) {
	normalizeInto(v, append([]float64(nil), v...))
}

func normalizeInto(dst, src []float64) {
	var total float64
	for _, x := range src {
		total += x
	}
	if total <= 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	vecmath.ScaleBlock(dst, src, 1/total)
}
