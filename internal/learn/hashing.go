package learn

import (
	"github.com/cespare/xxhash/v2"
)

// FeatureHasher projects category strings into a fixed number of columns.
// Each value lands in one column with a +1 or -1 weight, so collisions tend
// to cancel rather than accumulate.
type FeatureHasher struct {
	NFeatures int
}

// NewFeatureHasher returns a hasher with n output columns.
func NewFeatureHasher(n int) FeatureHasher {
	if n <= 0 {
		n = 1
	}
	return FeatureHasher{NFeatures: n}
}

// Transform returns the hashed vector for a single value.
func (h FeatureHasher) Transform(value string) []float64 {
	out := make([]float64, h.NFeatures)
	h.TransformInto(out, value)
	return out
}

// TransformInto writes the hashed vector for value into dst, which must have
// NFeatures elements.
func (h FeatureHasher) TransformInto(dst []float64, value string) {
	for i := range dst {
		dst[i] = 0
	}
	sum := xxhash.Sum64String(value)
	col := int(sum % uint64(h.NFeatures))
	if sum>>63 == 1 {
		dst[col] = -1
	} else {
		dst[col] = 1
	}
}
