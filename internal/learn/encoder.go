// Package learn holds the small, self-contained learners used by the
// analysis engines: a label encoder, a feature hasher, an isolation forest and
// a random forest regressor. Every model is built per call and never shared.
package learn

import (
	"fmt"
	"sort"
)

// LabelEncoder maps category strings to dense integer codes in sorted order.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// NewLabelEncoder fits an encoder on the distinct values.
func NewLabelEncoder(values []string) *LabelEncoder {
	index := make(map[string]int)
	for _, v := range values {
		index[v] = 0
	}
	classes := make([]string, 0, len(index))
	for v := range index {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	for i, c := range classes {
		index[c] = i
	}
	return &LabelEncoder{classes: classes, index: index}
}

// Classes returns the fitted categories, ordered by code.
func (e *LabelEncoder) Classes() []string {
	return e.classes
}

// Encode returns the code for v.
func (e *LabelEncoder) Encode(v string) (int, error) {
	code, ok := e.index[v]
	if !ok {
		return 0, fmt.Errorf("Encode: unseen label %q", v)
	}
	return code, nil
}

// Decode returns the category for a code.
func (e *LabelEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", fmt.Errorf("Decode: code %d out of range [0,%d)", code, len(e.classes))
	}
	return e.classes[code], nil
}
