package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrUnknownLabel is returned when a label was not seen during fitting.
var ErrUnknownLabel = errors.New("unknown label")

// LabelEncoder maps class names to dense integer indices. The mapping is
// deterministic: classes are sorted lexicographically, so the same label
// set always yields the same encoding.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// NewLabelEncoder fits an encoder on the given labels. Duplicates are
// collapsed; ordering of the input does not matter.
func NewLabelEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}

	classes := make([]string, 0, len(seen))
	for l := range seen {
		classes = append(classes, l)
	}
	sort.Strings(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	return &LabelEncoder{classes: classes, index: index}
}

// Classes returns the class names in index order.
func (e *LabelEncoder) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

// NumClasses returns the number of distinct classes.
func (e *LabelEncoder) NumClasses() int {
	return len(e.classes)
}

// Transform maps a label to its index.
func (e *LabelEncoder) Transform(label string) (int, error) {
	idx, ok := e.index[label]
	if !ok {
		return 0, fmt.Errorf("label %q: %w", label, ErrUnknownLabel)
	}
	return idx, nil
}

// TransformAll maps a slice of labels to indices, failing on the first
// unseen label.
func (e *LabelEncoder) TransformAll(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		idx, err := e.Transform(l)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

// Save writes the class names to a file, one per line in index order.
func (e *LabelEncoder) Save(filename string) error {
	data := strings.Join(e.classes, "\n") + "\n"
	if err := os.WriteFile(filename, []byte(data), 0o644); err != nil {
		return fmt.Errorf("labels: %w", err)
	}
	return nil
}

// LoadLabelEncoder reads class names written by Save. Line order is the
// index order, so the encoding survives the round trip even if the
// classes were not sorted when saved.
func LoadLabelEncoder(filename string) (*LabelEncoder, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}

	classes := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(classes) == 1 && classes[0] == "" {
		return nil, fmt.Errorf("labels: %s is empty", filename)
	}

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &LabelEncoder{classes: classes, index: index}, nil
}

// Inverse maps an index back to its label.
func (e *LabelEncoder) Inverse(idx int) (string, error) {
	if idx < 0 || idx >= len(e.classes) {
		return "", fmt.Errorf("label index %d out of range [0,%d): %w", idx, len(e.classes), ErrUnknownLabel)
	}
	return e.classes[idx], nil
}
