package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// badClasses are fallacy types with too few or too noisy examples to
// train on. Rows carrying these labels are dropped from every split
// before label encoding.
var badClasses = []string{
	"prejudicial language",
	"fallacy of slippery slope",
	"slothful induction",
}

// Case is one labeled example. Features holds the auxiliary per-row
// columns of the source data (argument structure, counterargument, ...)
// that some augmentation templates splice into the model input.
type Case struct {
	Text     string
	Label    string
	Features map[string]string
}

// Feature returns the named auxiliary column of the case.
func (c Case) Feature(name string) (string, error) {
	v, ok := c.Features[name]
	if !ok {
		return "", fmt.Errorf("feature %q: %w", name, ErrUnknownFeature)
	}
	return v, nil
}

// Dataset is one split of labeled cases.
type Dataset struct {
	Cases []Case
}

// Len returns the number of cases in the split.
func (d *Dataset) Len() int { return len(d.Cases) }

// Texts returns the case texts in order.
func (d *Dataset) Texts() []string {
	out := make([]string, len(d.Cases))
	for i, c := range d.Cases {
		out[i] = c.Text
	}
	return out
}

// Labels returns the case labels in order.
func (d *Dataset) Labels() []string {
	out := make([]string, len(d.Cases))
	for i, c := range d.Cases {
		out[i] = c.Label
	}
	return out
}

// LoadDataset reads a CSV split. The header row must contain "text" and
// "label" columns; every other column is kept as a case feature. Rows
// whose label is in badClasses are dropped.
func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	defer f.Close()

	return readDataset(f, path)
}

func readDataset(r io.Reader, name string) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: read header: %w", name, err)
	}

	textCol, labelCol := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "text":
			textCol = i
		case "label":
			labelCol = i
		}
	}
	if textCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("load dataset %s: header must contain text and label columns, got %v", name, header)
	}

	bad := make(map[string]struct{}, len(badClasses))
	for _, c := range badClasses {
		bad[c] = struct{}{}
	}

	var cases []Case
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load dataset %s: line %d: %w", name, line, err)
		}
		if len(record) <= textCol || len(record) <= labelCol {
			return nil, fmt.Errorf("load dataset %s: line %d: %d fields, need at least %d", name, line, len(record), max(textCol, labelCol)+1)
		}

		label := strings.TrimSpace(record[labelCol])
		if _, drop := bad[label]; drop {
			continue
		}

		features := make(map[string]string)
		for i, col := range header {
			if i == textCol || i == labelCol || i >= len(record) {
				continue
			}
			features[strings.TrimSpace(strings.ToLower(col))] = record[i]
		}

		cases = append(cases, Case{
			Text:     record[textCol],
			Label:    label,
			Features: features,
		})
	}

	return &Dataset{Cases: cases}, nil
}

// Splits bundles the three dataset splits used by a run.
type Splits struct {
	Train *Dataset
	Dev   *Dataset
	Test  *Dataset
}

// LoadSplits reads the train, dev, and test CSVs named by the config.
func LoadSplits(cfg DataConfig) (*Splits, error) {
	train, err := LoadDataset(cfg.TrainPath)
	if err != nil {
		return nil, err
	}
	dev, err := LoadDataset(cfg.DevPath)
	if err != nil {
		return nil, err
	}
	test, err := LoadDataset(cfg.TestPath)
	if err != nil {
		return nil, err
	}
	return &Splits{Train: train, Dev: dev, Test: test}, nil
}
