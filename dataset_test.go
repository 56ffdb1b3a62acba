package main

import (
	"errors"
	"strings"
	"testing"
)

const testCSV = `text,label,structure,counter
"Everyone believes it, so it must be true.",ad populum,appeal to popularity,not everyone believes it
"You're wrong because you're an idiot.",ad hominem,personal attack,insults are not arguments
"One small step leads to disaster.",fallacy of slippery slope,chain of doom,steps are independent
"It rained after I washed my car.",false causality,correlation as causation,coincidence
`

func TestReadDataset(t *testing.T) {
	ds, err := readDataset(strings.NewReader(testCSV), "test")
	if err != nil {
		t.Fatalf("readDataset failed: %v", err)
	}

	// The slippery slope row carries a bad class and must be dropped.
	if ds.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", ds.Len())
	}

	for _, c := range ds.Cases {
		if c.Label == "fallacy of slippery slope" {
			t.Errorf("bad class %q survived filtering", c.Label)
		}
	}

	first := ds.Cases[0]
	if first.Label != "ad populum" {
		t.Errorf("first label = %q, want %q", first.Label, "ad populum")
	}

	feat, err := first.Feature("structure")
	if err != nil {
		t.Fatalf("Feature(structure) failed: %v", err)
	}
	if feat != "appeal to popularity" {
		t.Errorf("structure feature = %q, want %q", feat, "appeal to popularity")
	}
}

func TestReadDatasetMissingColumns(t *testing.T) {
	_, err := readDataset(strings.NewReader("a,b\n1,2\n"), "test")
	if err == nil {
		t.Fatal("expected error for CSV without text/label columns")
	}
}

func TestCaseUnknownFeature(t *testing.T) {
	c := Case{Text: "x", Label: "y", Features: map[string]string{"structure": "s"}}

	if _, err := c.Feature("nope"); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("Feature(nope) error = %v, want ErrUnknownFeature", err)
	}
}

func TestDatasetAccessors(t *testing.T) {
	ds, err := readDataset(strings.NewReader(testCSV), "test")
	if err != nil {
		t.Fatalf("readDataset failed: %v", err)
	}

	texts, labels := ds.Texts(), ds.Labels()
	if len(texts) != ds.Len() || len(labels) != ds.Len() {
		t.Fatalf("accessor lengths %d/%d, want %d", len(texts), len(labels), ds.Len())
	}
	if labels[1] != "ad hominem" {
		t.Errorf("labels[1] = %q, want %q", labels[1], "ad hominem")
	}
}
