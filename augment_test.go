package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func retrieved(texts ...string) []RetrievedCase {
	out := make([]RetrievedCase, len(texts))
	for i, txt := range texts {
		out[i] = RetrievedCase{Text: txt, Label: "ad hominem", Score: 1 - float64(i)*0.1}
	}
	return out
}

func TestBuildAugmentedTextTextMode(t *testing.T) {
	c := Case{Text: "original argument"}

	got, err := BuildAugmentedText(ModeText, c, retrieved("A", "B"), "[SEP]")
	if err != nil {
		t.Fatalf("BuildAugmentedText failed: %v", err)
	}

	want := "original argument [SEP] A [SEP] B"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildAugmentedTextStructureMode(t *testing.T) {
	c := Case{
		Text:     "original argument",
		Features: map[string]string{"structure": "F"},
	}

	got, err := BuildAugmentedText(ModeStructure, c, retrieved("A", "B"), "[SEP]")
	if err != nil {
		t.Fatalf("BuildAugmentedText failed: %v", err)
	}

	want := "original argument [SEP] F [SEP] A [SEP] F [SEP] B"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildAugmentedTextNoRetrievals(t *testing.T) {
	c := Case{Text: "untouched original"}

	got, err := BuildAugmentedText(ModeText, c, nil, "[SEP]")
	if err != nil {
		t.Fatalf("BuildAugmentedText failed: %v", err)
	}
	if got != c.Text {
		t.Errorf("zero retrievals changed the text: %q", got)
	}

	// Same for the feature modes: the template only applies when there
	// is something to splice in.
	got, err = BuildAugmentedText(ModeCounter, c, nil, "[SEP]")
	if err != nil {
		t.Fatalf("BuildAugmentedText failed: %v", err)
	}
	if got != c.Text {
		t.Errorf("zero retrievals changed the text in counter mode: %q", got)
	}
}

func TestBuildAugmentedTextMissingFeature(t *testing.T) {
	c := Case{Text: "x", Features: map[string]string{}}

	_, err := BuildAugmentedText(ModeCounter, c, retrieved("A"), "[SEP]")
	if !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("error = %v, want ErrUnknownFeature", err)
	}
}

func TestBuildAugmentedTextUnknownMode(t *testing.T) {
	_, err := BuildAugmentedText("nonsense", Case{Text: "x"}, retrieved("A"), "[SEP]")
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("error = %v, want ErrUnknownMode", err)
	}
}

// flakyRetriever fails on one specific query index and succeeds elsewhere.
type flakyRetriever struct {
	calls    int
	failCall int
}

func (f *flakyRetriever) RetrieveSimilarCases(_ context.Context, query string, numCases int, threshold float64) ([]RetrievedCase, error) {
	call := f.calls
	f.calls++
	if call == f.failCall {
		return nil, fmt.Errorf("backend unavailable")
	}
	return []RetrievedCase{{Text: "hit for " + query, Score: 0.9}}, nil
}

func TestAugmentCasesIsolatesRowFailures(t *testing.T) {
	ds := &Dataset{}
	for i := 0; i < 5; i++ {
		ds.Cases = append(ds.Cases, Case{Text: fmt.Sprintf("row %d", i), Label: "ad hominem"})
	}

	r := &flakyRetriever{failCall: 2}
	out, err := AugmentCases(context.Background(), ds, []Retriever{r}, AugmentOptions{
		Mode: ModeText, NumCases: 1, Threshold: -1,
	})
	if err != nil {
		t.Fatalf("AugmentCases failed: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("got %d rows, want 5", len(out))
	}

	for i, a := range out {
		if i == 2 {
			// The failed row keeps its original text.
			if a.Text != ds.Cases[i].Text {
				t.Errorf("failed row text = %q, want original", a.Text)
			}
			if len(a.Retrieved) != 0 {
				t.Errorf("failed row has %d retrievals, want 0", len(a.Retrieved))
			}
			continue
		}
		want := fmt.Sprintf("row %d [SEP] hit for row %d", i, i)
		if a.Text != want {
			t.Errorf("row %d text = %q, want %q", i, a.Text, want)
		}
	}
}

func TestAugmentCasesConcatenatesInRetrieverOrder(t *testing.T) {
	ds := &Dataset{Cases: []Case{{Text: "q", Label: "ad hominem"}}}

	first := fixedRetriever{RetrievedCase{Text: "low", Score: 0.1}}
	second := fixedRetriever{RetrievedCase{Text: "high", Score: 0.9}}

	out, err := AugmentCases(context.Background(), ds, []Retriever{first, second}, AugmentOptions{
		Mode: ModeText, NumCases: 1, Threshold: -1,
	})
	if err != nil {
		t.Fatalf("AugmentCases failed: %v", err)
	}

	// The lower-scoring hit comes first because its retriever is first.
	want := "q [SEP] low [SEP] high"
	if out[0].Text != want {
		t.Errorf("text = %q, want %q", out[0].Text, want)
	}
}

// fixedRetriever always returns the same results.
type fixedRetriever []RetrievedCase

func (f fixedRetriever) RetrieveSimilarCases(context.Context, string, int, float64) ([]RetrievedCase, error) {
	return f, nil
}

// recordingRetriever remembers the queries it was asked.
type recordingRetriever struct {
	queries []string
}

func (r *recordingRetriever) RetrieveSimilarCases(_ context.Context, query string, _ int, _ float64) ([]RetrievedCase, error) {
	r.queries = append(r.queries, query)
	return nil, nil
}

func TestAugmentCasesQueriesFeatureColumn(t *testing.T) {
	ds := &Dataset{Cases: []Case{{
		Text:     "the senator is wrong because he is a liar",
		Label:    "ad hominem",
		Features: map[string]string{ModeStructure: "attack on the person"},
	}}}

	r := &recordingRetriever{}
	_, err := AugmentCases(context.Background(), ds, []Retriever{r}, AugmentOptions{
		Mode: ModeStructure, NumCases: 1, Threshold: -1,
	})
	if err != nil {
		t.Fatalf("AugmentCases failed: %v", err)
	}
	if len(r.queries) != 1 || r.queries[0] != "attack on the person" {
		t.Errorf("queries = %v, want the structure column", r.queries)
	}

	// In text mode the raw text is the query.
	r = &recordingRetriever{}
	if _, err := AugmentCases(context.Background(), ds, []Retriever{r}, AugmentOptions{
		Mode: ModeText, NumCases: 1, Threshold: -1,
	}); err != nil {
		t.Fatalf("AugmentCases failed: %v", err)
	}
	if len(r.queries) != 1 || r.queries[0] != ds.Cases[0].Text {
		t.Errorf("queries = %v, want the case text", r.queries)
	}
}

func TestAugmentCasesMissingQueryFeature(t *testing.T) {
	ds := &Dataset{Cases: []Case{{Text: "x", Label: "ad hominem"}}}

	_, err := AugmentCases(context.Background(), ds, []Retriever{fixedRetriever{}}, AugmentOptions{
		Mode: ModeGoals, NumCases: 1, Threshold: -1,
	})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("error = %v, want ErrUnknownFeature", err)
	}
}
