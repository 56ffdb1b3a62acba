package main

import (
	"context"
	"errors"
	"testing"
)

func testCaseBase() []Case {
	return []Case{
		{Text: "the senator is wrong because he is a terrible person", Label: "ad hominem"},
		{Text: "everyone agrees with this policy so it must be right", Label: "ad populum"},
		{Text: "the senator is wrong because he is a liar and a cheat", Label: "ad hominem"},
		{Text: "after the new mayor took office crime went up", Label: "false causality"},
		{Text: "millions of people use this product so it works", Label: "ad populum"},
	}
}

func newTestRetriever(t *testing.T) *SimilarityRetriever {
	t.Helper()
	r, err := NewSimilarityRetriever(context.Background(), NewTFIDFEmbedder(), testCaseBase(), 0, ModeText)
	if err != nil {
		t.Fatalf("NewSimilarityRetriever failed: %v", err)
	}
	return r
}

func TestRetrieveSimilarCases(t *testing.T) {
	r := newTestRetriever(t)

	hits, err := r.RetrieveSimilarCases(context.Background(), "the senator is a terrible liar", 3, -1)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits for an overlapping query")
	}
	if len(hits) > 3 {
		t.Fatalf("got %d hits, want at most 3", len(hits))
	}

	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores not non-increasing: %f then %f", hits[i-1].Score, hits[i].Score)
		}
	}

	// Lexical overlap should surface the ad hominem cases first.
	if hits[0].Label != "ad hominem" {
		t.Errorf("top hit label = %q, want ad hominem", hits[0].Label)
	}
}

func TestRetrieveThresholdRespected(t *testing.T) {
	r := newTestRetriever(t)

	hits, err := r.RetrieveSimilarCases(context.Background(), "the senator is a terrible liar", 5, 0.99)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	for _, h := range hits {
		if h.Score < 0.99 {
			t.Errorf("hit score %f below threshold 0.99", h.Score)
		}
	}
}

func TestRetrieveExcludesSelf(t *testing.T) {
	r := newTestRetriever(t)
	self := testCaseBase()[0].Text

	hits, err := r.RetrieveSimilarCases(context.Background(), self, 5, -1)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	for _, h := range hits {
		if h.Text == self {
			t.Errorf("query retrieved itself: %q", h.Text)
		}
	}
}

func TestRetrieveZeroCases(t *testing.T) {
	r := newTestRetriever(t)

	hits, err := r.RetrieveSimilarCases(context.Background(), "anything", 0, -1)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("numCases=0 returned %d hits", len(hits))
	}
}

func TestRatioOfSourceUsed(t *testing.T) {
	base := testCaseBase()
	r, err := NewSimilarityRetriever(context.Background(), NewTFIDFEmbedder(), base, 0.4, ModeText)
	if err != nil {
		t.Fatalf("NewSimilarityRetriever failed: %v", err)
	}

	// Only the first 2 of 5 cases are indexed.
	if got := r.index.Len(); got != 2 {
		t.Errorf("indexed %d cases, want 2", got)
	}

	hits, err := r.RetrieveSimilarCases(context.Background(), base[4].Text, 5, -1)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	for _, h := range hits {
		if h.Text == base[3].Text || h.Text == base[4].Text {
			t.Errorf("retrieved case outside the used ratio: %q", h.Text)
		}
	}
}

func TestNewRetrieverUnknownKind(t *testing.T) {
	_, err := NewRetriever(context.Background(), RetrieverConfig{Kind: "bm25"}, testCaseBase(), ModeText)
	if !errors.Is(err, ErrUnknownRetriever) {
		t.Errorf("error = %v, want ErrUnknownRetriever", err)
	}
}

func TestNewRetrieverTFIDF(t *testing.T) {
	r, err := NewRetriever(context.Background(), RetrieverConfig{Kind: RetrieverTFIDF}, testCaseBase(), ModeText)
	if err != nil {
		t.Fatalf("NewRetriever(tfidf) failed: %v", err)
	}
	if r == nil {
		t.Fatal("NewRetriever returned nil retriever")
	}
}

func TestRetrieveIndexesFeatureColumn(t *testing.T) {
	base := []Case{
		{
			Text:     "the senator cheated on his taxes so his bill is bad",
			Label:    "ad hominem",
			Features: map[string]string{ModeStructure: "attack on the person not the claim"},
		},
		{
			Text:     "crime rose after the mayor took office",
			Label:    "false causality",
			Features: map[string]string{ModeStructure: "sequence in time mistaken for a cause"},
		},
	}
	r, err := NewSimilarityRetriever(context.Background(), NewTFIDFEmbedder(), base, 0, ModeStructure)
	if err != nil {
		t.Fatalf("NewSimilarityRetriever failed: %v", err)
	}

	// The query shares words only with the first case's structure column.
	hits, err := r.RetrieveSimilarCases(context.Background(), "an attack on the person making the claim", 1, -1)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Label != "ad hominem" {
		t.Errorf("top hit label = %q, want ad hominem", hits[0].Label)
	}
	if hits[0].Text != base[0].Features[ModeStructure] {
		t.Errorf("hit text = %q, want the indexed structure column", hits[0].Text)
	}

	// Self-match exclusion keys on the indexed column, not the raw text.
	self, err := r.RetrieveSimilarCases(context.Background(), base[0].Features[ModeStructure], 2, -1)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	for _, h := range self {
		if h.Text == base[0].Features[ModeStructure] {
			t.Errorf("query retrieved itself: %q", h.Text)
		}
	}
}

func TestNewRetrieverMissingFeature(t *testing.T) {
	_, err := NewSimilarityRetriever(context.Background(), NewTFIDFEmbedder(), testCaseBase(), 0, ModeStructure)
	if !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("error = %v, want ErrUnknownFeature", err)
	}
}
