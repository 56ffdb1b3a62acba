package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Errors from template construction.
var (
	ErrUnknownFeature = errors.New("unknown case feature")
	ErrUnknownMode    = errors.New("unknown augmentation mode")
)

// Augmentation modes. The mode selects both which retriever corpus is
// built upstream and how retrieved cases are spliced into the input.
const (
	ModeText         = "text"
	ModeExplanations = "explanations"
	ModeGoals        = "goals"
	ModeStructure    = "structure"
	ModeCounter      = "counter"
)

// DefaultSep separates the original text from retrieved material.
const DefaultSep = "[SEP]"

// AugmentedExample is one case together with its retrieval-augmented
// input text.
type AugmentedExample struct {
	Original  Case
	Text      string // Model input: original text plus retrieved material
	Retrieved []RetrievedCase
}

// AugmentOptions controls how a dataset is augmented.
type AugmentOptions struct {
	Mode      string
	NumCases  int
	Threshold float64
	Sep       string
}

// BuildAugmentedText splices retrieved cases into the original text
// according to the mode's template. With no retrievals the result is the
// original text, unchanged.
//
// Modes text, explanations and goals append each retrieved case after a
// separator:
//
//	original [SEP] case1 [SEP] case2 ...
//
// Modes structure and counter additionally prefix every case with the
// query row's own value of that feature:
//
//	original [SEP] feat [SEP] case1 [SEP] feat [SEP] case2 ...
func BuildAugmentedText(mode string, original Case, retrieved []RetrievedCase, sep string) (string, error) {
	if sep == "" {
		sep = DefaultSep
	}
	if len(retrieved) == 0 {
		return original.Text, nil
	}

	var b strings.Builder
	b.WriteString(original.Text)

	switch mode {
	case ModeText, ModeExplanations, ModeGoals:
		for _, rc := range retrieved {
			b.WriteString(" " + sep + " ")
			b.WriteString(rc.Text)
		}
	case ModeStructure, ModeCounter:
		feat, err := original.Feature(mode)
		if err != nil {
			return "", err
		}
		for _, rc := range retrieved {
			b.WriteString(" " + sep + " ")
			b.WriteString(feat)
			b.WriteString(" " + sep + " ")
			b.WriteString(rc.Text)
		}
	default:
		return "", fmt.Errorf("mode %q: %w", mode, ErrUnknownMode)
	}

	return b.String(), nil
}

// AugmentCases runs every retriever over every case of the dataset and
// builds the augmented input texts. The retrieval query is the mode's
// column of the row: the case text in text mode, the mode's feature
// otherwise. Results from multiple retrievers are concatenated in
// retriever order, not re-sorted by score.
//
// Retrieval failures are isolated per row: the failing row keeps whatever
// results it had (possibly none) and the run continues. Template errors,
// such as a missing feature column, are configuration mistakes and abort.
func AugmentCases(ctx context.Context, dataset *Dataset, retrievers []Retriever, opts AugmentOptions) ([]AugmentedExample, error) {
	if opts.Sep == "" {
		opts.Sep = DefaultSep
	}

	out := make([]AugmentedExample, 0, dataset.Len())
	for i, c := range dataset.Cases {
		query, err := caseQueryText(c, opts.Mode)
		if err != nil {
			return nil, fmt.Errorf("augment row %d: %w", i, err)
		}

		var retrieved []RetrievedCase
		for ri, r := range retrievers {
			hits, err := r.RetrieveSimilarCases(ctx, query, opts.NumCases, opts.Threshold)
			if err != nil {
				slog.Warn("retrieval failed, continuing without results for this row",
					"row", i, "retriever", ri, "error", err)
				continue
			}
			retrieved = append(retrieved, hits...)
		}

		text, err := BuildAugmentedText(opts.Mode, c, retrieved, opts.Sep)
		if err != nil {
			return nil, fmt.Errorf("augment row %d: %w", i, err)
		}

		out = append(out, AugmentedExample{
			Original:  c,
			Text:      text,
			Retrieved: retrieved,
		})
	}
	return out, nil
}
