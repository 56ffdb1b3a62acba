package main

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownRetriever is returned by NewRetriever for a kind the factory
// does not recognize.
var ErrUnknownRetriever = errors.New("unknown retriever kind")

// Retriever kinds accepted by the factory.
const (
	RetrieverTFIDF  = "tfidf"
	RetrieverOpenAI = "openai"
)

// RetrievedCase is one case-base hit for a query. Text is the indexed
// column of the stored case: the case text in text mode, the mode's
// feature column otherwise.
type RetrievedCase struct {
	Text  string  `json:"text" msgpack:"text"`
	Label string  `json:"label" msgpack:"label"`
	Score float64 `json:"score" msgpack:"score"`
}

// caseQueryText returns the column a mode retrieves by: the case text in
// text mode, the mode's own feature column for every other mode.
func caseQueryText(c Case, mode string) (string, error) {
	if mode == ModeText {
		return c.Text, nil
	}
	return c.Feature(mode)
}

// Retriever finds the cases most similar to a query text. Results are
// ordered by descending similarity and every score is >= threshold.
type Retriever interface {
	RetrieveSimilarCases(ctx context.Context, query string, numCases int, threshold float64) ([]RetrievedCase, error)
}

// SimilarityRetriever retrieves cases by embedding similarity: an
// Embedder turns the retrieval column into vectors and a VectorIndex
// holds the embedded case base.
type SimilarityRetriever struct {
	embedder Embedder
	index    *VectorIndex
	cases    []Case
	texts    []string // Indexed column value per case

	// Index IDs grouped by exact indexed text, for self-match exclusion.
	byText map[string][]int
}

// NewSimilarityRetriever embeds (a prefix of) the source cases into a
// fresh index, indexing the column the mode retrieves by.
// ratioOfSourceUsed in (0, 1] limits how much of the case base is
// indexed; zero or negative means all of it.
func NewSimilarityRetriever(ctx context.Context, embedder Embedder, source []Case, ratioOfSourceUsed float64, mode string) (*SimilarityRetriever, error) {
	if len(source) == 0 {
		return nil, errors.New("retriever: empty case base")
	}

	n := len(source)
	if ratioOfSourceUsed > 0 && ratioOfSourceUsed < 1 {
		n = int(ratioOfSourceUsed * float64(len(source)))
		if n < 1 {
			n = 1
		}
	}
	used := source[:n]

	corpus := make([]string, len(used))
	for i, c := range used {
		text, err := caseQueryText(c, mode)
		if err != nil {
			return nil, fmt.Errorf("retriever: case %d: %w", i, err)
		}
		corpus[i] = text
	}

	if err := embedder.Prepare(ctx, corpus); err != nil {
		return nil, fmt.Errorf("retriever: prepare embedder: %w", err)
	}

	vecs, err := embedder.EmbedBatch(ctx, corpus)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed case base: %w", err)
	}

	index := NewVectorIndex()
	if err := index.BatchInsert(vecs); err != nil {
		return nil, fmt.Errorf("retriever: index case base: %w", err)
	}

	byText := make(map[string][]int)
	for i, text := range corpus {
		byText[text] = append(byText[text], i)
	}

	return &SimilarityRetriever{
		embedder: embedder,
		index:    index,
		cases:    used,
		texts:    corpus,
		byText:   byText,
	}, nil
}

// RetrieveSimilarCases returns up to numCases cases similar to query with
// similarity >= threshold. Cases whose indexed text equals the query are
// excluded so a training example never retrieves itself.
func (r *SimilarityRetriever) RetrieveSimilarCases(ctx context.Context, query string, numCases int, threshold float64) ([]RetrievedCase, error) {
	if numCases <= 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}

	var exclude map[int]bool
	if ids := r.byText[query]; len(ids) > 0 {
		exclude = make(map[int]bool, len(ids))
		for _, id := range ids {
			exclude[id] = true
		}
	}

	matches, err := r.index.Search(queryVec, numCases, threshold, exclude)
	if err != nil {
		return nil, fmt.Errorf("retriever: search: %w", err)
	}

	results := make([]RetrievedCase, len(matches))
	for i, m := range matches {
		results[i] = RetrievedCase{
			Text:  r.texts[m.ID],
			Label: r.cases[m.ID].Label,
			Score: m.Score,
		}
	}
	return results, nil
}

// NewRetriever builds a retriever of the configured kind over the source
// cases, indexed by the mode's retrieval column. Unknown kinds return
// ErrUnknownRetriever; callers treat that as a configuration error and
// abort before any augmentation starts.
func NewRetriever(ctx context.Context, cfg RetrieverConfig, source []Case, mode string) (Retriever, error) {
	var embedder Embedder
	switch cfg.Kind {
	case RetrieverTFIDF:
		embedder = NewTFIDFEmbedder()
	case RetrieverOpenAI:
		embedder = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("retriever kind %q: %w", cfg.Kind, ErrUnknownRetriever)
	}

	return NewSimilarityRetriever(ctx, embedder, source, cfg.RatioOfSourceUsed, mode)
}
