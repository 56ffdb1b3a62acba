package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Special token constants. IDs are fixed so that padding is always 0.
const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
	ClsToken = "[CLS]"
	SepToken = "[SEP]"

	PadID = 0
	UnkID = 1
	ClsID = 2
	SepID = 3
)

// Tokenizer is a word-level vocabulary tokenizer.
//
// It lowercases input, extracts word tokens, and maps them to contiguous
// IDs. Words outside the vocabulary map to [UNK]. The separator token
// [SEP] appears literally inside augmented case texts and is preserved
// as a single token rather than being split.
//
// Word-level tokenization is a deliberate simplification over subword
// schemes: the fallacy datasets are small enough that a capped word
// vocabulary covers them, and it keeps encoding deterministic and fast.
type Tokenizer struct {
	vocab       map[string]int
	vocabInv    map[int]string
	specialToks map[string]int

	wordPattern *regexp.Regexp
}

// NewTokenizer creates an empty tokenizer containing only special tokens.
func NewTokenizer() *Tokenizer {
	specialToks := map[string]int{
		PadToken: PadID,
		UnkToken: UnkID,
		ClsToken: ClsID,
		SepToken: SepID,
	}

	vocab := make(map[string]int)
	vocabInv := make(map[int]string)
	for tok, id := range specialToks {
		vocab[tok] = id
		vocabInv[id] = tok
	}

	return &Tokenizer{
		vocab:       vocab,
		vocabInv:    vocabInv,
		specialToks: specialToks,
		wordPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
	}
}

// tokenize splits text into word tokens, keeping special tokens intact.
func (t *Tokenizer) tokenize(text string) []string {
	var tokens []string
	for _, field := range strings.Fields(text) {
		if _, ok := t.specialToks[field]; ok {
			tokens = append(tokens, field)
			continue
		}
		words := t.wordPattern.FindAllString(strings.ToLower(field), -1)
		tokens = append(tokens, words...)
	}
	return tokens
}

// Fit builds the vocabulary from a corpus, keeping the maxVocab most
// frequent words. Ties break lexicographically so the vocabulary is
// deterministic for a given corpus.
func (t *Tokenizer) Fit(corpus []string, maxVocab int) error {
	if maxVocab <= len(t.specialToks) {
		return fmt.Errorf("tokenizer: max vocab size must be > %d (special tokens)", len(t.specialToks))
	}

	counts := make(map[string]int)
	for _, text := range corpus {
		for _, tok := range t.tokenize(text) {
			if _, ok := t.specialToks[tok]; ok {
				continue
			}
			counts[tok]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	limit := maxVocab - len(t.specialToks)
	if len(words) > limit {
		words = words[:limit]
	}

	nextID := len(t.specialToks)
	for _, w := range words {
		t.vocab[w] = nextID
		t.vocabInv[nextID] = w
		nextID++
	}

	return nil
}

// Encode converts text to token IDs without padding or special markers.
func (t *Tokenizer) Encode(text string) []int {
	tokens := t.tokenize(text)
	ids := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if id, ok := t.vocab[tok]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, UnkID)
		}
	}
	return ids
}

// EncodePadded converts text to a fixed-length ID sequence with a matching
// attention mask: [CLS] followed by word tokens, truncated and then padded
// with [PAD] to exactly maxLen. Mask is 1 for real tokens, 0 for padding.
func (t *Tokenizer) EncodePadded(text string, maxLen int) (ids []int, mask []int) {
	if maxLen < 1 {
		panic("tokenizer: maxLen must be >= 1")
	}

	body := t.Encode(text)
	if len(body) > maxLen-1 {
		body = body[:maxLen-1]
	}

	ids = make([]int, maxLen)
	mask = make([]int, maxLen)

	ids[0] = ClsID
	mask[0] = 1
	for i, id := range body {
		ids[i+1] = id
		mask[i+1] = 1
	}
	// Remaining positions stay [PAD] with mask 0.

	return ids, mask
}

// Decode converts token IDs back to a space-joined string, skipping
// padding and [CLS]. Mainly useful for debugging and tests.
func (t *Tokenizer) Decode(ids []int) string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tok, ok := t.vocabInv[id]
		if !ok {
			continue
		}
		if tok == PadToken || tok == ClsToken {
			continue
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, " ")
}

// VocabSize returns the current vocabulary size including special tokens.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// Save writes the tokenizer vocabulary to a file.
func (t *Tokenizer) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("tokenizer: failed to create file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	if _, err := fmt.Fprintf(w, "WORD_VOCAB\n"); err != nil {
		return fmt.Errorf("tokenizer: failed to write header: %w", err)
	}

	// Sorted by ID for deterministic output.
	type entry struct {
		tok string
		id  int
	}
	entries := make([]entry, 0, len(t.vocab))
	for tok, id := range t.vocab {
		entries = append(entries, entry{tok, id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%d\t%s\n", e.id, e.tok); err != nil {
			return fmt.Errorf("tokenizer: failed to write entry: %w", err)
		}
	}

	return nil
}

// Load reads a tokenizer vocabulary from a file written by Save.
func (t *Tokenizer) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("tokenizer: failed to open file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	if !scanner.Scan() {
		return fmt.Errorf("tokenizer: empty file")
	}
	if scanner.Text() != "WORD_VOCAB" {
		return fmt.Errorf("tokenizer: invalid header %q", scanner.Text())
	}

	t.vocab = make(map[string]int)
	t.vocabInv = make(map[int]string)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return fmt.Errorf("tokenizer: malformed vocab line %q", line)
		}

		var id int
		if _, err := fmt.Sscanf(parts[0], "%d", &id); err != nil {
			return fmt.Errorf("tokenizer: failed to parse token ID: %w", err)
		}

		t.vocab[parts[1]] = id
		t.vocabInv[id] = parts[1]
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("tokenizer: error reading file: %w", err)
	}

	// Special tokens must survive a round trip.
	for tok, id := range t.specialToks {
		t.vocab[tok] = id
		t.vocabInv[id] = tok
	}

	return nil
}
