package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func tinyClassifierConfig(numClasses int) ClassifierConfig {
	return ClassifierConfig{
		Encoder: EncoderConfig{
			VocabSize: 50,
			MaxSeqLen: 16,
			HiddenDim: 16,
			NumLayers: 1,
			NumHeads:  2,
			FFHidden:  32,
		},
		NumClasses: numClasses,
		CrossHeads: 4,
		HeadHidden: 16,
		Dropout:    0.1,
	}
}

func testInput(ids ...int) ClassifierInput {
	mask := make([]int, len(ids))
	for i, id := range ids {
		if id != PadID {
			mask[i] = 1
		}
	}
	return ClassifierInput{IDs: ids, Mask: mask}
}

func TestClassifierForwardShape(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))

	logits, err := m.Forward(testInput(ClsID, 5, 6, 0), testInput(ClsID, 7, 8, 9))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if logits.shape[0] != 1 || logits.shape[1] != 3 {
		t.Fatalf("logits shape = %v, want [1 3]", logits.shape)
	}
	for _, v := range logits.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("logits contain %f", v)
		}
	}
}

func TestClassifierInputValidation(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))

	// Mask length disagrees with IDs.
	bad := ClassifierInput{IDs: []int{ClsID, 5}, Mask: []int{1}}
	if _, err := m.Forward(bad, testInput(ClsID, 5)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("primary mismatch error = %v, want ErrShapeMismatch", err)
	}
	if _, err := m.Forward(testInput(ClsID, 5), bad); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("context mismatch error = %v, want ErrShapeMismatch", err)
	}

	empty := ClassifierInput{}
	if _, err := m.Forward(empty, testInput(ClsID)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("empty input error = %v, want ErrShapeMismatch", err)
	}
}

func TestClassifierRejectsUnequalSequenceLengths(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))

	primary := testInput(ClsID, 5, 6, 7, 8)
	context := testInput(ClsID, 5, 6, 7, 8, 9, 10, 11)

	if _, err := m.Forward(primary, context); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Forward error = %v, want ErrShapeMismatch for unequal lengths", err)
	}
	if _, _, err := m.ForwardTrain(primary, context); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("ForwardTrain error = %v, want ErrShapeMismatch for unequal lengths", err)
	}
}

func TestClassifierSwappedInputsChangeLogits(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))

	a := testInput(ClsID, 5, 6, 7)
	b := testInput(ClsID, 20, 21, 22)

	ab, err := m.Forward(a, b)
	if err != nil {
		t.Fatalf("Forward(a,b) failed: %v", err)
	}
	ba, err := m.Forward(b, a)
	if err != nil {
		t.Fatalf("Forward(b,a) failed: %v", err)
	}

	same := true
	for i := range ab.data {
		if math.Abs(ab.data[i]-ba.data[i]) > 1e-9 {
			same = false
			break
		}
	}
	if same {
		t.Error("swapping primary and context left logits unchanged")
	}
}

func TestClassifierDeterministicInference(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))
	a := testInput(ClsID, 5, 6)
	b := testInput(ClsID, 7, 8)

	first, err := m.Forward(a, b)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	second, err := m.Forward(a, b)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	for i := range first.data {
		if first.data[i] != second.data[i] {
			t.Fatalf("inference not deterministic at %d: %f vs %f", i, first.data[i], second.data[i])
		}
	}
}

func TestClassifierBackwardAccumulatesSharedEncoder(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))

	logits, cache, err := m.ForwardTrain(testInput(ClsID, 5, 6), testInput(ClsID, 7, 8))
	if err != nil {
		t.Fatalf("ForwardTrain failed: %v", err)
	}

	m.ZeroGrad()
	m.Backward(CrossEntropyBackward(logits, 1), cache)

	// Token 5 only appears in the primary pass, token 7 only in the
	// context pass. Both must receive embedding gradients through the
	// single shared encoder.
	hiddenDim := m.config.Encoder.HiddenDim
	hasGrad := func(tokenID int) bool {
		for d := 0; d < hiddenDim; d++ {
			if m.encoder.tokenEmbed.grad[tokenID*hiddenDim+d] != 0 {
				return true
			}
		}
		return false
	}
	if !hasGrad(5) {
		t.Error("primary-only token got no embedding gradient")
	}
	if !hasGrad(7) {
		t.Error("context-only token got no embedding gradient")
	}
}

func TestClassifierParametersListEncoderOnce(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))

	seen := make(map[*Tensor]bool)
	for _, p := range m.Parameters() {
		if seen[p] {
			t.Fatal("parameter listed twice")
		}
		seen[p] = true
	}
}

func TestClassifierSaveLoad(t *testing.T) {
	m := NewDualEncoderClassifier(tinyClassifierConfig(3))
	path := filepath.Join(t.TempDir(), "model.bin")

	a := testInput(ClsID, 5, 6)
	b := testInput(ClsID, 7, 8)
	before, err := m.Forward(a, b)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadClassifier(path)
	if err != nil {
		t.Fatalf("LoadClassifier failed: %v", err)
	}

	after, err := loaded.Forward(a, b)
	if err != nil {
		t.Fatalf("Forward after load failed: %v", err)
	}
	for i := range before.data {
		if math.Abs(before.data[i]-after.data[i]) > 1e-12 {
			t.Fatalf("logit %d changed across save/load: %f vs %f", i, before.data[i], after.data[i])
		}
	}
}

func TestLoadClassifierRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	if err := os.WriteFile(path, []byte("not a checkpoint\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClassifier(path); err == nil {
		t.Error("expected error loading a non-checkpoint file")
	}
}
