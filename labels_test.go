package main

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLabelEncoderRoundTrip(t *testing.T) {
	labels := []string{"ad hominem", "faulty generalization", "ad hominem", "circular reasoning"}
	enc := NewLabelEncoder(labels)

	if enc.NumClasses() != 3 {
		t.Fatalf("NumClasses() = %d, want 3", enc.NumClasses())
	}

	for _, l := range labels {
		idx, err := enc.Transform(l)
		if err != nil {
			t.Fatalf("Transform(%q) failed: %v", l, err)
		}
		back, err := enc.Inverse(idx)
		if err != nil {
			t.Fatalf("Inverse(%d) failed: %v", idx, err)
		}
		if back != l {
			t.Errorf("round trip %q -> %d -> %q", l, idx, back)
		}
	}
}

func TestLabelEncoderDeterministic(t *testing.T) {
	a := NewLabelEncoder([]string{"b", "a", "c"})
	b := NewLabelEncoder([]string{"c", "b", "a", "a"})

	classesA, classesB := a.Classes(), b.Classes()
	if len(classesA) != len(classesB) {
		t.Fatalf("class counts differ: %d vs %d", len(classesA), len(classesB))
	}
	for i := range classesA {
		if classesA[i] != classesB[i] {
			t.Errorf("class order differs at %d: %q vs %q", i, classesA[i], classesB[i])
		}
	}

	// Sorted order is the contract.
	if classesA[0] != "a" || classesA[1] != "b" || classesA[2] != "c" {
		t.Errorf("classes = %v, want sorted [a b c]", classesA)
	}
}

func TestLabelEncoderSaveLoad(t *testing.T) {
	enc := NewLabelEncoder([]string{"ad populum", "ad hominem", "false causality"})

	path := filepath.Join(t.TempDir(), "classes.labels")
	if err := enc.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadLabelEncoder(path)
	if err != nil {
		t.Fatalf("LoadLabelEncoder failed: %v", err)
	}

	classes := enc.Classes()
	got := loaded.Classes()
	if len(got) != len(classes) {
		t.Fatalf("got %d classes, want %d", len(got), len(classes))
	}
	for i := range classes {
		if got[i] != classes[i] {
			t.Errorf("class %d = %q after load, want %q", i, got[i], classes[i])
		}
	}

	idx, err := loaded.Transform("false causality")
	if err != nil {
		t.Fatalf("Transform failed after load: %v", err)
	}
	if want, _ := enc.Transform("false causality"); idx != want {
		t.Errorf("index = %d after load, want %d", idx, want)
	}
}

func TestLabelEncoderUnknownLabel(t *testing.T) {
	enc := NewLabelEncoder([]string{"a", "b"})

	if _, err := enc.Transform("zzz"); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Transform(unknown) error = %v, want ErrUnknownLabel", err)
	}
	if _, err := enc.Inverse(99); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Inverse(99) error = %v, want ErrUnknownLabel", err)
	}

	if _, err := enc.TransformAll([]string{"a", "zzz"}); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("TransformAll error = %v, want ErrUnknownLabel", err)
	}
}
