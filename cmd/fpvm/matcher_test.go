package main

import (
	"testing"
)

func TestMatcherNever(t *testing.T) {
	m, err := MatcherFromPattern("never")
	if err != nil {
		t.Fatal(err)
	}
	for step := uint64(1); step <= 1000; step++ {
		if m(step) {
			t.Fatalf("never matched step %d", step)
		}
	}
}

func TestMatcherAlways(t *testing.T) {
	m, err := MatcherFromPattern("always")
	if err != nil {
		t.Fatal(err)
	}
	for step := uint64(1); step <= 1000; step++ {
		if !m(step) {
			t.Fatalf("always missed step %d", step)
		}
	}
}

func TestMatcherEqual(t *testing.T) {
	m, err := MatcherFromPattern("=17")
	if err != nil {
		t.Fatal(err)
	}
	for step := uint64(1); step <= 1000; step++ {
		if m(step) != (step == 17) {
			t.Fatalf("=17 wrong at step %d", step)
		}
	}
}

func TestMatcherMultipleOf(t *testing.T) {
	m, err := MatcherFromPattern("%100")
	if err != nil {
		t.Fatal(err)
	}
	var matched []uint64
	for step := uint64(1); step <= 1000; step++ {
		if m(step) {
			matched = append(matched, step)
		}
	}
	want := []uint64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	if len(matched) != len(want) {
		t.Fatalf("%%100 matched %v, want %v", matched, want)
	}
	for i := range want {
		if matched[i] != want[i] {
			t.Fatalf("%%100 matched %v, want %v", matched, want)
		}
	}
}

func TestMatcherEmptyDefaultsToNever(t *testing.T) {
	m, err := MatcherFromPattern("")
	if err != nil {
		t.Fatal(err)
	}
	if m(1) || m(0) {
		t.Error("empty pattern matched")
	}
}

func TestMatcherInvalid(t *testing.T) {
	for _, pattern := range []string{"sometimes", "=x", "%y", "%0", "17", "= 1"} {
		if _, err := MatcherFromPattern(pattern); err == nil {
			t.Errorf("pattern %q did not error", pattern)
		}
	}
}
