package main

import (
	"fmt"
	"strconv"
	"strings"
)

// StepMatcher selects instruction steps an action applies to.
type StepMatcher func(step uint64) bool

// MatcherFromPattern parses a step pattern:
//
//   - "never" matches no step (also the default for an empty pattern)
//   - "always" matches every step
//   - "=N" matches exactly step N
//   - "%N" matches steps that are a multiple of N
func MatcherFromPattern(pattern string) (StepMatcher, error) {
	switch {
	case pattern == "" || pattern == "never":
		return func(uint64) bool { return false }, nil
	case pattern == "always":
		return func(uint64) bool { return true }, nil
	case strings.HasPrefix(pattern, "="):
		n, err := strconv.ParseUint(pattern[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid step pattern %q: %w", pattern, err)
		}
		return func(step uint64) bool { return step == n }, nil
	case strings.HasPrefix(pattern, "%"):
		n, err := strconv.ParseUint(pattern[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid step pattern %q: %w", pattern, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("invalid step pattern %q: zero modulus", pattern)
		}
		return func(step uint64) bool { return step%n == 0 }, nil
	default:
		return nil, fmt.Errorf("invalid step pattern %q", pattern)
	}
}
