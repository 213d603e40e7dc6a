// Package condition decides whether a branching rule is satisfied by a set of
// recorded answer values.
package condition

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"taskcycle/internal/model"
)

// dateLayouts are tried in order when a token is not numeric.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

// Satisfied evaluates rule against answers using the rule's combinator over
// the full answers x rule.Values cross product.
//
// A malformed rule is reported as an error wrapping model.ErrInvalidRule;
// an empty answer list never satisfies a rule.
func Satisfied(answers []string, rule model.ConditionRule) (bool, error) {
	if err := rule.Validate(); err != nil {
		return false, err
	}
	if len(answers) == 0 {
		return false, nil
	}

	switch rule.Combinator {
	case model.CombinatorAND:
		// Every rule value must be covered by at least one answer.
		for _, want := range rule.Values {
			covered := false
			for _, got := range answers {
				if Compare(got, rule.Operand, want) {
					covered = true
					break
				}
			}
			if !covered {
				return false, nil
			}
		}
		return true, nil

	case model.CombinatorXOR:
		matches := 0
		for _, want := range rule.Values {
			for _, got := range answers {
				if Compare(got, rule.Operand, want) {
					matches++
				}
			}
		}
		return matches == 1, nil

	case model.CombinatorOR:
		for _, want := range rule.Values {
			for _, got := range answers {
				if Compare(got, rule.Operand, want) {
					return true, nil
				}
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("%w: unknown combinator %d", model.ErrInvalidRule, int(rule.Combinator))
	}
}

// SatisfiedRaw splits delimiter-joined answer text before evaluating. It is
// the ingestion boundary for values stored as a single column.
func SatisfiedRaw(rawAnswers string, rule model.ConditionRule) (bool, error) {
	return Satisfied(model.SplitValues(rawAnswers, model.ValueSeparator), rule)
}

// Compare applies op to a single (answer, value) pair. Numbers compare
// numerically, then dates chronologically, otherwise strings compare exactly
// and ordering operands on plain strings are false.
func Compare(answer string, op model.Operand, value string) bool {
	a, b := strings.TrimSpace(answer), strings.TrimSpace(value)

	if x, ok := parseNumber(a); ok {
		if y, ok := parseNumber(b); ok {
			return ordered(cmpFloat(x, y), op)
		}
	}
	if x, ok := parseDate(a); ok {
		if y, ok := parseDate(b); ok {
			return ordered(x.Compare(y), op)
		}
	}

	switch op {
	case model.OpEqual:
		return a == b
	case model.OpNotEqual:
		return a != b
	default:
		return false
	}
}

func ordered(c int, op model.Operand) bool {
	switch op {
	case model.OpEqual:
		return c == 0
	case model.OpNotEqual:
		return c != 0
	case model.OpLess:
		return c < 0
	case model.OpGreater:
		return c > 0
	case model.OpLessOrEqual:
		return c <= 0
	case model.OpGreaterOrEqual:
		return c >= 0
	default:
		return false
	}
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	// Accept a decimal comma as entered in some locales.
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
