package model

import (
	"fmt"
	"strings"
	"time"
)

// ValueSeparator joins multi-valued answers and condition values in storage.
const ValueSeparator = ";"

// QuestionRef identifies the question (and option, for matrix questions)
// an answer belongs to.
type QuestionRef struct {
	QuestionID string
	OptionID   string
}

func (r QuestionRef) String() string {
	if r.OptionID == "" {
		return r.QuestionID
	}
	return r.QuestionID + "/" + r.OptionID
}

// Slot distinguishes the first answer pass from the finalized copy.
type Slot int

const (
	SlotFirstPass Slot = 1
	SlotFinalized Slot = 2
)

// AnswerValue is a possibly multi-valued response to an instance.
type AnswerValue struct {
	InstanceID string
	Ref        QuestionRef
	Slot       Slot
	Values     []string
	RecordedAt time.Time
}

// SplitValues splits delimiter-joined source text into scalar tokens.
// Trailing empty tokens (from a trailing delimiter) are discarded.
func SplitValues(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	if sep == "" {
		return []string{raw}
	}
	parts := strings.Split(raw, sep)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// JoinValues is the inverse of SplitValues for storage.
func JoinValues(values []string) string {
	return strings.Join(values, ValueSeparator)
}

// Operand is the comparison applied to each (answer, rule value) pair.
type Operand int

const (
	OpEqual Operand = iota + 1
	OpNotEqual
	OpLess
	OpGreater
	OpLessOrEqual
	OpGreaterOrEqual
)

var operandTags = map[Operand]string{
	OpEqual:          "==",
	OpNotEqual:       "!=",
	OpLess:           "<",
	OpGreater:        ">",
	OpLessOrEqual:    "<=",
	OpGreaterOrEqual: ">=",
}

func (o Operand) String() string {
	if s, ok := operandTags[o]; ok {
		return s
	}
	return fmt.Sprintf("Operand(%d)", int(o))
}

// Ordering reports whether the operand compares order rather than identity.
func (o Operand) Ordering() bool {
	return o != OpEqual && o != OpNotEqual
}

func ParseOperand(raw string) (Operand, error) {
	s := strings.TrimSpace(raw)
	for o, tag := range operandTags {
		if s == tag {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operand %q", ErrInvalidRule, raw)
}

// Combinator joins the pairwise comparisons of a rule. The zero value is OR.
type Combinator int

const (
	CombinatorOR Combinator = iota
	CombinatorAND
	CombinatorXOR
)

func (c Combinator) String() string {
	switch c {
	case CombinatorOR:
		return "OR"
	case CombinatorAND:
		return "AND"
	case CombinatorXOR:
		return "XOR"
	default:
		return fmt.Sprintf("Combinator(%d)", int(c))
	}
}

// ParseCombinator parses "AND", "XOR", "OR"; an empty string is OR.
func ParseCombinator(raw string) (Combinator, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "OR":
		return CombinatorOR, nil
	case "AND":
		return CombinatorAND, nil
	case "XOR":
		return CombinatorXOR, nil
	default:
		return 0, fmt.Errorf("%w: unknown combinator %q", ErrInvalidRule, raw)
	}
}

// ConditionRule is a branching rule evaluated against earlier answers.
type ConditionRule struct {
	Source     QuestionRef
	Operand    Operand
	Combinator Combinator
	Values     []string
}

// Validate fails fast on rules that cannot be evaluated.
func (r ConditionRule) Validate() error {
	if _, ok := operandTags[r.Operand]; !ok {
		return fmt.Errorf("%w: unknown operand %d", ErrInvalidRule, int(r.Operand))
	}
	if r.Combinator < CombinatorOR || r.Combinator > CombinatorXOR {
		return fmt.Errorf("%w: unknown combinator %d", ErrInvalidRule, int(r.Combinator))
	}
	if len(r.Values) == 0 {
		return fmt.Errorf("%w: no comparison values", ErrInvalidRule)
	}
	for i, v := range r.Values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: empty comparison value at position %d", ErrInvalidRule, i)
		}
	}
	return nil
}
