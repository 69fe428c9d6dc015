package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"strategylab/internal/domain"
)

// Operator is a comparison or crossing operator.
type Operator int

const (
	OpInvalid Operator = iota
	OpGT
	OpLT
	OpEQ
	OpGTE
	OpLTE
	OpCrossesAbove
	OpCrossesBelow
)

var operatorTokens = [...]string{
	OpInvalid:      "invalid",
	OpGT:           "gt",
	OpLT:           "lt",
	OpEQ:           "eq",
	OpGTE:          "gte",
	OpLTE:          "lte",
	OpCrossesAbove: "crosses_above",
	OpCrossesBelow: "crosses_below",
}

// ParseOperator maps an operator token to its Operator.
func ParseOperator(s string) (Operator, error) {
	tok := strings.ToLower(strings.TrimSpace(s))
	for op, name := range operatorTokens {
		if Operator(op) != OpInvalid && name == tok {
			return Operator(op), nil
		}
	}
	return OpInvalid, fmt.Errorf("operator %q: %w", s, domain.ErrInvalidRule)
}

func (op Operator) String() string {
	if op < 0 || int(op) >= len(operatorTokens) {
		return operatorTokens[OpInvalid]
	}
	return operatorTokens[op]
}

// IsCrossing reports whether op compares against the previous bar as well.
func (op Operator) IsCrossing() bool {
	return op == OpCrossesAbove || op == OpCrossesBelow
}

// compare applies a non-crossing operator.
func (op Operator) compare(v, threshold float64) bool {
	switch op {
	case OpGT:
		return v > threshold
	case OpLT:
		return v < threshold
	case OpEQ:
		return v == threshold
	case OpGTE:
		return v >= threshold
	case OpLTE:
		return v <= threshold
	}
	return false
}

// crossed applies a crossing operator. prevT and curT are the threshold at
// the previous and current bar.
func (op Operator) crossed(prev, cur, prevT, curT float64) bool {
	switch op {
	case OpCrossesAbove:
		return prev <= prevT && curT < cur
	case OpCrossesBelow:
		return prev >= prevT && curT > cur
	}
	return false
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// OperandKind distinguishes literal operands from indicator references.
type OperandKind int

const (
	OperandLiteral OperandKind = iota
	OperandRef
)

// RefPrefix marks a comparison value as an indicator reference.
const RefPrefix = "$"

// Operand is the right-hand side of a condition.
type Operand struct {
	Kind    OperandKind
	Literal float64
	Ref     Ref
}

// Literal returns a constant operand.
func Literal(v float64) Operand { return Operand{Kind: OperandLiteral, Literal: v} }

// IndicatorRef returns an operand that resolves ref at evaluation time.
func IndicatorRef(ref Ref) Operand { return Operand{Kind: OperandRef, Ref: ref} }

// ParseOperand converts a raw condition value into an Operand.
func ParseOperand(v any) (Operand, error) {
	switch x := v.(type) {
	case float64:
		return finiteLiteral(x)
	case float32:
		return finiteLiteral(float64(x))
	case int:
		return Literal(float64(x)), nil
	case int64:
		return Literal(float64(x)), nil
	case int32:
		return Literal(float64(x)), nil
	case uint64:
		return Literal(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Operand{}, fmt.Errorf("value %q: %w", x, domain.ErrInvalidRule)
		}
		return finiteLiteral(f)
	case string:
		s := strings.TrimSpace(x)
		if name, ok := strings.CutPrefix(s, RefPrefix); ok {
			ref, err := ParseRef(name)
			if err != nil {
				return Operand{}, err
			}
			return IndicatorRef(ref), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Operand{}, fmt.Errorf("value %q: %w", x, domain.ErrInvalidRule)
		}
		return finiteLiteral(f)
	case nil:
		return Operand{}, fmt.Errorf("missing value: %w", domain.ErrInvalidRule)
	}
	return Operand{}, fmt.Errorf("value of type %T: %w", v, domain.ErrInvalidRule)
}

func finiteLiteral(f float64) (Operand, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Operand{}, fmt.Errorf("value %v: %w", f, domain.ErrInvalidRule)
	}
	return Literal(f), nil
}

func (o Operand) String() string {
	if o.Kind == OperandRef {
		return RefPrefix + o.Ref.Key()
	}
	return strconv.FormatFloat(o.Literal, 'g', -1, 64)
}
