package rules

import (
	"errors"
	"fmt"
	"strings"

	"strategylab/internal/domain"
)

// Logic combines condition outcomes.
type Logic int

const (
	LogicAnd Logic = iota
	LogicOr
)

// ParseLogic accepts "and" or "or" in any case. An empty string is "and".
func ParseLogic(s string) (Logic, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "and":
		return LogicAnd, nil
	case "or":
		return LogicOr, nil
	}
	return LogicAnd, fmt.Errorf("logic %q: %w", s, domain.ErrInvalidRule)
}

func (l Logic) String() string {
	if l == LogicOr {
		return "or"
	}
	return "and"
}

// Condition is a compiled condition. A condition that failed to compile
// keeps its error in Err and always evaluates as not passed.
type Condition struct {
	Source  domain.Condition
	Ref     Ref
	Op      Operator
	Operand Operand
	Err     error
}

// CompileCondition resolves the indicator, operator and operand of c.
func CompileCondition(c domain.Condition) Condition {
	out := Condition{Source: c}
	ref, err := ParseRef(c.Indicator)
	if err != nil {
		out.Err = err
		return out
	}
	op, err := ParseOperator(c.Operator)
	if err != nil {
		out.Err = err
		return out
	}
	operand, err := ParseOperand(c.Value)
	if err != nil {
		out.Err = err
		return out
	}
	out.Ref, out.Op, out.Operand = ref, op, operand
	return out
}

// RuleSet is a compiled rule set. Conditions is nil when the definition
// declared no conditions list at all.
type RuleSet struct {
	Name       string
	Logic      Logic
	Conditions []Condition
}

// Compile builds a RuleSet. Only an invalid logic value is an error;
// malformed conditions are retained and reported at evaluation time.
func Compile(rs domain.RuleSet) (*RuleSet, error) {
	logic, err := ParseLogic(rs.Logic)
	if err != nil {
		if rs.Name != "" {
			return nil, fmt.Errorf("rule set %q: %w", rs.Name, err)
		}
		return nil, err
	}
	out := &RuleSet{Name: rs.Name, Logic: logic}
	if rs.Conditions == nil {
		return out, nil
	}
	out.Conditions = make([]Condition, len(rs.Conditions))
	for i, c := range rs.Conditions {
		out.Conditions[i] = CompileCondition(c)
	}
	return out, nil
}

// CompileAll compiles sets in order.
func CompileAll(sets []domain.RuleSet) ([]*RuleSet, error) {
	out := make([]*RuleSet, 0, len(sets))
	for i, rs := range sets {
		c, err := Compile(rs)
		if err != nil {
			return nil, fmt.Errorf("rule set %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// ConditionResult is the diagnostic for one condition at one bar.
type ConditionResult struct {
	Condition domain.Condition `json:"condition"`
	Value     float64          `json:"value"`
	Compare   float64          `json:"compare"`
	Passed    bool             `json:"passed"`
	Err       error            `json:"-"`
}

// Result is the outcome of evaluating a RuleSet at one bar.
type Result struct {
	Passed  bool
	Details []ConditionResult
}

// Evaluate checks every condition at idx and combines them with the set's
// logic. A set without a conditions list never passes; an empty list passes
// under AND and fails under OR.
func (rs *RuleSet) Evaluate(ctx *Context, idx int) Result {
	res := Result{Details: make([]ConditionResult, len(rs.Conditions))}
	passed := 0
	for i := range rs.Conditions {
		cr := rs.Conditions[i].Evaluate(ctx, idx)
		if cr.Passed {
			passed++
		}
		res.Details[i] = cr
	}
	switch {
	case rs.Conditions == nil:
		res.Passed = false
	case rs.Logic == LogicOr:
		res.Passed = passed > 0
	default:
		res.Passed = passed == len(rs.Conditions)
	}
	return res
}

// Evaluate checks the condition at idx. Failures are reported in the result
// rather than returned.
func (c *Condition) Evaluate(ctx *Context, idx int) ConditionResult {
	res := ConditionResult{Condition: c.Source}
	if c.Err != nil {
		res.Err = c.Err
		return res
	}

	cur, err := ctx.Value(c.Ref, idx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Value = cur
	curT, err := c.threshold(ctx, idx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Compare = curT

	if !c.Op.IsCrossing() {
		res.Passed = c.Op.compare(cur, curT)
		return res
	}

	if idx == 0 {
		res.Err = fmt.Errorf("%s %s at bar 0 has no previous bar: %w",
			c.Ref.Key(), c.Op, domain.ErrInsufficientHistory)
		return res
	}
	prev, err := ctx.Value(c.Ref, idx-1)
	if err != nil {
		res.Err = err
		return res
	}
	prevT, err := c.threshold(ctx, idx-1)
	if err != nil {
		res.Err = err
		return res
	}
	res.Passed = c.Op.crossed(prev, cur, prevT, curT)
	return res
}

func (c *Condition) threshold(ctx *Context, idx int) (float64, error) {
	if c.Operand.Kind == OperandRef {
		return ctx.Value(c.Operand.Ref, idx)
	}
	return c.Operand.Literal, nil
}

// Lookback returns the first bar at which the condition can be evaluated.
func (c *Condition) Lookback() int {
	if c.Err != nil {
		return 0
	}
	n := c.Ref.Lookback()
	if c.Operand.Kind == OperandRef {
		n = max(n, c.Operand.Ref.Lookback())
	}
	if c.Op.IsCrossing() {
		n++
	}
	return n
}

// MaxLookback returns the largest condition lookback across sets.
func MaxLookback(sets ...*RuleSet) int {
	n := 0
	for _, rs := range sets {
		if rs == nil {
			continue
		}
		for i := range rs.Conditions {
			n = max(n, rs.Conditions[i].Lookback())
		}
	}
	return n
}

// Errors joins every condition error in a result.
func (r Result) Errors() error {
	var errs []error
	for _, d := range r.Details {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errors.Join(errs...)
}
