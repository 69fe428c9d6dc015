package rules

// SignalType is the kind of signal produced by a rule list.
type SignalType string

const (
	SignalNone  SignalType = ""
	SignalEntry SignalType = "entry"
	SignalExit  SignalType = "exit"
)

// Signal reports which rule set in an ordered list fired, if any.
type Signal struct {
	Type      SignalType
	RuleIndex int
	RuleName  string
	Details   []ConditionResult
}

// Fired reports whether a rule set matched.
func (s Signal) Fired() bool { return s.Type != SignalNone }

// FirstMatch evaluates sets in order and stops at the first one that passes.
// It returns -1 when none pass.
func FirstMatch(sets []*RuleSet, ctx *Context, idx int) (int, Result) {
	for i, rs := range sets {
		if rs == nil {
			continue
		}
		if res := rs.Evaluate(ctx, idx); res.Passed {
			return i, res
		}
	}
	return -1, Result{}
}

// EvaluateEntry returns an entry signal from the first passing set.
func EvaluateEntry(sets []*RuleSet, ctx *Context, idx int) Signal {
	return firstSignal(SignalEntry, sets, ctx, idx)
}

// EvaluateExit returns an exit signal from the first passing set.
func EvaluateExit(sets []*RuleSet, ctx *Context, idx int) Signal {
	return firstSignal(SignalExit, sets, ctx, idx)
}

func firstSignal(typ SignalType, sets []*RuleSet, ctx *Context, idx int) Signal {
	i, res := FirstMatch(sets, ctx, idx)
	if i < 0 {
		return Signal{Type: SignalNone, RuleIndex: -1}
	}
	return Signal{Type: typ, RuleIndex: i, RuleName: sets[i].Name, Details: res.Details}
}
