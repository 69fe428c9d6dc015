package builtins

import (
	"testing"

	"strategylab/internal/rules"
	"strategylab/internal/strategy"
)

func TestRegisterDefaults(t *testing.T) {
	r := strategy.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ids := r.List()
	want := []string{"bollinger-rebound", "rsi-reversion", "sma-cross"}
	if len(ids) != len(want) {
		t.Fatalf("List() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestDefaultsCompileCleanly(t *testing.T) {
	for _, s := range Defaults() {
		entry, err := rules.Compile(s.Entry)
		if err != nil {
			t.Fatalf("%s entry: %v", s.ID, err)
		}
		exits, err := rules.CompileAll(s.Exits)
		if err != nil {
			t.Fatalf("%s exits: %v", s.ID, err)
		}
		for _, rs := range append([]*rules.RuleSet{entry}, exits...) {
			for _, c := range rs.Conditions {
				if c.Err != nil {
					t.Errorf("%s: condition %+v: %v", s.ID, c.Source, c.Err)
				}
			}
		}
	}
}

func TestSMACrossLookback(t *testing.T) {
	s := SMACross(10, 30)
	entry, _ := rules.Compile(s.Entry)
	// sma_30 defined from index 29, crossing needs one more bar.
	if got := rules.MaxLookback(entry); got != 30 {
		t.Errorf("MaxLookback = %d, want 30", got)
	}
}
