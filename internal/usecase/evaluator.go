// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
)

// Decision is the outcome of evaluating the rule set once.
type Decision struct {
	Profile domain.Profile
	// Rule is the rule that matched; nil when the default profile applies.
	Rule *domain.Rule
}

// Matched reports whether a rule (rather than the default) chose the profile.
func (d Decision) Matched() bool {
	return d.Rule != nil
}

// Evaluator picks the profile that should be active from the running processes.
type Evaluator struct {
	probe domain.ProcessProbe
}

// NewEvaluator creates an evaluator backed by probe.
func NewEvaluator(probe domain.ProcessProbe) *Evaluator {
	return &Evaluator{probe: probe}
}

// Evaluate returns the profile of the first rule, in declaration order, whose
// process is running, or defaultProfile when none is. A probe failure aborts
// the evaluation so callers never act on a partial scan.
func (e *Evaluator) Evaluate(ctx context.Context, rules domain.RuleSet, defaultProfile domain.Profile) (Decision, error) {
	for _, rule := range rules.Rules() {
		running, err := e.probe.IsRunning(ctx, rule.Process)
		if err != nil {
			return Decision{}, fmt.Errorf("probing process %q: %w", rule.Process, err)
		}
		if running {
			r := rule
			return Decision{Profile: rule.Profile, Rule: &r}, nil
		}
	}
	return Decision{Profile: defaultProfile}, nil
}
