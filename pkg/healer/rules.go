package healer

import (
	"strings"

	"github.com/wardenhq/warden/pkg/types"
)

// agentCheckPrefix is how the coordinator names per-agent checks
const agentCheckPrefix = "agent:"

// Rule maps a failing check to a remediation. Rules are evaluated in
// declaration order; the first match wins.
type Rule struct {
	Name   string
	Match  func(checkName string) bool
	Kind   types.ActionKind
	Target func(checkName string) string
}

// DefaultRules is the shipped remediation rule table
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "kv-retry",
			Match:  func(name string) bool { return strings.Contains(name, "kv") },
			Kind:   types.ActionRetry,
			Target: func(string) string { return "kv-namespace" },
		},
		{
			Name:   "d1-alert",
			Match:  func(name string) bool { return strings.Contains(name, "d1") },
			Kind:   types.ActionAlert,
			Target: func(string) string { return "d1-database" },
		},
		{
			Name:  "agent-restart",
			Match: func(name string) bool { return strings.Contains(name, "agent") },
			Kind:  types.ActionRestart,
			Target: func(name string) string {
				return strings.TrimPrefix(name, agentCheckPrefix)
			},
		},
	}
}

// Evaluate runs the check name through the rule table in fixed order
func Evaluate(rules []Rule, checkName string) (types.ActionKind, string, bool) {
	for _, r := range rules {
		if r.Match(checkName) {
			return r.Kind, r.Target(checkName), true
		}
	}
	return "", "", false
}
