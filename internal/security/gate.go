// Package security implements the Command Gate (C2): a pure denylist check
// applied before any shell execution the core itself issues — sandbox
// provisioning and the "none" sandbox variant's direct host exec fallback.
// Commands the agent issues inside a container sandbox are out of scope;
// containment there is delegated to the Sandbox Manager (C4).
package security

// Decision is the outcome of a Check call.
type Decision struct {
	// Allowed reports whether the command may proceed.
	Allowed bool
	// Rule names the matched denylist rule. Empty when Allowed is true.
	Rule string
	// Reason is the human-readable explanation, surfaced to the caller in
	// the returned security_denied error; no CommandGated event is published
	// for it. Empty when Allowed is true.
	Reason string
}

// Gate evaluates commands against a denylist of tokens/patterns
// representing destructive or privileged operations. The zero value uses
// the built-in denylist; construct with New to supply additional rules.
type Gate struct {
	rules []Rule
}

// New returns a Gate seeded with the built-in denylist plus any extra
// rules supplied by the caller.
func New(extra ...Rule) *Gate {
	rules := make([]Rule, 0, len(defaultRules)+len(extra))
	rules = append(rules, defaultRules...)
	rules = append(rules, extra...)
	return &Gate{rules: rules}
}

// Check evaluates command against the denylist. It is a pure function: the
// same command always yields the same Decision.
func (g *Gate) Check(command string) Decision {
	rules := g.rules
	if rules == nil {
		rules = defaultRules
	}
	for _, r := range rules {
		if r.Pattern.MatchString(command) {
			return Decision{Allowed: false, Rule: r.Name, Reason: r.Reason}
		}
	}
	return Decision{Allowed: true}
}

// Check evaluates command against the built-in denylist using a package-
// level Gate. Convenience wrapper for callers that don't need extra rules.
func Check(command string) Decision {
	return defaultGate.Check(command)
}

var defaultGate = New()
