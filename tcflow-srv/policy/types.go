// Package policy loads the traffic classification policy, validates it once
// at startup, compiles it into typed condition trees, and evaluates packets
// against it. Evaluation is a pure recursive walk with any/all
// short-circuit semantics; all structural checking happens at load time so
// the per-packet path assumes a well-formed tree.
package policy

import (
	"github.com/codefionn/tcflow/tcflow-srv/statistical"
)

// MatchType is the boolean combinator governing how a condition node's
// child attributes combine.
type MatchType int

const (
	// MatchAny matches when at least one attribute matches.
	MatchAny MatchType = iota
	// MatchAll matches when every attribute matches.
	MatchAll
	// MatchStatistical marks a stanza driven entirely by statistical
	// classifiers; it has no short-circuit of its own.
	MatchStatistical
)

// String returns the policy-file spelling of the match type.
func (m MatchType) String() string {
	switch m {
	case MatchAny:
		return "any"
	case MatchAll:
		return "all"
	case MatchStatistical:
		return "statistical"
	default:
		return "unknown"
	}
}

// AttrKind categorises a condition attribute. The category is decided once
// at load time so the evaluator never re-parses attribute names on the
// packet path.
type AttrKind int

const (
	// AttrStatic is a single-field matcher (MAC, IP, port, ethertype).
	AttrStatic AttrKind = iota
	// AttrIdentity matches against harvested identity metadata.
	AttrIdentity
	// AttrPayload matches against packet payload signatures.
	AttrPayload
	// AttrStatistical delegates to a stateful statistical classifier.
	AttrStatistical
	// AttrNested is a nested conditions stanza evaluated recursively.
	AttrNested
)

// Attribute is one compiled condition leaf, or a nested stanza when Kind is
// AttrNested.
type Attribute struct {
	Kind   AttrKind
	Name   string
	Value  string
	Nested *ConditionNode
}

// ConditionNode is a compiled conditions stanza. Attrs never contains the
// match_type directive; it is folded into MatchType at compile time.
type ConditionNode struct {
	MatchType MatchType
	Attrs     []Attribute
}

// Rule is one policy rule: a condition tree plus rule-level actions. Rules
// are evaluated in policy-file order and the first match wins.
type Rule struct {
	Name       string
	Comment    string
	Conditions *ConditionNode
	Actions    statistical.ActionSet
}

// Policy is the compiled traffic classification policy.
type Policy struct {
	Rules []Rule
}

// Verdict is the outcome of checking a packet against a rule or condition
// tree.
type Verdict struct {
	Match             bool
	ContinueToInspect bool
	Actions           statistical.ActionSet
}
