package policy

import (
	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
	"github.com/codefionn/tcflow/tcflow-srv/statistical"
)

// Engine evaluates packets against a compiled policy, dispatching condition
// attributes to the identity, payload and statistical collaborators.
type Engine struct {
	policy      *Policy
	identity    *Identity
	payload     *Payload
	statistical *statistical.Inspector
}

// NewEngine wires a compiled policy to its collaborators.
func NewEngine(pol *Policy, identity *Identity, payload *Payload, inspector *statistical.Inspector) *Engine {
	return &Engine{
		policy:      pol,
		identity:    identity,
		payload:     payload,
		statistical: inspector,
	}
}

// Check evaluates a packet-in event against the policy rules in order and
// returns the first matching rule's verdict, with the rule-level actions
// merged over any per-condition actions (rule-level values win). Identity
// traffic is handed to the identity collaborator on the way through. This
// runs for every packet-in event, so it assumes the policy was validated at
// load.
func (e *Engine) Check(pkt *packet.Packet) Verdict {
	if pkt.EthType == packet.EtherTypeLLDP {
		e.identity.LLDPIn(pkt)
	}
	if pkt.IPv4 != nil {
		e.identity.IP4In(pkt)
	}

	for i := range e.policy.Rules {
		rule := &e.policy.Rules[i]
		result := e.checkConditions(pkt, rule.Conditions)
		if result.Match {
			logger.Trace("policy: rule %q matched", rule.Name)
			result.Actions = result.Actions.Merge(rule.Actions)
			return result
		}
	}
	return Verdict{}
}

// checkConditions recursively evaluates a conditions stanza. match_type
// "any" returns true on the first matching attribute; "all" returns false
// on the first non-matching one. When the loop completes without a decisive
// short-circuit, the fallback re-examines the match type: exhausted "any"
// is a non-match, fully-matched "all" is a match, and anything else is an
// unexpected state that is logged and conservatively treated as no match.
func (e *Engine) checkConditions(pkt *packet.Packet, node *ConditionNode) Verdict {
	result := Verdict{Match: true}
	match := false

	for i := range node.Attrs {
		attr := &node.Attrs[i]
		match = false

		switch attr.Kind {
		case AttrIdentity:
			match = e.identity.CheckIdentity(attr.Name, attr.Value, pkt)
		case AttrPayload:
			payloadResult := e.payload.CheckPayload(attr.Name, attr.Value, pkt)
			if payloadResult.Match {
				match = true
				result.ContinueToInspect = payloadResult.ContinueToInspect
			}
		case AttrStatistical:
			statResult := e.statistical.CheckStatistical(attr.Name, pkt)
			match = statResult.Valid
			result.ContinueToInspect = statResult.ContinueToInspect
			if statResult.Actions != nil {
				result.Actions = statResult.Actions
			}
		case AttrNested:
			nested := e.checkConditions(pkt, attr.Nested)
			match = nested.Match
			result.ContinueToInspect = nested.ContinueToInspect
			if nested.Actions != nil {
				result.Actions = nested.Actions
			}
		default:
			match = CheckStatic(attr.Name, attr.Value, pkt)
		}

		if match && node.MatchType == MatchAny {
			result.Match = true
			return result
		}
		if !match && node.MatchType == MatchAll {
			result.Match = false
			return result
		}
	}

	switch {
	case !match && node.MatchType == MatchAny:
		result.Match = false
	case match && node.MatchType == MatchAll:
		result.Match = true
	default:
		logger.Error("policy: unexpected state at end of condition loop: match=%v match_type=%s",
			match, node.MatchType)
		result.Match = false
	}
	return result
}
