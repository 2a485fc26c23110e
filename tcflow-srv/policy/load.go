package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/statistical"
)

// Supported policy syntax. Structural validation happens here, once, so the
// evaluator can assume a well-formed tree on the packet path.

// condValueType names the value check applied to a condition attribute.
type condValueType int

const (
	valueString condValueType = iota
	valuePortNumber
	valueMACAddress
	valueEtherType
	valueIPAddressSpace
)

// conditionAttrs maps every supported leaf condition attribute to its kind
// and value type.
var conditionAttrs = map[string]struct {
	kind      AttrKind
	valueType condValueType
}{
	"eth_src":                     {AttrStatic, valueMACAddress},
	"eth_dst":                     {AttrStatic, valueMACAddress},
	"eth_type":                    {AttrStatic, valueEtherType},
	"ip_src":                      {AttrStatic, valueIPAddressSpace},
	"ip_dst":                      {AttrStatic, valueIPAddressSpace},
	"tcp_src":                     {AttrStatic, valuePortNumber},
	"tcp_dst":                     {AttrStatic, valuePortNumber},
	"identity_lldp_systemname":    {AttrIdentity, valueString},
	"identity_lldp_systemname_re": {AttrIdentity, valueString},
	"payload_type":                {AttrPayload, valueString},
	statistical.AttrQoSBandwidth1: {AttrStatistical, valueString},
	statistical.AttrVoIPP2P:       {AttrStatistical, valueString},
}

// ruleAttrs are the attributes a policy rule may carry.
var ruleAttrs = map[string]bool{
	"comment":    true,
	"conditions": true,
	"actions":    true,
}

// actionAttrs are the actions a policy rule may set.
var actionAttrs = map[string]bool{
	"set_qos_tag":      true,
	"set_desc_tag":     true,
	"pass_return_tags": true,
}

// Load reads, validates and compiles the policy file. Any structural error
// is fatal to startup and reported with enough context to fix the file.
func Load(path string) (*Policy, error) {
	logger.Info("policy: loading traffic classification policy from %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and compiles a policy document.
func Parse(data []byte) (*Policy, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("policy document is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("policy document must be a mapping of rule names to rules")
	}

	policy := &Policy{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		rule, err := compileRule(name, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		policy.Rules = append(policy.Rules, rule)
	}
	if len(policy.Rules) == 0 {
		return nil, fmt.Errorf("policy document contains no rules")
	}
	logger.Debug("policy: compiled %d rules", len(policy.Rules))
	return policy, nil
}

// compileRule validates one policy rule stanza.
func compileRule(name string, node *yaml.Node) (Rule, error) {
	rule := Rule{Name: name}
	if node.Kind != yaml.MappingNode {
		return rule, fmt.Errorf("rule %q must be a mapping", name)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]
		if !ruleAttrs[key] {
			return rule, fmt.Errorf("rule %q: invalid rule attribute %q", name, key)
		}
		switch key {
		case "comment":
			rule.Comment = value.Value
		case "conditions":
			conditions, err := compileConditions(name, value)
			if err != nil {
				return rule, err
			}
			rule.Conditions = conditions
		case "actions":
			actions, err := compileActions(name, value)
			if err != nil {
				return rule, err
			}
			rule.Actions = actions
		}
	}
	if rule.Conditions == nil {
		return rule, fmt.Errorf("rule %q has no conditions stanza", name)
	}
	return rule, nil
}

// compileActions validates a rule's actions stanza.
func compileActions(ruleName string, node *yaml.Node) (statistical.ActionSet, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rule %q: actions must be a mapping", ruleName)
	}
	actions := make(statistical.ActionSet)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !actionAttrs[key] {
			return nil, fmt.Errorf("rule %q: invalid action attribute %q", ruleName, key)
		}
		actions[key] = node.Content[i+1].Value
	}
	return actions, nil
}

// compileConditions validates a conditions stanza, recursing into nested
// stanzas, and compiles it into a ConditionNode. Every stanza must carry
// exactly one match_type; the directive is folded into the node rather than
// kept as an attribute.
func compileConditions(ruleName string, node *yaml.Node) (*ConditionNode, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rule %q: conditions stanza must be a mapping", ruleName)
	}
	compiled := &ConditionNode{}
	hasMatchType := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		if key == "match_type" {
			matchType, err := parseMatchType(value.Value)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", ruleName, err)
			}
			compiled.MatchType = matchType
			hasMatchType = true
			continue
		}

		if strings.HasPrefix(key, "conditions") {
			nested, err := compileConditions(ruleName, value)
			if err != nil {
				return nil, err
			}
			compiled.Attrs = append(compiled.Attrs, Attribute{
				Kind:   AttrNested,
				Name:   key,
				Nested: nested,
			})
			continue
		}

		spec, known := conditionAttrs[key]
		if !known {
			return nil, fmt.Errorf("rule %q: invalid condition attribute %q", ruleName, key)
		}
		if err := validateConditionValue(key, spec.valueType, value.Value); err != nil {
			return nil, fmt.Errorf("rule %q: %w", ruleName, err)
		}
		compiled.Attrs = append(compiled.Attrs, Attribute{
			Kind:  spec.kind,
			Name:  key,
			Value: value.Value,
		})
	}
	if !hasMatchType {
		return nil, fmt.Errorf("rule %q: conditions stanza is missing match_type", ruleName)
	}
	return compiled, nil
}

// parseMatchType validates a match_type value.
func parseMatchType(value string) (MatchType, error) {
	switch value {
	case "any":
		return MatchAny, nil
	case "all":
		return MatchAll, nil
	case "statistical":
		return MatchStatistical, nil
	default:
		return 0, fmt.Errorf("invalid match_type %q (want any, all or statistical)", value)
	}
}

// validateConditionValue applies the value check for a condition attribute.
func validateConditionValue(attr string, valueType condValueType, value string) error {
	switch valueType {
	case valuePortNumber:
		if !IsValidTransportPort(value) {
			return fmt.Errorf("condition %q has invalid port number %q", attr, value)
		}
	case valueMACAddress:
		if !IsValidMACAddress(value) {
			return fmt.Errorf("condition %q has invalid MAC address %q", attr, value)
		}
	case valueEtherType:
		if !IsValidEtherType(value) {
			return fmt.Errorf("condition %q has invalid ethertype %q", attr, value)
		}
	case valueIPAddressSpace:
		if !IsValidIPSpace(value) {
			return fmt.Errorf("condition %q has invalid IP address space %q", attr, value)
		}
	case valueString:
		// Any scalar is a valid string.
	}
	return nil
}
