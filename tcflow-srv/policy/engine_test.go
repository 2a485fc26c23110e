package policy

import (
	"net/netip"
	"testing"
	"time"

	"github.com/codefionn/tcflow/tcflow-srv/packet"
	"github.com/codefionn/tcflow/tcflow-srv/statistical"
)

func testEngine(t *testing.T, policyDoc string) (*Engine, *statistical.Inspector) {
	t.Helper()
	pol, err := Parse([]byte(policyDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	inspector := statistical.NewInspector()
	return NewEngine(pol, NewIdentity(), NewPayload(), inspector), inspector
}

func tcpFlowPacket(src, dst string, srcPort, dstPort uint16, at time.Time, ack uint32) *packet.Packet {
	return &packet.Packet{
		Timestamp: at,
		EthSrc:    "08:00:27:2a:d6:dd",
		EthDst:    "08:00:27:c8:db:91",
		EthType:   packet.EtherTypeIPv4,
		IPv4: &packet.IPv4Info{
			Src:         netip.MustParseAddr(src),
			Dst:         netip.MustParseAddr(dst),
			Protocol:    6,
			TotalLength: 1460,
		},
		TCP: &packet.TCPInfo{
			SrcPort: srcPort,
			DstPort: dstPort,
			Ack:     ack,
			Flags:   packet.TCPFlagACK,
			Window:  1024,
		},
	}
}

func TestEngineFirstMatchWins(t *testing.T) {
	engine, _ := testEngine(t, `
first:
  conditions:
    match_type: any
    tcp_dst: 80
  actions:
    set_desc_tag: first
second:
  conditions:
    match_type: any
    ip_src: 10.1.0.1
  actions:
    set_desc_tag: second
`)
	// Packet satisfies both rules; the earlier one must answer.
	pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	verdict := engine.Check(pkt)
	if !verdict.Match {
		t.Fatal("packet did not match any rule")
	}
	if got := verdict.Actions["set_desc_tag"]; got != "first" {
		t.Errorf("matched rule actions = %v, want first rule's", verdict.Actions)
	}
}

func TestEngineNoRuleMatches(t *testing.T) {
	engine, _ := testEngine(t, `
only:
  conditions:
    match_type: any
    tcp_dst: 443
`)
	pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	verdict := engine.Check(pkt)
	if verdict.Match || verdict.ContinueToInspect || verdict.Actions != nil {
		t.Errorf("verdict = %+v, want zero value", verdict)
	}
}

func TestEngineAnyShortCircuits(t *testing.T) {
	// The first attribute matches, so the statistical attribute after it
	// must never be evaluated: the flow table stays empty.
	engine, inspector := testEngine(t, `
rule:
  conditions:
    match_type: any
    tcp_dst: 80
    statistical_qos_bandwidth_1: statistical_qos_bandwidth_1
`)
	pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	verdict := engine.Check(pkt)
	if !verdict.Match {
		t.Fatal("packet did not match")
	}
	if inspector.FlowCount() != 0 {
		t.Errorf("statistical attribute was evaluated after any short-circuit (flows=%d)", inspector.FlowCount())
	}
}

func TestEngineAllShortCircuits(t *testing.T) {
	// The first attribute fails, so the statistical attribute after it must
	// never be evaluated.
	engine, inspector := testEngine(t, `
rule:
  conditions:
    match_type: all
    tcp_dst: 443
    statistical_qos_bandwidth_1: statistical_qos_bandwidth_1
`)
	pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	verdict := engine.Check(pkt)
	if verdict.Match {
		t.Fatal("packet matched a failing all stanza")
	}
	if inspector.FlowCount() != 0 {
		t.Errorf("statistical attribute was evaluated after all short-circuit (flows=%d)", inspector.FlowCount())
	}
}

func TestEngineAllRequiresEveryAttribute(t *testing.T) {
	engine, _ := testEngine(t, `
rule:
  conditions:
    match_type: all
    eth_type: 0x0800
    ip_src: 10.1.0.0/24
    tcp_dst: 80
  actions:
    set_desc_tag: matched
`)
	match := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	if verdict := engine.Check(match); !verdict.Match {
		t.Error("fully-satisfied all stanza did not match")
	}
	miss := tcpFlowPacket("10.2.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	if verdict := engine.Check(miss); verdict.Match {
		t.Error("all stanza matched despite failing ip_src")
	}
}

func TestEngineNestedConditions(t *testing.T) {
	engine, _ := testEngine(t, `
rule:
  conditions:
    match_type: all
    eth_type: 0x0800
    conditions_endpoints:
      match_type: any
      ip_src: 192.168.56.0/24
      ip_dst: 192.168.56.0/24
  actions:
    set_desc_tag: lan
`)
	toLAN := tcpFlowPacket("10.1.0.1", "192.168.56.10", 43297, 80, time.Now(), 1)
	if verdict := engine.Check(toLAN); !verdict.Match {
		t.Error("nested any stanza did not match on ip_dst")
	}
	neither := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	if verdict := engine.Check(neither); verdict.Match {
		t.Error("nested any stanza matched with neither endpoint in range")
	}
}

func TestEngineStatisticalRuleLifecycle(t *testing.T) {
	engine, _ := testEngine(t, `
rule:
  conditions:
    match_type: any
    statistical_qos_bandwidth_1: statistical_qos_bandwidth_1
  actions:
    set_desc_tag: Constrained Bandwidth Traffic
`)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 2 * time.Second}
	var verdict Verdict
	for i, off := range offsets {
		pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, base.Add(off), uint32(i))
		verdict = engine.Check(pkt)
		if !verdict.Match {
			t.Fatalf("packet %d did not match the statistical rule", i+1)
		}
		if i < len(offsets)-1 {
			if !verdict.ContinueToInspect {
				t.Fatalf("packet %d verdict = %+v, want continue_to_inspect", i+1, verdict)
			}
		}
	}

	// The fifth packet finalises the flow; the classifier's QoS action and
	// the rule's description tag are both present.
	if verdict.ContinueToInspect {
		t.Error("deciding packet still asks for further inspection")
	}
	if got := verdict.Actions[statistical.ActionQoSTag]; got != statistical.QoSLowPriority {
		t.Errorf("QoS action = %q, want %q", got, statistical.QoSLowPriority)
	}
	if got := verdict.Actions["set_desc_tag"]; got != "Constrained Bandwidth Traffic" {
		t.Errorf("description action = %q", got)
	}
}

func TestEngineRuleActionsWinOnCollision(t *testing.T) {
	engine, _ := testEngine(t, `
rule:
  conditions:
    match_type: any
    statistical_qos_bandwidth_1: statistical_qos_bandwidth_1
  actions:
    set_qos_tag: QoS_treatment=constrained_bw
`)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	var verdict Verdict
	for i := 0; i < 5; i++ {
		pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, base.Add(time.Duration(i)*10*time.Millisecond), uint32(i))
		verdict = engine.Check(pkt)
	}
	// The classifier decided a QoS tag too; the rule-level value replaces
	// it.
	if got := verdict.Actions[statistical.ActionQoSTag]; got != "QoS_treatment=constrained_bw" {
		t.Errorf("QoS action = %q, want rule-level override", got)
	}
}

func TestEngineStatisticalMatchTypeNeverMatches(t *testing.T) {
	// match_type statistical never short-circuits, so evaluation always
	// falls through to the unexpected-state fallback and the rule cannot
	// match.
	engine, inspector := testEngine(t, `
rule:
  conditions:
    match_type: statistical
    statistical_qos_bandwidth_1: statistical_qos_bandwidth_1
`)
	pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	verdict := engine.Check(pkt)
	if verdict.Match {
		t.Error("statistical match_type stanza matched")
	}
	// The attribute itself was still evaluated, so the flow was tracked.
	if inspector.FlowCount() != 1 {
		t.Errorf("flow count = %d, want 1", inspector.FlowCount())
	}
}

func TestEngineIdentityRule(t *testing.T) {
	engine, _ := testEngine(t, `
rule:
  conditions:
    match_type: any
    identity_lldp_systemname_re: ^audit\..*
  actions:
    set_desc_tag: audit traffic
`)

	// Engine harvests LLDP on the way through.
	advert := &packet.Packet{
		EthSrc:      "08:00:27:2a:d6:dd",
		EthDst:      "01:80:c2:00:00:0e",
		EthType:     packet.EtherTypeLLDP,
		LLDPSysName: "audit.example.com",
	}
	engine.Check(advert)

	pkt := tcpFlowPacket("10.1.0.1", "10.1.0.2", 43297, 80, time.Now(), 1)
	verdict := engine.Check(pkt)
	if !verdict.Match {
		t.Fatal("traffic from the advertised system did not match the identity rule")
	}
	if got := verdict.Actions["set_desc_tag"]; got != "audit traffic" {
		t.Errorf("actions = %v", verdict.Actions)
	}
}
