// Package statistical implements the stateful statistical flow classifiers
// and the Flow Classification In Progress (FCIP) table they share. A flow
// accumulates per-packet samples up to a cap, a decision is made from
// aggregate features, and the decision is cached on the flow for every
// packet that follows.
package statistical

import (
	"sync"
	"time"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
)

// Statistical attribute names recognised by the inspector.
const (
	AttrQoSBandwidth1 = "statistical_qos_bandwidth_1"
	AttrVoIPP2P       = "statistical_voip_p2p"
)

const (
	// maxFlowPackets is the number of accepted samples that triggers a
	// classification decision.
	maxFlowPackets = 5
	// maxPacketSizeThreshold in bytes of IP total length.
	maxPacketSizeThreshold = 1200
	// interpacketRatioThreshold compares min to max same-direction gap.
	interpacketRatioThreshold = 0.25
)

// QoS action key and values attached as classification metadata.
const (
	ActionQoSTag       = "set_qos_tag"
	QoSLowPriority     = "QoS_treatment=low_priority"
	QoSDefaultPriority = "QoS_treatment=default_priority"
)

// Result is the outcome of a statistical check for one packet. Valid is
// false only when the attribute itself is unknown. ContinueToInspect asks
// the controller to keep sending packets of this flow instead of installing
// a flow rule.
type Result struct {
	Valid             bool
	ContinueToInspect bool
	Actions           ActionSet
}

// FlowDecision is a finalised classification, reported to the observer for
// recording.
type FlowDecision struct {
	Protocol  Protocol
	IPA       string
	IPB       string
	PortA     uint16
	PortB     uint16
	Samples   int
	MaxSize   int
	MinGap    float64
	MaxGap    float64
	Ratio     float64
	QoSTag    string
	DecidedAt time.Time
}

// Inspector runs the statistical classifiers over a shared FCIP table. A
// single mutex makes each classification call, and the aging sweep, one
// critical section: the find/insert/append/finalise/cache sequence for a
// packet never interleaves with another packet of the same flow.
type Inspector struct {
	mu    sync.Mutex
	table *Table

	// onDecision, when set, is called with every finalised flow decision
	// while the inspector lock is held. Keep it cheap.
	onDecision func(FlowDecision)
}

// NewInspector creates an inspector with an empty flow table.
func NewInspector() *Inspector {
	return &Inspector{table: NewTable()}
}

// OnDecision registers a callback invoked for every finalised flow.
func (i *Inspector) OnDecision(fn func(FlowDecision)) {
	i.onDecision = fn
}

// CheckStatistical dispatches a statistical classification attribute to its
// classifier. Unknown attributes are reported invalid; policy validation
// should have rejected them at load.
func (i *Inspector) CheckStatistical(attr string, pkt *packet.Packet) Result {
	switch attr {
	case AttrQoSBandwidth1:
		return i.qosBandwidth1(pkt)
	case AttrVoIPP2P:
		return i.voipP2P(pkt)
	default:
		logger.Error("statistical: unknown attribute %q", attr)
		return Result{}
	}
}

// FlowCount returns the number of flows currently being tracked.
func (i *Inspector) FlowCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.table.Len()
}

// Sweep ages out flows not seen within maxAge. It takes the same lock as
// classification, so it must be run out-of-band, never on the packet path.
func (i *Inspector) Sweep(maxAge time.Duration) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	removed := i.table.Sweep(maxAge)
	if removed > 0 {
		logger.Debug("statistical: sweep removed %d aged flows, %d live", removed, i.table.Len())
	}
	return removed
}

// emitDecision reports a finalised flow to the registered observer.
func (i *Inspector) emitDecision(proto Protocol, ref Ref, actions ActionSet, maxSize int, minGap, maxGap, ratio float64) {
	if i.onDecision == nil {
		return
	}
	rec, ok := i.table.records[ref]
	if !ok {
		return
	}
	i.onDecision(FlowDecision{
		Protocol:  proto,
		IPA:       rec.ipA.String(),
		IPB:       rec.ipB.String(),
		PortA:     rec.portA,
		PortB:     rec.portB,
		Samples:   len(rec.samples),
		MaxSize:   maxSize,
		MinGap:    minGap,
		MaxGap:    maxGap,
		Ratio:     ratio,
		QoSTag:    actions[ActionQoSTag],
		DecidedAt: rec.lastSeen,
	})
}
