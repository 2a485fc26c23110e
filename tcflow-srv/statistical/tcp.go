package statistical

import (
	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
)

// qosBandwidth1 differentiates bandwidth-hog TCP flows from interactive
// ones so that QoS metadata can be attached for differential treatment.
// Non-TCP packets are valid but produce no match data.
func (i *Inspector) qosBandwidth1(pkt *packet.Packet) Result {
	if pkt.TCP == nil || pkt.IPv4 == nil {
		return Result{Valid: true}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	ref, found := i.table.Find(ProtocolTCP, pkt)
	if !found {
		// Not a flow we're classifying yet, start a new entry.
		i.table.InsertNew(ProtocolTCP, pkt)
		return Result{Valid: true, ContinueToInspect: true}
	}

	if i.table.IsFinalised(ref) {
		// Decision already made; hand back the cached actions.
		return Result{Valid: true, Actions: i.table.GetCachedActions(ref)}
	}

	// sampleIndex is 0 for a duplicate packet, which never triggers the
	// decision.
	sampleIndex := i.table.AppendSample(ref, pkt)
	if sampleIndex <= maxFlowPackets-1 {
		return Result{Valid: true, ContinueToInspect: true}
	}

	// Reached the sample cap: finalise so no more packets are added, then
	// classify from the aggregate features.
	i.table.Finalise(ref)

	maxSize := i.table.maxPacketSize(ref)
	maxGap := i.table.maxInterpacketInterval(ref)
	minGap := i.table.minInterpacketInterval(ref)
	// The ratio accounts for base RTT; guard the division when either
	// interval is undefined.
	ratio := 0.0
	if maxGap != 0 && minGap != 0 {
		ratio = minGap / maxGap
	}
	growth := i.table.maxWindowGrowth(ref)
	logger.Debug("statistical: tcp flow ref %d max_size=%d ratio=%f window_growth=%f",
		ref, maxSize, ratio, growth)

	var actions ActionSet
	if maxSize > maxPacketSizeThreshold && ratio < interpacketRatioThreshold {
		// Looks like a bandwidth hog, set to low priority.
		actions = ActionSet{ActionQoSTag: QoSLowPriority}
	} else {
		actions = ActionSet{ActionQoSTag: QoSDefaultPriority}
	}
	logger.Debug("statistical: tcp flow ref %d decided actions %v", ref, actions)

	// Cache so subsequent packets of the same flow get the same actions.
	i.table.SetCachedActions(ref, actions)
	i.emitDecision(ProtocolTCP, ref, actions, maxSize, minGap, maxGap, ratio)

	return Result{Valid: true, ContinueToInspect: false, Actions: actions}
}
