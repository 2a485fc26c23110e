package statistical

import (
	"fmt"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
)

// voipP2P tracks UDP flows and computes per-direction features intended to
// separate VoIP-like from P2P-like traffic. The decision branch is
// deliberately disabled: every finalised UDP flow gets the default QoS tag
// while the heuristic remains under evaluation. Feature computation and the
// flow lifecycle are live so the data keeps being gathered.
func (i *Inspector) voipP2P(pkt *packet.Packet) Result {
	if pkt.UDP == nil || pkt.IPv4 == nil {
		return Result{Valid: true}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	ref, found := i.table.Find(ProtocolUDP, pkt)
	if !found {
		i.table.InsertNew(ProtocolUDP, pkt)
		return Result{Valid: true, ContinueToInspect: true}
	}

	if i.table.IsFinalised(ref) {
		return Result{Valid: true, Actions: i.table.GetCachedActions(ref)}
	}

	sampleIndex := i.table.AppendSample(ref, pkt)
	if sampleIndex <= maxFlowPackets-1 {
		return Result{Valid: true, ContinueToInspect: true}
	}

	i.table.Finalise(ref)

	sizes := i.table.maxPacketSizeByDirection(ref)
	maxGaps := i.table.maxInterpacketByDirection(ref)
	minGaps := i.table.minInterpacketByDirection(ref)

	// Per-direction ratios are skipped for a direction without two
	// samples; the combined ratio is guarded the same way.
	ratioBoth := directionalRatio(minGaps.both, maxGaps.both)
	logger.Debug("statistical: udp flow ref %d max_size both=%d forward=%d reverse=%d",
		ref, sizes.both, sizes.forward, sizes.reverse)
	logger.Debug("statistical: udp flow ref %d ratio both=%s forward=%s reverse=%s",
		ref,
		formatRatio(ratioBoth),
		formatRatio(directionalRatio(minGaps.forward, maxGaps.forward)),
		formatRatio(directionalRatio(minGaps.reverse, maxGaps.reverse)))

	// Decision branch disabled: always default priority.
	actions := ActionSet{ActionQoSTag: QoSDefaultPriority}
	logger.Debug("statistical: udp flow ref %d decided actions %v", ref, actions)

	i.table.SetCachedActions(ref, actions)

	var minBoth, maxBoth, ratio float64
	if minGaps.both != nil {
		minBoth = *minGaps.both
	}
	if maxGaps.both != nil {
		maxBoth = *maxGaps.both
	}
	if ratioBoth != nil {
		ratio = *ratioBoth
	}
	i.emitDecision(ProtocolUDP, ref, actions, sizes.both, minBoth, maxBoth, ratio)

	return Result{Valid: true, ContinueToInspect: false, Actions: actions}
}

// directionalRatio divides min by max gap, or reports absent when either
// side is absent or the max is zero.
func directionalRatio(minGap, maxGap *float64) *float64 {
	if minGap == nil || maxGap == nil || *maxGap == 0 {
		return nil
	}
	v := *minGap / *maxGap
	return &v
}

// formatRatio renders an optional ratio for logging.
func formatRatio(r *float64) string {
	if r == nil {
		return "none"
	}
	return fmt.Sprintf("%f", *r)
}
