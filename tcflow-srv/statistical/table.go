package statistical

import (
	"net/netip"
	"time"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
)

// Protocol discriminates which transport a flow record tracks.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

// String returns the protocol name.
func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "udp"
	}
	return "tcp"
}

// Direction classifies a packet relative to the orientation fixed by the
// first packet of its flow.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionReverse
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirectionReverse {
		return "reverse"
	}
	return "forward"
}

// Ref is an opaque reference to a flow record. References are sequential,
// monotonically increasing and never reused within the process lifetime.
type Ref uint64

// ActionSet holds classification metadata actions keyed by action name.
// A nil ActionSet means no actions were decided.
type ActionSet map[string]string

// Merge returns rule-level actions merged over condition-level actions;
// values in other win on key collision. Either side may be nil.
func (a ActionSet) Merge(other ActionSet) ActionSet {
	if a == nil {
		return other
	}
	if other == nil {
		return a
	}
	merged := make(ActionSet, len(a)+len(other))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Sample is one accepted packet observation within a flow record. Index is
// 1-based and assigned by insertion order; duplicates never consume an
// index. WindowSize holds the window after scaling was applied.
type Sample struct {
	Index       int
	Direction   Direction
	ArrivalTime time.Time
	TotalLength int

	// TCP fields
	WindowSize uint32
	Ack        uint32
	Flags      uint8
	SYN        bool

	// UDP fields
	Checksum uint16
}

// flowRecord tracks one flow being classified. Orientation is fixed by the
// first packet: its source becomes endpoint A. Records are owned by the
// Table and must only be touched while the inspector serializes access.
type flowRecord struct {
	proto Protocol

	ipA   netip.Addr
	ipB   netip.Addr
	portA uint16
	portB uint16

	samples []Sample

	// Per-direction TCP window scale shift counts learnt from SYN options.
	scaleForward    uint8
	scaleReverse    uint8
	hasScaleForward bool
	hasScaleReverse bool

	finalised bool
	actions   ActionSet
	lastSeen  time.Time
}

// matchIP checks a source/destination address pair against the record in
// either orientation.
func (r *flowRecord) matchIP(src, dst netip.Addr) (Direction, bool) {
	switch {
	case src == r.ipA && dst == r.ipB:
		return DirectionForward, true
	case src == r.ipB && dst == r.ipA:
		return DirectionReverse, true
	default:
		return 0, false
	}
}

// matchPorts checks transport ports in the same orientation the IP
// addresses matched in.
func (r *flowRecord) matchPorts(dir Direction, srcPort, dstPort uint16) bool {
	if dir == DirectionForward {
		return srcPort == r.portA && dstPort == r.portB
	}
	return srcPort == r.portB && dstPort == r.portA
}

// Table is the Flow Classification In Progress (FCIP) store. Lookup is a
// linear scan over live records; flow counts are assumed small relative to
// the per-packet budget, so no secondary index is kept. The table does no
// locking of its own: the owning Inspector serializes all access so that a
// find/insert/append/finalise sequence for one packet is a single critical
// section.
type Table struct {
	records map[Ref]*flowRecord
	order   []Ref
	nextRef Ref

	now func() time.Time
}

// NewTable creates an empty FCIP table.
func NewTable() *Table {
	return &Table{
		records: make(map[Ref]*flowRecord),
		nextRef: 1,
		now:     time.Now,
	}
}

// Len returns the number of live flow records.
func (t *Table) Len() int {
	return len(t.records)
}

// endpoints extracts the transport endpoint pair for the given protocol, or
// reports false when the packet does not carry that transport.
func endpoints(proto Protocol, pkt *packet.Packet) (src, dst netip.Addr, srcPort, dstPort uint16, ok bool) {
	if pkt.IPv4 == nil {
		return netip.Addr{}, netip.Addr{}, 0, 0, false
	}
	switch proto {
	case ProtocolTCP:
		if pkt.TCP == nil {
			return netip.Addr{}, netip.Addr{}, 0, 0, false
		}
		return pkt.IPv4.Src, pkt.IPv4.Dst, pkt.TCP.SrcPort, pkt.TCP.DstPort, true
	case ProtocolUDP:
		if pkt.UDP == nil {
			return netip.Addr{}, netip.Addr{}, 0, 0, false
		}
		return pkt.IPv4.Src, pkt.IPv4.Dst, pkt.UDP.SrcPort, pkt.UDP.DstPort, true
	}
	return netip.Addr{}, netip.Addr{}, 0, 0, false
}

// Find scans live records for a protocol and endpoint-pair match in either
// orientation. The second return value is false when the flow is unknown.
func (t *Table) Find(proto Protocol, pkt *packet.Packet) (Ref, bool) {
	src, dst, srcPort, dstPort, ok := endpoints(proto, pkt)
	if !ok {
		return 0, false
	}
	for _, ref := range t.order {
		rec := t.records[ref]
		if rec == nil || rec.proto != proto {
			continue
		}
		dir, ipMatch := rec.matchIP(src, dst)
		if !ipMatch {
			continue
		}
		if rec.matchPorts(dir, srcPort, dstPort) {
			logger.Trace("FCIP: packet matched flow ref %d (%s)", ref, dir)
			return ref, true
		}
	}
	return 0, false
}

// InsertNew creates a flow record for the packet with the first sample at
// index 1, direction forward. The caller is responsible for having checked
// Find first.
func (t *Table) InsertNew(proto Protocol, pkt *packet.Packet) Ref {
	src, dst, srcPort, dstPort, ok := endpoints(proto, pkt)
	if !ok {
		return 0
	}
	rec := &flowRecord{
		proto: proto,
		ipA:   src,
		ipB:   dst,
		portA: srcPort,
		portB: dstPort,
	}
	sample := buildSample(proto, pkt)
	sample.Index = 1
	sample.Direction = DirectionForward
	if proto == ProtocolTCP && sample.SYN {
		// Learn the forward window scale shift count from the SYN options.
		rec.scaleForward = parseWindowScale(pkt.TCP.Options)
		rec.hasScaleForward = true
	}
	rec.samples = append(rec.samples, sample)
	rec.lastSeen = sample.ArrivalTime

	ref := t.nextRef
	t.nextRef++
	t.records[ref] = rec
	t.order = append(t.order, ref)
	logger.Trace("FCIP: new %s flow ref %d %s:%d <-> %s:%d",
		proto, ref, src, srcPort, dst, dstPort)
	return ref
}

// AppendSample records the packet against an existing flow. It returns the
// new 1-based sample index, or 0 when the packet is a duplicate of one
// already stored (the record is not mutated in that case).
func (t *Table) AppendSample(ref Ref, pkt *packet.Packet) int {
	rec, ok := t.records[ref]
	if !ok {
		logger.Error("FCIP: append on unknown flow ref %d", ref)
		return 0
	}
	src, dst, _, _, ok := endpoints(rec.proto, pkt)
	if !ok {
		return 0
	}

	if rec.isDuplicate(pkt) {
		logger.Trace("FCIP: ignoring duplicate packet on flow ref %d", ref)
		return 0
	}

	dir, ipMatch := rec.matchIP(src, dst)
	if !ipMatch {
		logger.Error("FCIP: append on flow ref %d with non-matching endpoints", ref)
		return 0
	}

	sample := buildSample(rec.proto, pkt)
	sample.Index = len(rec.samples) + 1
	sample.Direction = dir

	if rec.proto == ProtocolTCP {
		if sample.SYN {
			if dir == DirectionReverse {
				// Learn the reverse window scale shift count from the
				// returning SYN.
				rec.scaleReverse = parseWindowScale(pkt.TCP.Options)
				rec.hasScaleReverse = true
			}
		} else {
			// Apply window scaling once the shift for this direction is
			// known; unscaled otherwise.
			if dir == DirectionForward && rec.hasScaleForward {
				sample.WindowSize <<= rec.scaleForward
			}
			if dir == DirectionReverse && rec.hasScaleReverse {
				sample.WindowSize <<= rec.scaleReverse
			}
		}
	}

	rec.samples = append(rec.samples, sample)
	rec.lastSeen = sample.ArrivalTime
	logger.Trace("FCIP: flow ref %d now holds %d samples", ref, len(rec.samples))
	return sample.Index
}

// isDuplicate checks the packet against every stored sample using the
// protocol's dedup key. This suppresses the same packet seen at multiple
// switches or retransmitted, at the cost of possible false positives when
// two genuinely distinct packets share the key fields.
func (r *flowRecord) isDuplicate(pkt *packet.Packet) bool {
	switch r.proto {
	case ProtocolTCP:
		for i := range r.samples {
			s := &r.samples[i]
			if s.WindowSize == uint32(pkt.TCP.Window) && s.Ack == pkt.TCP.Ack && s.Flags == pkt.TCP.Flags {
				return true
			}
		}
	case ProtocolUDP:
		for i := range r.samples {
			if r.samples[i].Checksum == pkt.UDP.Checksum {
				return true
			}
		}
	}
	return false
}

// buildSample fills the protocol fields for a new sample. TCP window sizes
// are stored raw here; AppendSample applies scaling when appropriate.
func buildSample(proto Protocol, pkt *packet.Packet) Sample {
	s := Sample{
		ArrivalTime: pkt.Timestamp,
		TotalLength: int(pkt.IPv4.TotalLength),
	}
	switch proto {
	case ProtocolTCP:
		s.WindowSize = uint32(pkt.TCP.Window)
		s.Ack = pkt.TCP.Ack
		s.Flags = pkt.TCP.Flags
		s.SYN = pkt.TCP.SYN()
	case ProtocolUDP:
		s.Checksum = pkt.UDP.Checksum
	}
	return s
}

// SampleCount returns the number of accepted samples for a flow.
func (t *Table) SampleCount(ref Ref) int {
	rec, ok := t.records[ref]
	if !ok {
		return 0
	}
	return len(rec.samples)
}

// Finalise marks the flow as finalised so no further samples are appended.
// Idempotent.
func (t *Table) Finalise(ref Ref) {
	if rec, ok := t.records[ref]; ok {
		rec.finalised = true
	}
}

// IsFinalised reports whether the flow has been finalised. Unknown refs
// report false.
func (t *Table) IsFinalised(ref Ref) bool {
	rec, ok := t.records[ref]
	return ok && rec.finalised
}

// SetCachedActions stores the decided actions for a finalised flow.
func (t *Table) SetCachedActions(ref Ref, actions ActionSet) {
	if rec, ok := t.records[ref]; ok {
		rec.actions = actions
	}
}

// GetCachedActions returns the actions cached at finalisation, or nil.
func (t *Table) GetCachedActions(ref Ref) ActionSet {
	if rec, ok := t.records[ref]; ok {
		return rec.actions
	}
	return nil
}

// Sweep removes every record whose lastSeen is older than maxAge relative
// to now. Victims are collected first and deleted second so the iteration
// never races its own mutation.
func (t *Table) Sweep(maxAge time.Duration) int {
	now := t.now()
	var victims []Ref
	for ref, rec := range t.records {
		if now.Sub(rec.lastSeen) > maxAge {
			victims = append(victims, ref)
		}
	}
	for _, ref := range victims {
		logger.Debug("FCIP: aging out flow ref %d", ref)
		delete(t.records, ref)
	}
	if len(victims) > 0 {
		live := t.order[:0]
		for _, ref := range t.order {
			if _, ok := t.records[ref]; ok {
				live = append(live, ref)
			}
		}
		t.order = live
	}
	return len(victims)
}
