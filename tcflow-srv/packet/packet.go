// Package packet provides the typed view of a decoded packet-in event that
// the classification modules work against. Decoding is done once per packet
// with gopacket; the rest of the pipeline only sees this struct.
package packet

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// TCP flag bits as they appear in the TCP header flags field.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

// EtherType values the classifier cares about directly.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeLLDP uint16 = 0x88CC
)

// Meta carries the switch/port context a packet-in event arrived with.
type Meta struct {
	DPID      uint64
	InPort    uint32
	Timestamp time.Time
}

// IPv4Info holds the IPv4 header fields used by classification.
type IPv4Info struct {
	Src         netip.Addr
	Dst         netip.Addr
	Protocol    uint8
	TotalLength uint16
}

// TCPInfo holds the TCP header fields used by classification. Options is the
// raw options byte sequence (everything between the fixed header and the
// payload); the statistical module walks it itself.
type TCPInfo struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8
	Window  uint16
	Options []byte
}

// SYN reports whether the SYN flag is set.
func (t *TCPInfo) SYN() bool { return t.Flags&TCPFlagSYN != 0 }

// UDPInfo holds the UDP header fields used by classification.
type UDPInfo struct {
	SrcPort  uint16
	DstPort  uint16
	Checksum uint16
}

// Packet is a decoded packet-in event. IPv4, TCP and UDP are nil when the
// corresponding layer is not present.
type Packet struct {
	DPID      uint64
	InPort    uint32
	Timestamp time.Time

	EthSrc  string
	EthDst  string
	EthType uint16

	IPv4 *IPv4Info
	TCP  *TCPInfo
	UDP  *UDPInfo

	// Payload is the transport-layer payload, used by payload inspection.
	Payload []byte

	// LLDPSysName is the advertised system name when the packet is LLDP.
	LLDPSysName string
}

// Decode parses a raw ethernet frame into a Packet. It never fails on
// unknown upper layers; only a frame too short to carry an ethernet header
// is an error.
func Decode(data []byte, meta Meta) (*Packet, error) {
	gp := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true, Lazy: true})

	ethLayer := gp.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, fmt.Errorf("frame of %d bytes has no ethernet header", len(data))
	}
	eth := ethLayer.(*layers.Ethernet)

	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pkt := &Packet{
		DPID:      meta.DPID,
		InPort:    meta.InPort,
		Timestamp: ts,
		EthSrc:    eth.SrcMAC.String(),
		EthDst:    eth.DstMAC.String(),
		EthType:   uint16(eth.EthernetType),
	}

	if ipLayer := gp.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip := ipLayer.(*layers.IPv4)
		src, okSrc := netip.AddrFromSlice(ip.SrcIP.To4())
		dst, okDst := netip.AddrFromSlice(ip.DstIP.To4())
		if okSrc && okDst {
			pkt.IPv4 = &IPv4Info{
				Src:         src,
				Dst:         dst,
				Protocol:    uint8(ip.Protocol),
				TotalLength: ip.Length,
			}
		}
	}

	if tcpLayer := gp.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		pkt.TCP = &TCPInfo{
			SrcPort: uint16(tcp.SrcPort),
			DstPort: uint16(tcp.DstPort),
			Seq:     tcp.Seq,
			Ack:     tcp.Ack,
			Flags:   tcpFlagBits(tcp),
			Window:  tcp.Window,
			Options: rawTCPOptions(tcp),
		}
		pkt.Payload = tcp.Payload
	} else if udpLayer := gp.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		pkt.UDP = &UDPInfo{
			SrcPort:  uint16(udp.SrcPort),
			DstPort:  uint16(udp.DstPort),
			Checksum: udp.Checksum,
		}
		pkt.Payload = udp.Payload
	}

	if pkt.EthType == EtherTypeLLDP {
		if lldpLayer := gp.Layer(layers.LayerTypeLinkLayerDiscoveryInfo); lldpLayer != nil {
			info := lldpLayer.(*layers.LinkLayerDiscoveryInfo)
			pkt.LLDPSysName = info.SysName
		}
	}

	return pkt, nil
}

// tcpFlagBits packs gopacket's boolean flags back into header bit order.
func tcpFlagBits(tcp *layers.TCP) uint8 {
	var bits uint8
	if tcp.FIN {
		bits |= TCPFlagFIN
	}
	if tcp.SYN {
		bits |= TCPFlagSYN
	}
	if tcp.RST {
		bits |= TCPFlagRST
	}
	if tcp.PSH {
		bits |= TCPFlagPSH
	}
	if tcp.ACK {
		bits |= TCPFlagACK
	}
	if tcp.URG {
		bits |= TCPFlagURG
	}
	return bits
}

// rawTCPOptions returns the raw options bytes between the fixed TCP header
// and the payload. The statistical module parses the TLV sequence itself
// rather than relying on gopacket's option decoding.
func rawTCPOptions(tcp *layers.TCP) []byte {
	headerLen := int(tcp.DataOffset) * 4
	if headerLen <= 20 || headerLen > len(tcp.Contents) {
		return nil
	}
	opts := make([]byte, headerLen-20)
	copy(opts, tcp.Contents[20:headerLen])
	return opts
}
