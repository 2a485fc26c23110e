package packet

import (
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var (
	testSrcMAC = net.HardwareAddr{0x08, 0x00, 0x27, 0x2a, 0xd6, 0xdd}
	testDstMAC = net.HardwareAddr{0x08, 0x00, 0x27, 0xc8, 0xdb, 0x91}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("failed to serialize test frame: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeTCP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 1, 0, 1),
		DstIP:    net.IPv4(10, 1, 0, 2),
	}
	tcp := &layers.TCP{
		SrcPort: 43297,
		DstPort: 80,
		Seq:     1000,
		Ack:     2000,
		SYN:     true,
		Window:  29200,
		Options: []layers.TCPOption{
			{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
			{OptionType: layers.TCPOptionKindNop, OptionLength: 1},
			{OptionType: layers.TCPOptionKindWindowScale, OptionLength: 3, OptionData: []byte{0x07}},
		},
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	data := serialize(t,
		&layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeIPv4},
		ip, tcp, gopacket.Payload([]byte("GET / HTTP/1.1\r\n")))

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	pkt, err := Decode(data, Meta{DPID: 1, InPort: 3, Timestamp: at})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if pkt.DPID != 1 || pkt.InPort != 3 || !pkt.Timestamp.Equal(at) {
		t.Errorf("meta fields = dpid=%d port=%d ts=%v", pkt.DPID, pkt.InPort, pkt.Timestamp)
	}
	if pkt.EthSrc != "08:00:27:2a:d6:dd" || pkt.EthDst != "08:00:27:c8:db:91" {
		t.Errorf("MACs = %s -> %s", pkt.EthSrc, pkt.EthDst)
	}
	if pkt.EthType != EtherTypeIPv4 {
		t.Errorf("ethertype = 0x%04x, want 0x0800", pkt.EthType)
	}

	if pkt.IPv4 == nil {
		t.Fatal("IPv4 layer missing")
	}
	if pkt.IPv4.Src.String() != "10.1.0.1" || pkt.IPv4.Dst.String() != "10.1.0.2" {
		t.Errorf("addresses = %s -> %s", pkt.IPv4.Src, pkt.IPv4.Dst)
	}
	if pkt.IPv4.Protocol != 6 {
		t.Errorf("protocol = %d, want 6", pkt.IPv4.Protocol)
	}
	// 20 IP + 20 TCP + 8 options (padded) + 16 payload.
	if pkt.IPv4.TotalLength != 64 {
		t.Errorf("total length = %d, want 64", pkt.IPv4.TotalLength)
	}

	if pkt.TCP == nil {
		t.Fatal("TCP layer missing")
	}
	if pkt.TCP.SrcPort != 43297 || pkt.TCP.DstPort != 80 {
		t.Errorf("ports = %d -> %d", pkt.TCP.SrcPort, pkt.TCP.DstPort)
	}
	if !pkt.TCP.SYN() || pkt.TCP.Flags != TCPFlagSYN {
		t.Errorf("flags = 0x%02x, want SYN only", pkt.TCP.Flags)
	}
	if pkt.TCP.Window != 29200 {
		t.Errorf("window = %d, want 29200", pkt.TCP.Window)
	}
	if pkt.UDP != nil {
		t.Error("UDP layer set on a TCP packet")
	}
	if string(pkt.Payload) != "GET / HTTP/1.1\r\n" {
		t.Errorf("payload = %q", pkt.Payload)
	}

	// Raw options must round-trip the window scale TLV.
	found := false
	for i := 0; i+2 < len(pkt.TCP.Options); i++ {
		if pkt.TCP.Options[i] == 3 && pkt.TCP.Options[i+1] == 3 && pkt.TCP.Options[i+2] == 7 {
			found = true
		}
	}
	if !found {
		t.Errorf("raw options %v do not contain window scale shift 7", pkt.TCP.Options)
	}
}

func TestDecodeUDP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 1, 0, 1),
		DstIP:    net.IPv4(10, 1, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	data := serialize(t,
		&layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeIPv4},
		ip, udp, gopacket.Payload([]byte("INVITE sip:alice@example.com SIP/2.0")))

	pkt, err := Decode(data, Meta{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkt.UDP == nil {
		t.Fatal("UDP layer missing")
	}
	if pkt.UDP.SrcPort != 5060 || pkt.UDP.DstPort != 5060 {
		t.Errorf("ports = %d -> %d", pkt.UDP.SrcPort, pkt.UDP.DstPort)
	}
	if pkt.UDP.Checksum == 0 {
		t.Error("checksum not decoded")
	}
	if pkt.TCP != nil {
		t.Error("TCP layer set on a UDP packet")
	}
	if string(pkt.Payload) != "INVITE sip:alice@example.com SIP/2.0" {
		t.Errorf("payload = %q", pkt.Payload)
	}
}

func TestDecodeARP(t *testing.T) {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   testSrcMAC,
		SourceProtAddress: []byte{10, 1, 0, 1},
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 1, 0, 2},
	}
	data := serialize(t,
		&layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, EthernetType: layers.EthernetTypeARP},
		arp)

	pkt, err := Decode(data, Meta{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkt.EthType != EtherTypeARP {
		t.Errorf("ethertype = 0x%04x, want 0x0806", pkt.EthType)
	}
	if pkt.IPv4 != nil || pkt.TCP != nil || pkt.UDP != nil {
		t.Error("ARP frame decoded transport layers")
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02, 0x03}, Meta{}); err == nil {
		t.Error("Decode accepted a frame shorter than an ethernet header")
	}
}

func TestDecodeZeroTimestampDefaults(t *testing.T) {
	data := serialize(t,
		&layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeARP},
		gopacket.Payload(make([]byte, 46)))
	before := time.Now()
	pkt, err := Decode(data, Meta{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkt.Timestamp.Before(before) {
		t.Error("zero meta timestamp was not replaced with the current time")
	}
}

func TestTCPFlagConstants(t *testing.T) {
	if TCPFlagFIN != 0x01 || TCPFlagSYN != 0x02 || TCPFlagRST != 0x04 ||
		TCPFlagPSH != 0x08 || TCPFlagACK != 0x10 || TCPFlagURG != 0x20 {
		t.Error("TCP flag constants do not match header bit order")
	}
}
