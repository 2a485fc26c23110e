package policy

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
)

// Static classification: pure single-field matchers and the validators the
// policy loader uses on condition values.

// IsValidTransportPort reports whether the value is a valid transport port
// number (1-65535).
func IsValidTransportPort(value string) bool {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	return err == nil && port > 0 && port < 65536
}

// IsValidMACAddress reports whether the value parses as a 48-bit MAC
// address.
func IsValidMACAddress(value string) bool {
	hw, err := net.ParseMAC(value)
	return err == nil && len(hw) == 6
}

// IsValidEtherType reports whether the value is a two-byte ethertype,
// written as hex (0x0800) or decimal.
func IsValidEtherType(value string) bool {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 0, 32)
	return err == nil && n <= 0xFFFF
}

// IsValidIPSpace reports whether the value is an IP address, a CIDR prefix,
// or a dashed address range, IPv4 or IPv6.
func IsValidIPSpace(value string) bool {
	value = strings.TrimSpace(value)
	if _, err := netip.ParseAddr(value); err == nil {
		return true
	}
	if _, err := netip.ParsePrefix(value); err == nil {
		return true
	}
	if lo, hi, ok := strings.Cut(value, "-"); ok {
		first, err1 := netip.ParseAddr(strings.TrimSpace(lo))
		last, err2 := netip.ParseAddr(strings.TrimSpace(hi))
		return err1 == nil && err2 == nil && first.BitLen() == last.BitLen() && first.Compare(last) <= 0
	}
	return false
}

// ipSpaceContains reports whether addr falls within the configured address
// space (single address, CIDR prefix, or dashed range). Values were
// validated at policy load.
func ipSpaceContains(value string, addr netip.Addr) bool {
	value = strings.TrimSpace(value)
	if single, err := netip.ParseAddr(value); err == nil {
		return single == addr
	}
	if prefix, err := netip.ParsePrefix(value); err == nil {
		return prefix.Contains(addr)
	}
	if lo, hi, ok := strings.Cut(value, "-"); ok {
		first, err1 := netip.ParseAddr(strings.TrimSpace(lo))
		last, err2 := netip.ParseAddr(strings.TrimSpace(hi))
		if err1 == nil && err2 == nil {
			return first.Compare(addr) <= 0 && addr.Compare(last) <= 0
		}
	}
	return false
}

// macEqual compares two MAC address spellings canonically.
func macEqual(a, b string) bool {
	hwA, errA := net.ParseMAC(a)
	hwB, errB := net.ParseMAC(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return hwA.String() == hwB.String()
}

// CheckStatic matches a single static condition attribute against the
// packet. Attributes were validated at policy load; an unknown attribute
// here is an internal error and never matches.
func CheckStatic(attr, value string, pkt *packet.Packet) bool {
	switch attr {
	case "eth_src":
		return macEqual(value, pkt.EthSrc)
	case "eth_dst":
		return macEqual(value, pkt.EthDst)
	case "eth_type":
		n, err := strconv.ParseUint(strings.TrimSpace(value), 0, 32)
		return err == nil && uint16(n) == pkt.EthType
	case "ip_src":
		return pkt.IPv4 != nil && ipSpaceContains(value, pkt.IPv4.Src)
	case "ip_dst":
		return pkt.IPv4 != nil && ipSpaceContains(value, pkt.IPv4.Dst)
	case "tcp_src":
		port, err := strconv.Atoi(strings.TrimSpace(value))
		return err == nil && pkt.TCP != nil && pkt.TCP.SrcPort == uint16(port)
	case "tcp_dst":
		port, err := strconv.Atoi(strings.TrimSpace(value))
		return err == nil && pkt.TCP != nil && pkt.TCP.DstPort == uint16(port)
	default:
		logger.Error("policy: static check on unknown attribute %q", attr)
		return false
	}
}
