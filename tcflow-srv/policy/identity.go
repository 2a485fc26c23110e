package policy

import (
	"regexp"
	"sync"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
)

// Identity harvests system identity metadata from LLDP and IPv4 traffic
// and answers identity_* condition attributes against it. The tables are
// keyed by MAC address: LLDP advertisements bind a MAC to a system name,
// IPv4 traffic binds a MAC to its current address.
type Identity struct {
	mu         sync.RWMutex
	sysNameMAC map[string]string // MAC -> advertised system name
	ipByMAC    map[string]string // MAC -> last seen IPv4 address

	regexCache map[string]*regexp.Regexp
}

// NewIdentity creates an empty identity store.
func NewIdentity() *Identity {
	return &Identity{
		sysNameMAC: make(map[string]string),
		ipByMAC:    make(map[string]string),
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// LLDPIn ingests an LLDP advertisement seen on a switch port, binding the
// source MAC to the advertised system name.
func (id *Identity) LLDPIn(pkt *packet.Packet) {
	if pkt.LLDPSysName == "" {
		return
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	if prev, ok := id.sysNameMAC[pkt.EthSrc]; !ok || prev != pkt.LLDPSysName {
		logger.Debug("identity: %s advertises system name %q (dpid=%d port=%d)",
			pkt.EthSrc, pkt.LLDPSysName, pkt.DPID, pkt.InPort)
	}
	id.sysNameMAC[pkt.EthSrc] = pkt.LLDPSysName
}

// IP4In ingests an IPv4 packet, keeping the MAC to address binding fresh so
// identity lookups can be traced back to hosts.
func (id *Identity) IP4In(pkt *packet.Packet) {
	if pkt.IPv4 == nil {
		return
	}
	id.mu.Lock()
	id.ipByMAC[pkt.EthSrc] = pkt.IPv4.Src.String()
	id.mu.Unlock()
}

// SystemNameFor returns the advertised system name for a MAC, if known.
func (id *Identity) SystemNameFor(mac string) (string, bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	name, ok := id.sysNameMAC[mac]
	return name, ok
}

// CheckIdentity matches an identity_* condition attribute against the
// packet: true when either endpoint MAC belongs to a system whose
// advertised name satisfies the attribute.
func (id *Identity) CheckIdentity(attr, value string, pkt *packet.Packet) bool {
	id.mu.RLock()
	srcName, srcKnown := id.sysNameMAC[pkt.EthSrc]
	dstName, dstKnown := id.sysNameMAC[pkt.EthDst]
	id.mu.RUnlock()

	switch attr {
	case "identity_lldp_systemname":
		return (srcKnown && srcName == value) || (dstKnown && dstName == value)
	case "identity_lldp_systemname_re":
		re, err := id.compiledRegex(value)
		if err != nil {
			logger.Error("identity: bad regex %q: %v", value, err)
			return false
		}
		return (srcKnown && re.MatchString(srcName)) || (dstKnown && re.MatchString(dstName))
	default:
		logger.Error("identity: unknown attribute %q", attr)
		return false
	}
}

// compiledRegex returns a cached compiled pattern.
func (id *Identity) compiledRegex(pattern string) (*regexp.Regexp, error) {
	id.mu.RLock()
	re, ok := id.regexCache[pattern]
	id.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	id.mu.Lock()
	id.regexCache[pattern] = re
	id.mu.Unlock()
	return re, nil
}
