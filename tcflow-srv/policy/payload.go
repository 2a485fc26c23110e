package policy

import (
	ahocorasick "github.com/BobuSumisu/aho-corasick"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
)

// PayloadResult is the outcome of a payload inspection. ContinueToInspect
// is only meaningful when Match is true: it asks for more packets of the
// flow before a forwarding decision is installed.
type PayloadResult struct {
	Match             bool
	ContinueToInspect bool
}

// Payload inspects transport payloads against per-type signature sets. Each
// payload type compiles its signatures into one Aho-Corasick trie so a
// packet is scanned in a single pass regardless of signature count.
type Payload struct {
	tries map[string]*ahocorasick.Trie
}

// defaultSignatures are the payload types known out of the box.
var defaultSignatures = map[string][]string{
	"http": {"HTTP/1.0", "HTTP/1.1", "GET ", "POST ", "HEAD "},
	"smtp": {"EHLO ", "HELO ", "MAIL FROM:", "RCPT TO:"},
	"sip":  {"SIP/2.0", "INVITE sip:", "REGISTER sip:"},
}

// NewPayload builds the payload inspector with the default signature sets.
func NewPayload() *Payload {
	p := &Payload{tries: make(map[string]*ahocorasick.Trie)}
	for name, patterns := range defaultSignatures {
		p.Register(name, patterns)
	}
	return p
}

// Register compiles a signature set for a payload type, replacing any
// existing set of the same name.
func (p *Payload) Register(name string, patterns []string) {
	p.tries[name] = ahocorasick.NewTrieBuilder().AddStrings(patterns).Build()
	logger.Debug("payload: compiled %d signatures for type %q", len(patterns), name)
}

// CheckPayload matches a payload_* condition attribute against the packet
// payload. A packet without payload bytes cannot match.
func (p *Payload) CheckPayload(attr, value string, pkt *packet.Packet) PayloadResult {
	if attr != "payload_type" {
		logger.Error("payload: unknown attribute %q", attr)
		return PayloadResult{}
	}
	trie, ok := p.tries[value]
	if !ok {
		logger.Error("payload: no signatures registered for type %q", value)
		return PayloadResult{}
	}
	if len(pkt.Payload) == 0 {
		return PayloadResult{}
	}
	if len(trie.Match(pkt.Payload)) > 0 {
		// Signature found; no further per-packet inspection needed.
		return PayloadResult{Match: true, ContinueToInspect: false}
	}
	return PayloadResult{}
}
