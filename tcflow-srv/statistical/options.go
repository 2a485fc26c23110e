package statistical

// TCP option kinds relevant to the window scale walk (RFC 793, RFC 1323).
const (
	tcpOptEndOfOptions = 0
	tcpOptNOP          = 1
	tcpOptWindowScale  = 3
)

// parseWindowScale walks a raw TCP options byte sequence looking for the
// window scale option (kind=3, length=3) and returns its shift count, or 0
// when absent. End-of-options and NOP are single bytes; every other kind
// carries a 1-byte length covering the whole TLV. Truncated sequences
// terminate the walk.
func parseWindowScale(options []byte) uint8 {
	pos := 0
	for pos < len(options) {
		switch options[pos] {
		case tcpOptEndOfOptions, tcpOptNOP:
			pos++
		case tcpOptWindowScale:
			if pos+2 >= len(options) {
				return 0
			}
			return options[pos+2]
		default:
			if pos+1 >= len(options) {
				return 0
			}
			length := int(options[pos+1])
			if length < 2 {
				// Malformed length cannot advance the walk.
				return 0
			}
			pos += length
		}
	}
	return 0
}
