package drone

import "github.com/dronefabric/drone/internal/packet"

// Egress is a neighbor's inbound packet channel, as seen from this drone:
// a send-only handle this drone writes to when forwarding.
type Egress chan<- *packet.Packet

// send attempts a non-blocking-safe delivery to the neighbor. It reports
// false if the neighbor's channel has been closed out from under us —
// the unambiguous signal, per spec design notes, that the peer has
// departed between routing validation and send. A channel send only
// panics when the receiving side has closed it, so recovering here turns
// that panic into the ordinary "egress closed" outcome instead of
// crashing the drone's event loop.
func (e Egress) send(pkt *packet.Packet) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	e <- pkt
	return true
}
