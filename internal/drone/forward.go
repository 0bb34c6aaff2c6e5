package drone

import "github.com/dronefabric/drone/internal/packet"

// forward implements the forwarder of spec §4.3: advance the hop index,
// attempt delivery to next's egress, and report the outcome. On send
// failure (the neighbor departed between validation and send) the hop
// index is restored and the packet falls through to the drop/NACK
// builder with cause ErrorInRouting(next).
//
// The egress receives a clone, not pkt itself: pkt is also handed to
// sendEvent below, and the next drone in line is free to keep mutating
// the header it receives (its own hop-index increments as it forwards
// further) concurrently with this drone's controller reporting the send.
// Handing out the same pointer to both would race.
func (d *Drone) forward(pkt *packet.Packet, next NodeId) {
	pkt.Header.HopIndex++

	if eg, known := d.neighbors[next]; known && eg.send(pkt.Clone()) {
		d.sendEvent(PacketSent{Packet: pkt})
		return
	}

	pkt.Header.HopIndex--
	d.dropAndNack(pkt, nackCause{Type: packet.NackErrorInRouting, Node: next})
}
