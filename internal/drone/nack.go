package drone

import "github.com/dronefabric/drone/internal/packet"

// dropAndNack implements the drop & NACK builder of spec §4.4. For a
// MsgFragment it constructs a reverse-path NACK and forwards it (or
// escalates it to the controller if the reverse path is broken). For any
// other kind it escalates the original packet directly: Acks, Nacks, and
// FloodResponses are salvaged via the controller, never acknowledged.
func (d *Drone) dropAndNack(pkt *packet.Packet, cause nackCause) {
	if pkt.Kind != packet.KindMsgFragment {
		d.sendEvent(ControllerShortcut{Packet: pkt})
		return
	}

	if len(pkt.Header.Hops) < 2 {
		// No valid reverse path exists; silently discard.
		return
	}

	prefixLen := pkt.Header.HopIndex + 1
	if prefixLen > len(pkt.Header.Hops) {
		prefixLen = len(pkt.Header.Hops)
	}
	reversed := make([]NodeId, prefixLen)
	for i := 0; i < prefixLen; i++ {
		reversed[i] = pkt.Header.Hops[prefixLen-1-i]
	}
	// Repairs UnexpectedRecipient cases where this drone differs from
	// the original hops[hop_index].
	reversed[0] = d.id

	if cause.Type == packet.NackDropped {
		d.sendEvent(PacketDropped{Packet: pkt.Clone()})
	}

	nackPkt := &packet.Packet{
		Header:    packet.SourceRoutingHeader{HopIndex: 0, Hops: reversed},
		SessionID: pkt.SessionID,
		Kind:      packet.KindNack,
		Nack: &packet.Nack{
			FragmentIndex: pkt.Fragment.FragmentIndex,
			Type:          cause.Type,
			Node:          cause.Node,
		},
	}

	if len(reversed) < 2 {
		d.sendEvent(ControllerShortcut{Packet: nackPkt})
		return
	}
	if _, known := d.neighbors[reversed[1]]; known {
		d.forward(nackPkt, reversed[1])
		return
	}
	d.sendEvent(ControllerShortcut{Packet: nackPkt})
}
