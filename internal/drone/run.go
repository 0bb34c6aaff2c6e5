package drone

import "github.com/dronefabric/drone/internal/packet"

// Run executes the drone's event loop until termination. It transitions
// the drone from Created to Running on entry and returns only when the
// controller channel closes (fatal) or the packet channel closes while
// Crashed (normal termination) — see spec §4.1, §7.
//
// The select below is strictly biased toward controller commands: the
// first select peeks the command channel alone so that a command already
// queued is always applied before a pending packet is taken, per spec
// §4.1/§5's bias requirement. Go has no native select priority, so the
// bias is simulated by polling the command channel first on every
// iteration, matching the design note's guidance for implementations
// lacking one.
func (d *Drone) Run() {
	d.state = StateRunning
	d.log.Info("event loop started")

	packets := d.packetRx

	for {
		select {
		case cmd, ok := <-d.commandRx:
			if !ok {
				d.log.Warn("controller channel closed; exiting")
				return
			}
			d.handleCommand(cmd)
			continue
		default:
		}

		select {
		case cmd, ok := <-d.commandRx:
			if !ok {
				d.log.Warn("controller channel closed; exiting")
				return
			}
			d.handleCommand(cmd)

		case pkt, ok := <-packets:
			if !ok {
				if d.state == StateCrashed {
					d.log.Info("packet channel closed while crashed; exiting")
					return
				}
				// Packet channel closed but the drone hasn't crashed:
				// keep servicing commands only, per spec §4.1. Nilling
				// the case disables it permanently in future selects —
				// a nil channel never becomes ready.
				packets = nil
				continue
			}
			d.handlePacket(pkt)
		}
	}
}

func (d *Drone) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case AddSender:
		d.neighbors[c.NodeID] = c.Egress
	case RemoveSender:
		delete(d.neighbors, c.NodeID)
	case SetPacketDropRate:
		d.pdr = clampRate(c.Rate)
	case Crash:
		d.log.Info("crash command received; draining")
		d.state = StateCrashed
	}
}

func (d *Drone) handlePacket(pkt *packet.Packet) {
	if d.state == StateCrashed {
		d.handleCrashedPacket(pkt)
		return
	}

	switch pkt.Kind {
	case packet.KindMsgFragment:
		d.handleFragment(pkt)
	case packet.KindFloodRequest:
		d.handleFloodRequest(pkt)
	default:
		// Ack, Nack, FloodResponse: never dropped by probability, never
		// NACKed — either forwarded or shortcut to the controller.
		next, cause, ok := d.validateRoute(pkt.Header)
		if !ok {
			d.dropAndNack(pkt, cause)
			return
		}
		d.forward(pkt, next)
	}
}

// handleFragment processes an inbound MsgFragment: validate its route,
// then apply the probabilistic drop model on success (spec §4.2, §4.4).
func (d *Drone) handleFragment(pkt *packet.Packet) {
	next, cause, ok := d.validateRoute(pkt.Header)
	if !ok {
		d.dropAndNack(pkt, cause)
		return
	}

	if d.drawDrop() <= float64(d.pdr) {
		d.dropAndNack(pkt, nackCause{Type: packet.NackDropped})
		return
	}
	d.forward(pkt, next)
}

// handleCrashedPacket applies the crashed-state policy of spec §4.6: a
// MsgFragment is always NACKed (the drone can no longer forward), every
// other kind — including FloodRequest — is shortcut straight to the
// controller without further processing.
func (d *Drone) handleCrashedPacket(pkt *packet.Packet) {
	if pkt.Kind != packet.KindMsgFragment {
		d.sendEvent(ControllerShortcut{Packet: pkt})
		return
	}

	h := pkt.Header
	addressedToSelf := h.HopIndex >= 0 && h.HopIndex < len(h.Hops) && h.Hops[h.HopIndex] == d.id

	var cause nackCause
	if addressedToSelf {
		// Correctly addressed, but the drone cannot route any further:
		// the terminal hop is treated as the routing failure.
		cause = nackCause{Type: packet.NackErrorInRouting, Node: d.id}
	} else {
		cause = nackCause{Type: packet.NackUnexpectedRecipient, Node: d.id}
	}
	d.dropAndNack(pkt, cause)
}
