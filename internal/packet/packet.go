// Package packet defines the drone fabric's data model: node identifiers,
// source-routed headers, and the tagged packet variants a drone exchanges
// with its neighbors and controller.
//
// This package owns no transport or wire encoding — serialization of these
// types onto an actual link is the concern of the bridge packages.
package packet

// NodeId identifies a node (drone, client, or server) within the fabric.
type NodeId uint8

// NodeType classifies a node recorded in a flood's path trace.
type NodeType uint8

const (
	NodeTypeClient NodeType = iota
	NodeTypeServer
	NodeTypeDrone
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeClient:
		return "client"
	case NodeTypeServer:
		return "server"
	case NodeTypeDrone:
		return "drone"
	default:
		return "unknown"
	}
}

// SourceRoutingHeader is the ordered hop list plus cursor carried by every
// source-routed packet. Hops[HopIndex] must name the node currently
// processing the packet.
type SourceRoutingHeader struct {
	Hops     []NodeId
	HopIndex int
}

// Clone returns a deep copy of the header.
func (h SourceRoutingHeader) Clone() SourceRoutingHeader {
	if len(h.Hops) == 0 {
		return SourceRoutingHeader{HopIndex: h.HopIndex}
	}
	hops := make([]NodeId, len(h.Hops))
	copy(hops, h.Hops)
	return SourceRoutingHeader{Hops: hops, HopIndex: h.HopIndex}
}

// Kind tags which variant of the pack_type union a Packet carries.
type Kind uint8

const (
	KindMsgFragment Kind = iota
	KindAck
	KindNack
	KindFloodRequest
	KindFloodResponse
)

func (k Kind) String() string {
	switch k {
	case KindMsgFragment:
		return "msg_fragment"
	case KindAck:
		return "ack"
	case KindNack:
		return "nack"
	case KindFloodRequest:
		return "flood_request"
	case KindFloodResponse:
		return "flood_response"
	default:
		return "unknown"
	}
}

// Droppable reports whether packets of this kind are subject to the
// probabilistic drop model (spec §4.4). Only MsgFragment is droppable;
// every other kind must either be forwarded or escalated to the
// controller, never dropped silently.
func (k Kind) Droppable() bool {
	return k == KindMsgFragment
}

// NackType enumerates the reasons a packet may be NACKed or escalated.
type NackType uint8

const (
	NackDropped NackType = iota
	NackErrorInRouting
	NackDestinationIsDrone
	NackUnexpectedRecipient
)

func (t NackType) String() string {
	switch t {
	case NackDropped:
		return "dropped"
	case NackErrorInRouting:
		return "error_in_routing"
	case NackDestinationIsDrone:
		return "destination_is_drone"
	case NackUnexpectedRecipient:
		return "unexpected_recipient"
	default:
		return "unknown"
	}
}

// MsgFragment is a droppable payload fragment.
type MsgFragment struct {
	FragmentIndex  uint64
	TotalFragments uint64
	Data           []byte
}

func (f *MsgFragment) clone() *MsgFragment {
	if f == nil {
		return nil
	}
	c := &MsgFragment{FragmentIndex: f.FragmentIndex, TotalFragments: f.TotalFragments}
	if len(f.Data) > 0 {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}

// Ack acknowledges a single fragment by index. Non-droppable.
type Ack struct {
	FragmentIndex uint64
}

// Nack is a negative acknowledgment carrying the reason a fragment could
// not be delivered. Node is meaningful only for ErrorInRouting (the
// unreachable next hop) and UnexpectedRecipient (the drone that rejected
// the packet); it is zero and unused for the other two variants.
type Nack struct {
	FragmentIndex uint64
	Type          NackType
	Node          NodeId
}

// PathEntry records one hop of a flood's path trace: the node that
// processed the flood and its role in the fabric.
type PathEntry struct {
	Node NodeId
	Type NodeType
}

// FloodRequest is a broadcast discovery probe identified by
// (InitiatorID, FloodID). Each drone forwards a given pair at most once.
type FloodRequest struct {
	FloodID     uint64
	InitiatorID NodeId
	PathTrace   []PathEntry
}

func (f *FloodRequest) clone() *FloodRequest {
	if f == nil {
		return nil
	}
	c := &FloodRequest{FloodID: f.FloodID, InitiatorID: f.InitiatorID}
	if len(f.PathTrace) > 0 {
		c.PathTrace = make([]PathEntry, len(f.PathTrace))
		copy(c.PathTrace, f.PathTrace)
	}
	return c
}

// FloodResponse carries a flood's accumulated path trace back toward its
// initiator. Non-droppable.
type FloodResponse struct {
	FloodID   uint64
	PathTrace []PathEntry
}

func (f *FloodResponse) clone() *FloodResponse {
	if f == nil {
		return nil
	}
	c := &FloodResponse{FloodID: f.FloodID}
	if len(f.PathTrace) > 0 {
		c.PathTrace = make([]PathEntry, len(f.PathTrace))
		copy(c.PathTrace, f.PathTrace)
	}
	return c
}

// Packet is the envelope exchanged between drones: a source-routed header,
// a session identifier, and exactly one populated variant matching Kind.
type Packet struct {
	Header    SourceRoutingHeader
	SessionID uint64
	Kind      Kind

	Fragment      *MsgFragment
	Ack           *Ack
	Nack          *Nack
	FloodRequest  *FloodRequest
	FloodResponse *FloodResponse
}

// FragmentIndex returns the fragment index carried by this packet's
// variant, for the kinds that carry one (MsgFragment, Ack, Nack). It
// panics if called on a variant with no fragment index — callers must
// check Kind first.
func (p *Packet) FragmentIndex() uint64 {
	switch p.Kind {
	case KindMsgFragment:
		return p.Fragment.FragmentIndex
	case KindAck:
		return p.Ack.FragmentIndex
	case KindNack:
		return p.Nack.FragmentIndex
	default:
		panic("packet: FragmentIndex called on a variant without one")
	}
}

// Clone returns a deep copy of the packet, safe to hand to a second
// neighbor or mutate independently of the original (e.g. before
// broadcasting a flood to every neighbor but one).
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	c := &Packet{
		Header:        p.Header.Clone(),
		SessionID:     p.SessionID,
		Kind:          p.Kind,
		Fragment:      p.Fragment.clone(),
		FloodRequest:  p.FloodRequest.clone(),
		FloodResponse: p.FloodResponse.clone(),
	}
	if p.Ack != nil {
		ack := *p.Ack
		c.Ack = &ack
	}
	if p.Nack != nil {
		nack := *p.Nack
		c.Nack = &nack
	}
	return c
}
