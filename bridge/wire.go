package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dronefabric/drone/internal/packet"
)

// MaxPathHops bounds a source-routing header's hop list on the wire, wide
// enough for any simulated topology this fabric exercises.
const MaxPathHops = 64

// MaxFragmentData bounds a MsgFragment's payload on the wire.
const MaxFragmentData = 4096

var (
	ErrTooShort       = errors.New("bridge: packet too short")
	ErrUnknownKind    = errors.New("bridge: unknown packet kind")
	ErrHopsTooLong    = errors.New("bridge: hop list exceeds maximum")
	ErrPayloadTooLong = errors.New("bridge: fragment payload exceeds maximum")
)

// Encode serializes a packet into its wire form. Multi-byte integers are
// little endian throughout.
func Encode(pkt *packet.Packet) ([]byte, error) {
	if len(pkt.Header.Hops) > MaxPathHops {
		return nil, fmt.Errorf("%w: %d hops", ErrHopsTooLong, len(pkt.Header.Hops))
	}

	buf := make([]byte, 0, 32)
	buf = append(buf, byte(pkt.Kind))
	buf = append(buf, byte(len(pkt.Header.Hops)))
	for _, h := range pkt.Header.Hops {
		buf = append(buf, byte(h))
	}
	buf = appendUint32(buf, uint32(pkt.Header.HopIndex))
	buf = appendUint64(buf, pkt.SessionID)

	switch pkt.Kind {
	case packet.KindMsgFragment:
		f := pkt.Fragment
		if len(f.Data) > MaxFragmentData {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(f.Data))
		}
		buf = appendUint64(buf, f.FragmentIndex)
		buf = appendUint64(buf, f.TotalFragments)
		buf = appendUint16(buf, uint16(len(f.Data)))
		buf = append(buf, f.Data...)
	case packet.KindAck:
		buf = appendUint64(buf, pkt.Ack.FragmentIndex)
	case packet.KindNack:
		buf = appendUint64(buf, pkt.Nack.FragmentIndex)
		buf = append(buf, byte(pkt.Nack.Type), byte(pkt.Nack.Node))
	case packet.KindFloodRequest:
		fr := pkt.FloodRequest
		buf = appendUint64(buf, fr.FloodID)
		buf = append(buf, byte(fr.InitiatorID))
		buf = appendPathTrace(buf, fr.PathTrace)
	case packet.KindFloodResponse:
		fr := pkt.FloodResponse
		buf = appendUint64(buf, fr.FloodID)
		buf = appendPathTrace(buf, fr.PathTrace)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, pkt.Kind)
	}

	return buf, nil
}

// Decode parses a packet previously produced by Encode.
func Decode(data []byte) (*packet.Packet, error) {
	if len(data) < 2 {
		return nil, ErrTooShort
	}

	kind := packet.Kind(data[0])
	hopCount := int(data[1])
	i := 2

	if len(data) < i+hopCount {
		return nil, ErrTooShort
	}
	var hops []packet.NodeId
	if hopCount > 0 {
		hops = make([]packet.NodeId, hopCount)
		for n := 0; n < hopCount; n++ {
			hops[n] = packet.NodeId(data[i])
			i++
		}
	}

	if len(data) < i+4 {
		return nil, ErrTooShort
	}
	hopIndex := int(binary.LittleEndian.Uint32(data[i : i+4]))
	i += 4

	if len(data) < i+8 {
		return nil, ErrTooShort
	}
	sessionID := binary.LittleEndian.Uint64(data[i : i+8])
	i += 8

	pkt := &packet.Packet{
		Header:    packet.SourceRoutingHeader{Hops: hops, HopIndex: hopIndex},
		SessionID: sessionID,
		Kind:      kind,
	}

	switch kind {
	case packet.KindMsgFragment:
		if len(data) < i+18 {
			return nil, ErrTooShort
		}
		fragIdx := binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		total := binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		dataLen := int(binary.LittleEndian.Uint16(data[i : i+2]))
		i += 2
		if len(data) < i+dataLen {
			return nil, ErrTooShort
		}
		payload := make([]byte, dataLen)
		copy(payload, data[i:i+dataLen])
		pkt.Fragment = &packet.MsgFragment{FragmentIndex: fragIdx, TotalFragments: total, Data: payload}

	case packet.KindAck:
		if len(data) < i+8 {
			return nil, ErrTooShort
		}
		pkt.Ack = &packet.Ack{FragmentIndex: binary.LittleEndian.Uint64(data[i : i+8])}

	case packet.KindNack:
		if len(data) < i+10 {
			return nil, ErrTooShort
		}
		fragIdx := binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		pkt.Nack = &packet.Nack{
			FragmentIndex: fragIdx,
			Type:          packet.NackType(data[i]),
			Node:          packet.NodeId(data[i+1]),
		}

	case packet.KindFloodRequest:
		if len(data) < i+9 {
			return nil, ErrTooShort
		}
		floodID := binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		initiator := packet.NodeId(data[i])
		i++
		trace, _, err := readPathTrace(data, i)
		if err != nil {
			return nil, err
		}
		pkt.FloodRequest = &packet.FloodRequest{FloodID: floodID, InitiatorID: initiator, PathTrace: trace}

	case packet.KindFloodResponse:
		if len(data) < i+8 {
			return nil, ErrTooShort
		}
		floodID := binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		trace, _, err := readPathTrace(data, i)
		if err != nil {
			return nil, err
		}
		pkt.FloodResponse = &packet.FloodResponse{FloodID: floodID, PathTrace: trace}

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	return pkt, nil
}

func appendPathTrace(buf []byte, trace []packet.PathEntry) []byte {
	buf = append(buf, byte(len(trace)))
	for _, e := range trace {
		buf = append(buf, byte(e.Node), byte(e.Type))
	}
	return buf
}

func readPathTrace(data []byte, i int) ([]packet.PathEntry, int, error) {
	if len(data) < i+1 {
		return nil, i, ErrTooShort
	}
	count := int(data[i])
	i++
	if len(data) < i+2*count {
		return nil, i, ErrTooShort
	}
	trace := make([]packet.PathEntry, count)
	for n := 0; n < count; n++ {
		trace[n] = packet.PathEntry{Node: packet.NodeId(data[i]), Type: packet.NodeType(data[i+1])}
		i += 2
	}
	return trace, i, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
