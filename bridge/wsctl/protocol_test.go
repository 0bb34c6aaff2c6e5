package wsctl

import (
	"testing"

	"github.com/dronefabric/drone/internal/drone"
	"github.com/dronefabric/drone/internal/packet"
)

func TestDecodeCommandCrash(t *testing.T) {
	cmd, err := decodeCommand([]byte(`{"type":"crash"}`))
	if err != nil {
		t.Fatalf("decodeCommand: %v", err)
	}
	if _, ok := cmd.(drone.Crash); !ok {
		t.Errorf("cmd = %T, want drone.Crash", cmd)
	}
}

func TestDecodeCommandSetPacketDropRate(t *testing.T) {
	cmd, err := decodeCommand([]byte(`{"type":"set_packet_drop_rate","rate":0.5}`))
	if err != nil {
		t.Fatalf("decodeCommand: %v", err)
	}
	sp, ok := cmd.(drone.SetPacketDropRate)
	if !ok {
		t.Fatalf("cmd = %T, want drone.SetPacketDropRate", cmd)
	}
	if sp.Rate != 0.5 {
		t.Errorf("Rate = %v, want 0.5", sp.Rate)
	}
}

func TestDecodeCommandUnknownType(t *testing.T) {
	if _, err := decodeCommand([]byte(`{"type":"bogus"}`)); err == nil {
		t.Error("expected error for unknown command type")
	}
}

func TestEncodeEventPacketSent(t *testing.T) {
	ev := drone.PacketSent{Packet: &packet.Packet{Kind: packet.KindAck, Ack: &packet.Ack{FragmentIndex: 1}}}
	data, err := encodeEvent(ev)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty encoding")
	}
}
