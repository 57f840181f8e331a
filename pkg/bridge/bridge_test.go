package bridge

import (
	"testing"

	"github.com/pion/rtp"

	"github.com/dhelmrich/UnrealReceiver/pkg/config"
	"github.com/dhelmrich/UnrealReceiver/pkg/endpoint"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
	"github.com/dhelmrich/UnrealReceiver/pkg/rtpheader"
	"github.com/dhelmrich/UnrealReceiver/pkg/socket"
	"github.com/dhelmrich/UnrealReceiver/pkg/worker"
)

func rtpPacketWithRouting(t *testing.T, routing rtpheader.Routing) []byte {
	t.Helper()
	header := &rtp.Header{Version: 2, SequenceNumber: 1, Timestamp: 1000, SSRC: 0x1}
	fixed, err := header.Marshal()
	if err != nil {
		t.Fatalf("header.Marshal: %v", err)
	}
	packet := make([]byte, 0, len(fixed)+rtpheader.BlockLength)
	packet = append(packet, fixed...)
	packet = append(packet, rtpheader.Encode(routing)...)
	return packet
}

func TestSubmitRewritesPlayerIDNotProfileID(t *testing.T) {
	log := logger.NewDefaultLogger(logger.ErrorLevel, "text")

	recvPort, err := socket.GetFreeSocket("127.0.0.1")
	if err != nil {
		t.Fatalf("GetFreeSocket: %v", err)
	}
	recv := socket.New(log, 0)
	if err := recv.Connect("127.0.0.1", recvPort, socket.RoleIncoming); err != nil {
		t.Fatalf("recv.Connect: %v", err)
	}
	defer recv.Disconnect()

	b := &Bridge{cfg: &config.Config{}, log: log}
	b.dataOut = socket.New(log, 0)
	if err := b.dataOut.Connect("127.0.0.1", recvPort, socket.RoleOutgoing); err != nil {
		t.Fatalf("dataOut.Connect: %v", err)
	}
	defer b.dataOut.Disconnect()

	work := worker.New(log)
	t.Cleanup(work.Stop)
	ep := endpoint.New(42, endpoint.RoleResponder, log, work, func(v interface{}) error { return nil }, endpoint.Callbacks{}, nil)

	original := rtpheader.Routing{PlayerID: 1, StreamerID: 7, Meta: 0xCAFE}
	packet := rtpPacketWithRouting(t, original)

	if err := b.Submit(ep, "test", packet); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if n, err := recv.Receive(true); err != nil || n == 0 {
		t.Fatalf("Receive: n=%d err=%v", n, err)
	}
	got := recv.RawBytes()

	gotRouting, err := rtpheader.ReadRouting(got)
	if err != nil {
		t.Fatalf("ReadRouting on rewritten packet: %v", err)
	}
	if gotRouting.PlayerID != uint16(ep.ID()) {
		t.Fatalf("player_id = %d, want %d", gotRouting.PlayerID, ep.ID())
	}

	profile, err := rtpheader.ProfileID(got[len(got)-rtpheader.BlockLength:])
	if err != nil {
		t.Fatalf("ProfileID: %v", err)
	}
	if profile != rtpheader.ExtensionProfileID {
		t.Fatalf("profile id was clobbered: got %#x, want %#x", profile, rtpheader.ExtensionProfileID)
	}
	if gotRouting.StreamerID != original.StreamerID || gotRouting.Meta != original.Meta {
		t.Fatalf("non-player_id routing fields changed: got %+v, want streamer=%d meta=%#x",
			gotRouting, original.StreamerID, original.Meta)
	}
}

func TestNewEndpointConsumesWebRTCConfig(t *testing.T) {
	log := logger.NewDefaultLogger(logger.ErrorLevel, "text")
	cfg := config.DefaultConfig()
	cfg.WebRTC.MaxMessageSize = 16384

	b := &Bridge{cfg: cfg, log: log, work: worker.New(log)}
	t.Cleanup(b.work.Stop)

	ep := b.NewEndpoint(1, endpoint.RoleResponder, func(v interface{}) error { return nil }, endpoint.Callbacks{})
	if ep == nil {
		t.Fatal("NewEndpoint returned nil")
	}
}
