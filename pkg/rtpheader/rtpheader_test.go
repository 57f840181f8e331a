package rtpheader

import (
	"testing"

	"github.com/pion/rtp"
)

func packetWithRouting(t *testing.T, r Routing, csrcCount int) []byte {
	t.Helper()

	header := &rtp.Header{
		Version:        2,
		PayloadOffset:  0,
		SequenceNumber: 1,
		Timestamp:      1000,
		SSRC:           0xAABBCCDD,
	}
	for i := 0; i < csrcCount; i++ {
		header.CSRC = append(header.CSRC, uint32(i+1))
	}

	fixed, err := header.Marshal()
	if err != nil {
		t.Fatalf("header.Marshal: %v", err)
	}

	block := Encode(r)
	payload := []byte("payload-bytes")

	packet := make([]byte, 0, len(fixed)+len(block)+len(payload))
	packet = append(packet, fixed...)
	packet = append(packet, block...)
	packet = append(packet, payload...)
	return packet
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Routing{PlayerID: 7, StreamerID: 3, Meta: 0xDEADBEEF}
	block := Encode(want)

	if len(block) != BlockLength {
		t.Fatalf("Encode length = %d, want %d", len(block), BlockLength)
	}

	got, err := Decode(block)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("Decode round-trip = %+v, want %+v", got, want)
	}

	profile, err := ProfileID(block)
	if err != nil {
		t.Fatalf("ProfileID: %v", err)
	}
	if profile != ExtensionProfileID {
		t.Fatalf("ProfileID = %#x, want %#x", profile, ExtensionProfileID)
	}
}

func TestReadRoutingNoCSRC(t *testing.T) {
	want := Routing{PlayerID: 42, StreamerID: 1, Meta: 99}
	packet := packetWithRouting(t, want, 0)

	got, err := ReadRouting(packet)
	if err != nil {
		t.Fatalf("ReadRouting: %v", err)
	}
	if got != want {
		t.Fatalf("ReadRouting = %+v, want %+v", got, want)
	}
}

func TestReadRoutingWithCSRC(t *testing.T) {
	want := Routing{PlayerID: 5, StreamerID: 2, Meta: 123456}
	packet := packetWithRouting(t, want, 2)

	got, err := ReadRouting(packet)
	if err != nil {
		t.Fatalf("ReadRouting with CSRC: %v", err)
	}
	if got != want {
		t.Fatalf("ReadRouting with CSRC = %+v, want %+v", got, want)
	}
}

func TestRewritePlayerID(t *testing.T) {
	packet := packetWithRouting(t, Routing{PlayerID: 1, StreamerID: 1, Meta: 1}, 0)

	if err := RewritePlayerID(packet, 999); err != nil {
		t.Fatalf("RewritePlayerID: %v", err)
	}

	got, err := ReadRouting(packet)
	if err != nil {
		t.Fatalf("ReadRouting after rewrite: %v", err)
	}
	if got.PlayerID != 999 {
		t.Fatalf("PlayerID after rewrite = %d, want 999", got.PlayerID)
	}
}

func TestOffsetRejectsShortPacket(t *testing.T) {
	if _, err := Offset([]byte{1, 2, 3}); err == nil {
		t.Fatal("Offset on a too-short packet should fail")
	}
}

func TestDecodeRejectsShortBlock(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("Decode on a too-short block should fail")
	}
}
