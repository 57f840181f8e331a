package dispatcher

import (
	"testing"

	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
	"github.com/dhelmrich/UnrealReceiver/pkg/rtpheader"
	"github.com/dhelmrich/UnrealReceiver/pkg/socket"
)

type recordingStream struct {
	received [][]byte
	err      error
}

func (r *recordingStream) SendBytes(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.received = append(r.received, cp)
	return r.err
}

func testLogger() logger.Logger {
	return logger.NewDefaultLogger(logger.ErrorLevel, "text")
}

func buildPacket(t *testing.T, playerID uint16) []byte {
	t.Helper()
	fixed := make([]byte, 12)
	fixed[0] = 0x80 // version 2, no padding, no extension, no CSRC
	block := rtpheader.Encode(rtpheader.Routing{PlayerID: playerID, StreamerID: 1, Meta: 0})
	return append(fixed, block...)
}

func TestRouteDeliversToRegisteredStream(t *testing.T) {
	d := New(nil, ModeDirect, testLogger())
	stream := &recordingStream{}
	idx := d.AddStream(stream)

	packet := buildPacket(t, idx)
	d.route(packet)

	if len(stream.received) != 1 {
		t.Fatalf("stream received %d packets, want 1", len(stream.received))
	}
	if string(stream.received[0]) != string(packet) {
		t.Fatal("delivered packet was not byte-identical to the original")
	}
}

func TestRouteDropsUnknownPlayerID(t *testing.T) {
	d := New(nil, ModeDirect, testLogger())
	stream := &recordingStream{}
	d.AddStream(stream)

	packet := buildPacket(t, 999)
	d.route(packet)

	if len(stream.received) != 0 {
		t.Fatalf("stream received %d packets, want 0 (unregistered player_id)", len(stream.received))
	}
}

func TestRouteDropsShortPacket(t *testing.T) {
	d := New(nil, ModeDirect, testLogger())
	stream := &recordingStream{}
	idx := d.AddStream(stream)
	_ = idx

	d.route([]byte{1, 2, 3})

	if len(stream.received) != 0 {
		t.Fatalf("stream received %d packets, want 0 (short packet)", len(stream.received))
	}
}

func TestRouteLockedModeDropsEverything(t *testing.T) {
	d := New(nil, ModeLocked, testLogger())
	stream := &recordingStream{}
	idx := d.AddStream(stream)

	packet := buildPacket(t, idx)
	d.route(packet)

	if len(stream.received) != 0 {
		t.Fatalf("locked mode delivered %d packets, want 0", len(stream.received))
	}
}

func TestRemoveStreamStopsDelivery(t *testing.T) {
	d := New(nil, ModeDirect, testLogger())
	stream := &recordingStream{}
	idx := d.AddStream(stream)
	d.RemoveStream(idx)

	packet := buildPacket(t, idx)
	d.route(packet)

	if len(stream.received) != 0 {
		t.Fatalf("removed stream still received %d packets", len(stream.received))
	}
}

func TestAddStreamAtRegistersExplicitIndex(t *testing.T) {
	d := New(nil, ModeDirect, testLogger())
	stream := &recordingStream{}
	d.AddStreamAt(7, stream)

	packet := buildPacket(t, 7)
	d.route(packet)

	if len(stream.received) != 1 {
		t.Fatalf("stream received %d packets, want 1", len(stream.received))
	}
}

func TestAddStreamIndicesAreMonotonic(t *testing.T) {
	d := New(nil, ModeDirect, testLogger())
	a := d.AddStream(&recordingStream{})
	b := d.AddStream(&recordingStream{})

	if b != a+1 {
		t.Fatalf("stream indices not sequential: a=%d b=%d", a, b)
	}
}
