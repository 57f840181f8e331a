package protocol

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestEncodeEnvelopeHelloJSON(t *testing.T) {
	// Literal end-to-end vector: tag=0x28, body={"a":1} (7 bytes), frame =
	// 28 07 00 7B 22 61 22 3A 31 7D 00.
	frame := EncodeEnvelope(TagApplication, []byte(`{"a":1}`))
	want := []byte{0x28, 0x07, 0x00, 0x7B, 0x22, 0x61, 0x22, 0x3A, 0x31, 0x7D, 0x00}

	if !bytes.Equal(frame, want) {
		t.Fatalf("EncodeEnvelope = % X, want % X", frame, want)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	body := []byte(`{"origin":"dataconnector","data":"hello"}`)
	frame := EncodeEnvelope(TagApplication, body)

	if len(frame) != EnvelopeOverhead+len(body) {
		t.Fatalf("frame length = %d, want %d", len(frame), EnvelopeOverhead+len(body))
	}
	if frame[len(frame)-1] != 0 {
		t.Fatalf("frame missing trailing null terminator")
	}

	tag, decoded, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if tag != TagApplication {
		t.Fatalf("decoded tag = %d, want %d", tag, TagApplication)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatalf("decoded body = %q, want %q", decoded, body)
	}
}

func TestSendStringEnvelope(t *testing.T) {
	var sent []byte
	ch := NewChannel(func(data []byte) error {
		sent = data
		return nil
	}, 16384)

	if err := ch.SendString("hello"); err != nil {
		t.Fatalf("SendString: %v", err)
	}

	tag, body, err := DecodeEnvelope(sent)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if tag != TagApplication {
		t.Fatalf("tag = %d, want %d", tag, TagApplication)
	}

	var decoded struct {
		Origin string `json:"origin"`
		Data   string `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if decoded.Origin != "dataconnector" || decoded.Data != "hello" {
		t.Fatalf("decoded envelope = %+v, want origin=dataconnector data=hello", decoded)
	}
}

func TestSendBytesRejectsOverCapacity(t *testing.T) {
	ch := NewChannel(func(data []byte) error { return nil }, 16)
	err := ch.SendBytes(make([]byte, 17))
	if err == nil {
		t.Fatal("SendBytes over max_message_size should be rejected, not fragmented")
	}
}

func TestSendBufferChunking(t *testing.T) {
	var mu sync.Mutex
	var frames [][]byte

	ch := NewChannel(func(data []byte) error {
		mu.Lock()
		cp := make([]byte, len(data))
		copy(cp, data)
		frames = append(frames, cp)
		mu.Unlock()
		return nil
	}, 100)

	buf := make([]byte, 250)
	for i := range buf {
		buf[i] = byte(i)
	}

	opts := TransferOptions{DontWaitForAnswer: true}
	if err := ch.SendBuffer(buf, "x", FormatRaw, opts); err != nil {
		t.Fatalf("SendBuffer: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	// chunkSize = 100 - 4 = 96; ceil(250/96) = 3 chunks; plus start+stop.
	wantFrames := 2 + 3
	if len(frames) != wantFrames {
		t.Fatalf("sent %d frames, want %d", len(frames), wantFrames)
	}

	var reassembled []byte
	for _, f := range frames[1 : len(frames)-1] {
		_, body, err := DecodeEnvelope(f)
		if err != nil {
			t.Fatalf("DecodeEnvelope(chunk): %v", err)
		}
		reassembled = append(reassembled, body...)
	}
	if !bytes.Equal(reassembled, buf) {
		t.Fatal("reassembled chunk payloads do not match original buffer")
	}
}

func TestSendBufferACKFlow(t *testing.T) {
	var ch *Channel
	var mu sync.Mutex
	var sent [][]byte

	ch = NewChannel(func(data []byte) error {
		mu.Lock()
		sent = append(sent, data)
		mu.Unlock()
		go ch.HandleControlMessage(`{"type":"buffer"}`)
		return nil
	}, 100)

	opts := TransferOptions{Timeout: time.Second, FailIfNotComplete: true}
	if err := ch.SendBuffer([]byte("small payload"), "y", FormatRaw, opts); err != nil {
		t.Fatalf("SendBuffer with ACKs: %v", err)
	}
}

func TestSendBufferTimesOutWhenFailIfNotComplete(t *testing.T) {
	ch := NewChannel(func(data []byte) error { return nil }, 100)

	opts := TransferOptions{Timeout: 20 * time.Millisecond, FailIfNotComplete: true}
	err := ch.SendBuffer([]byte("no one acks this"), "z", FormatRaw, opts)
	if err == nil {
		t.Fatal("expected timeout error when no ACK arrives and FailIfNotComplete is set")
	}
}

func TestDecodeInboundTextPassesThrough(t *testing.T) {
	msg := DecodeInbound(true, []byte(`{"hello":"world"}`))
	if msg.Kind != InboundText {
		t.Fatalf("Kind = %v, want InboundText", msg.Kind)
	}
	if msg.Text != `{"hello":"world"}` {
		t.Fatalf("Text = %q", msg.Text)
	}
}

func TestDecodeInboundShortBinaryGoesToBinaryCallback(t *testing.T) {
	msg := DecodeInbound(false, []byte{1, 2, 3})
	if msg.Kind != InboundBinary {
		t.Fatalf("Kind = %v, want InboundBinary", msg.Kind)
	}
}

func TestDecodeInboundIgnoresNonJSONTag(t *testing.T) {
	data := append([]byte{TagCommand}, []byte(`{"x":1}extra`)...)
	msg := DecodeInbound(false, data)
	if msg.Kind != InboundBinary {
		t.Fatalf("Kind = %v, want InboundBinary for a non-JSON tag", msg.Kind)
	}
	if msg.Tag != TagCommand {
		t.Fatalf("Tag = %d, want %d", msg.Tag, TagCommand)
	}
}

func TestDecodeInboundBraceMatchesJSONTag(t *testing.T) {
	body := `prefix-noise{"settings":{"fps":60}}trailing`
	data := append([]byte{TagInitialSettings}, []byte(body)...)

	msg := DecodeInbound(false, data)
	if msg.Kind != InboundJSON {
		t.Fatalf("Kind = %v, want InboundJSON", msg.Kind)
	}
	if msg.Text != `{"settings":{"fps":60}}` {
		t.Fatalf("Text = %q", msg.Text)
	}
}

func TestDecodeInboundNoBraceFallsBackToBinary(t *testing.T) {
	data := append([]byte{TagResponse}, []byte("no braces here")...)
	msg := DecodeInbound(false, data)
	if msg.Kind != InboundBinary {
		t.Fatalf("Kind = %v, want InboundBinary when no JSON object is found", msg.Kind)
	}
}

func TestTagName(t *testing.T) {
	if TagName(TagFreezeFrame) != "FreezeFrame" {
		t.Fatalf("TagName(FreezeFrame) = %q", TagName(TagFreezeFrame))
	}
	if TagName(200) != "unknown(200)" {
		t.Fatalf("TagName(200) = %q", TagName(200))
	}
}
