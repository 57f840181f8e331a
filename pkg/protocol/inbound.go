package protocol

import "strings"

// InboundKind classifies how an inbound data-channel message should be
// delivered to the application.
type InboundKind int

const (
	// InboundText is a UTF-8 string message, delivered to the message
	// callback verbatim.
	InboundText InboundKind = iota
	// InboundJSON is a binary frame whose tag is JSON-bearing and whose
	// body brace-matched to a JSON object, delivered as a string.
	InboundJSON
	// InboundBinary is a binary frame that carries no parseable JSON,
	// delivered to the binary-data callback unchanged.
	InboundBinary
)

// InboundMessage is the result of classifying one data-channel message.
type InboundMessage struct {
	Kind InboundKind
	Tag  byte
	Text string
	Data []byte
}

// DecodeInbound classifies a single data-channel message per the bridge's
// inbound handling: string messages pass straight through, binary messages
// under 5 bytes go to the binary callback, and longer binary messages are
// read by tag byte, with JSON-bearing tags attempting a brace-matched
// extraction (including a UTF-16LE down-cast when the frame looks
// wide-charactered) before falling back to binary delivery.
func DecodeInbound(isString bool, data []byte) InboundMessage {
	if isString {
		return InboundMessage{Kind: InboundText, Text: string(data)}
	}
	if len(data) < 5 {
		return InboundMessage{Kind: InboundBinary, Data: data}
	}

	tag := data[0]
	if !isJSONTag(tag) {
		return InboundMessage{Kind: InboundBinary, Tag: tag, Data: data}
	}

	payload := data[1:]
	if looksUTF16LE(data) {
		payload = downcastUTF16LE(payload)
	}

	jsonText, ok := locateBraceMatchedJSON(string(payload))
	if !ok {
		return InboundMessage{Kind: InboundBinary, Tag: tag, Data: data}
	}
	return InboundMessage{Kind: InboundJSON, Tag: tag, Text: jsonText}
}

// looksUTF16LE mirrors the reference down-cast heuristic: bytes 2 and 4 of
// the full frame (indices 1 and 3 of the payload following the tag byte)
// being zero is treated as a wide-character signal.
func looksUTF16LE(frame []byte) bool {
	return len(frame) > 4 && frame[2] == 0 && frame[4] == 0
}

// downcastUTF16LE narrows a UTF-16LE byte sequence to ASCII by dropping the
// high byte of each code unit. A non-zero high byte (a non-ASCII code
// point) narrows to '?' rather than panicking.
func downcastUTF16LE(b []byte) []byte {
	n := len(b) / 2
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		lo, hi := b[i*2], b[i*2+1]
		if hi != 0 {
			out = append(out, '?')
			continue
		}
		out = append(out, lo)
	}
	return out
}

// locateBraceMatchedJSON finds the substring bounded by the first '{' and
// its matching '}' using naive brace counting (no quoted-string awareness,
// matching the reference's own locator).
func locateBraceMatchedJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
