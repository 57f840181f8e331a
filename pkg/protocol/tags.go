package protocol

import "fmt"

// Client message type tags, carried in byte 0 of an inbound data-channel
// frame. Only Response, InitialSettings, and Protocol carry a JSON payload
// worth parsing; the rest exist purely so an inbound frame can be logged by
// name before falling through to the same binary-or-JSON decision.
const (
	TagQualityControlOwnership byte = 0
	TagResponse                byte = 1
	TagCommand                 byte = 2
	TagFreezeFrame             byte = 3
	TagUnfreezeFrame           byte = 4
	TagVideoEncoderAvgQP       byte = 5
	TagLatencyTest             byte = 6
	TagInitialSettings         byte = 7
	TagFileExtension           byte = 8
	TagFileMimeType            byte = 9
	TagFileContents            byte = 10
	TagTestEcho                byte = 11
	TagInputControlOwnership   byte = 12
	TagGamepadResponse         byte = 13
	TagProtocol                byte = 255

	// TagApplication is the tag this bridge uses for its own outbound
	// application-payload frames (send_string/send_json/chunked transfer
	// control messages).
	TagApplication byte = 0x28

	// TagChunk prefixes a single chunk of a chunked buffer transfer.
	TagChunk byte = 50
)

var tagNames = map[byte]string{
	TagQualityControlOwnership: "QualityControlOwnership",
	TagResponse:                "Response",
	TagCommand:                 "Command",
	TagFreezeFrame:             "FreezeFrame",
	TagUnfreezeFrame:           "UnfreezeFrame",
	TagVideoEncoderAvgQP:       "VideoEncoderAvgQP",
	TagLatencyTest:             "LatencyTest",
	TagInitialSettings:         "InitialSettings",
	TagFileExtension:           "FileExtension",
	TagFileMimeType:            "FileMimeType",
	TagFileContents:            "FileContents",
	TagTestEcho:                "TestEcho",
	TagInputControlOwnership:   "InputControlOwnership",
	TagGamepadResponse:         "GamepadResponse",
	TagProtocol:                "Protocol",
}

// TagName returns the human-readable name of a client message type tag, for
// debug logging of inbound frames.
func TagName(tag byte) string {
	if name, ok := tagNames[tag]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", tag)
}

// isJSONTag reports whether a tag's body is worth brace-matching for JSON.
func isJSONTag(tag byte) bool {
	return tag == TagResponse || tag == TagInitialSettings || tag == TagProtocol
}
