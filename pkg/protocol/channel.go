// Package protocol implements the framed encode/decode of control, JSON,
// and chunked bulk transfers that ride a single WebRTC data channel.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
)

// TransferFormat is the wire encoding used for a chunked buffer transfer.
type TransferFormat string

const (
	FormatRaw    TransferFormat = "raw"
	FormatBase64 TransferFormat = "base64"
	FormatASCII  TransferFormat = "ascii"
)

// TransferOptions configures a chunked buffer transfer.
type TransferOptions struct {
	// Timeout bounds how long SendBuffer waits for each chunk's ACK.
	Timeout time.Duration
	// FailIfNotComplete aborts the transfer on the first ACK timeout rather
	// than proceeding regardless.
	FailIfNotComplete bool
	// DontWaitForAnswer sends every frame without waiting for an ACK at all.
	DontWaitForAnswer bool
	// RetryOnErrorResponse tells the caller a failed transfer may be retried
	// wholesale; SendBuffer itself never retries automatically.
	RetryOnErrorResponse bool
}

// DefaultTransferOptions returns the reference 2-second timeout with
// fail-if-not-complete behavior.
func DefaultTransferOptions() TransferOptions {
	return TransferOptions{
		Timeout:           2 * time.Second,
		FailIfNotComplete: true,
	}
}

type ackMsg struct {
	isError bool
}

type transfer struct {
	ackCh chan ackMsg
}

// Channel binds the envelope protocol to a connected data channel's send
// functions. It is safe for concurrent outbound sends except for
// overlapping SendBuffer calls, which are serialized internally since the
// reference's ACK handshake is not safe to run twice at once on one
// channel.
type Channel struct {
	send           func(data []byte) error
	maxMessageSize int

	transferMu     sync.Mutex
	mu             sync.Mutex
	activeTransfer *transfer
}

// NewChannel creates a Channel that writes binary frames through send and
// enforces maxMessageSize as given. The endpoint passes min(configured size,
// 65532); the SCTP transport's negotiated limit is not consulted.
func NewChannel(send func(data []byte) error, maxMessageSize int) *Channel {
	return &Channel{
		send:           send,
		maxMessageSize: maxMessageSize,
	}
}

// MaxMessageSize reports the channel's configured message size ceiling.
func (c *Channel) MaxMessageSize() int {
	return c.maxMessageSize
}

// SendBytes sends buf verbatim as a single binary message. A buffer larger
// than MaxMessageSize is rejected rather than fragmented: the only
// authoritative path for oversize payloads is SendBuffer.
func (c *Channel) SendBytes(buf []byte) error {
	if len(buf) > c.maxMessageSize {
		return errors.NewMessageTooLargeError(len(buf), c.maxMessageSize)
	}
	return c.send(buf)
}

// SendString wraps s in the {"origin":"dataconnector","data":s} envelope
// and emits one envelope frame.
func (c *Channel) SendString(s string) error {
	body, err := json.Marshal(struct {
		Origin string `json:"origin"`
		Data   string `json:"data"`
	}{Origin: "dataconnector", Data: s})
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode string envelope", err)
	}
	return c.sendEnvelope(body)
}

// SendJSON marshals v and emits one envelope frame with identical framing
// to SendString.
func (c *Channel) SendJSON(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode json envelope", err)
	}
	return c.sendEnvelope(body)
}

func (c *Channel) sendEnvelope(body []byte) error {
	frame := EncodeEnvelope(TagApplication, body)
	if len(frame) > c.maxMessageSize {
		return errors.NewMessageTooLargeError(len(frame), c.maxMessageSize)
	}
	return c.send(frame)
}

// HandleControlMessage is offered every inbound JSON message so an active
// SendBuffer call can intercept its own "buffer"/"error" ACKs before they
// reach the application message callback. It reports whether it consumed
// the message.
func (c *Channel) HandleControlMessage(raw string) bool {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return false
	}
	if envelope.Type != "buffer" && envelope.Type != "error" {
		return false
	}

	c.mu.Lock()
	t := c.activeTransfer
	c.mu.Unlock()
	if t == nil {
		return false
	}

	select {
	case t.ackCh <- ackMsg{isError: envelope.Type == "error"}:
	default:
	}
	return true
}

// SendBuffer runs the chunked buffer transfer sub-protocol: one START JSON
// message, ceil(len(payload)/chunkSize) chunk frames, then one STOP JSON
// message, each ACK'd in turn unless opts.DontWaitForAnswer is set.
func (c *Channel) SendBuffer(data []byte, name string, format TransferFormat, opts TransferOptions) error {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	payload := data
	if format == FormatBase64 {
		payload = []byte(base64.StdEncoding.EncodeToString(data))
	}

	chunkSize := c.maxMessageSize - EnvelopeOverhead
	if chunkSize <= 0 {
		return errors.New(errors.ErrCodeMessageTooLarge, "max message size too small to carry any chunk payload")
	}

	total := len(payload)
	numChunks := 0
	if total > 0 {
		numChunks = int(math.Ceil(float64(total) / float64(chunkSize)))
	}

	t := &transfer{ackCh: make(chan ackMsg, 1)}
	c.mu.Lock()
	c.activeTransfer = t
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.activeTransfer = nil
		c.mu.Unlock()
	}()

	errored := false
	sendAndWait := func(frame []byte) error {
		if err := c.send(frame); err != nil {
			return errors.NewChunkedTransferFailedError("transport rejected a transfer frame", err)
		}
		if opts.DontWaitForAnswer {
			return nil
		}
		select {
		case ack := <-t.ackCh:
			if ack.isError {
				errored = true
			}
			return nil
		case <-time.After(opts.Timeout):
			errored = true
			if opts.FailIfNotComplete {
				return errors.NewChunkedTransferFailedError("timed out waiting for chunk acknowledgement", nil)
			}
			return nil
		}
	}

	startBody, err := json.Marshal(map[string]interface{}{
		"type": "buffer", "start": name, "size": total, "format": string(format),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode buffer start message", err)
	}
	if err := sendAndWait(EncodeEnvelope(TagApplication, startBody)); err != nil {
		return err
	}

	for i := 0; i < numChunks; i++ {
		begin := i * chunkSize
		end := begin + chunkSize
		if end > total {
			end = total
		}

		frame := EncodeEnvelope(TagChunk, payload[begin:end])
		if err := sendAndWait(frame); err != nil {
			return err
		}
	}

	stopBody, err := json.Marshal(map[string]interface{}{"type": "buffer", "stop": name})
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode buffer stop message", err)
	}
	if err := sendAndWait(EncodeEnvelope(TagApplication, stopBody)); err != nil {
		return err
	}

	if errored && !opts.DontWaitForAnswer {
		return errors.NewChunkedTransferFailedError("buffer transfer completed with an outstanding error response", nil)
	}
	return nil
}
