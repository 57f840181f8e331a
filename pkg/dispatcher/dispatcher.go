// Package dispatcher implements the bridge's non-blocking UDP receive loop:
// it reads RTP datagrams carrying the routing extension header and forwards
// each one, unchanged, to the per-endpoint stream the header names.
package dispatcher

import (
	"sync"

	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
	"github.com/dhelmrich/UnrealReceiver/pkg/rtpheader"
	"github.com/dhelmrich/UnrealReceiver/pkg/socket"
)

// Stream is the capability a dispatched packet is handed to: a media track
// or a data channel, whichever an endpoint registered. A tagged variant plus
// this one method is the whole polymorphism the dispatcher needs.
type Stream interface {
	SendBytes(data []byte) error
}

// Mode selects how the dispatcher routes an inbound datagram.
type Mode int

const (
	// ModeDirect treats every datagram as a complete RTP packet and routes
	// it by the routing extension's player_id.
	ModeDirect Mode = iota
	// ModeBridge behaves identically to ModeDirect; it exists as a distinct
	// value because the reference source names it separately, even though
	// its routing logic is the same.
	ModeBridge
	// ModeLocked is a buffer-and-reorder mode for gathered multi-packet
	// submissions. The reference source declares it but never implements
	// it; this package logs and drops packets in this mode rather than
	// guess at undefined reordering semantics.
	ModeLocked
)

// rtpFixedHeaderSize is the minimum length of a well-formed RTP packet; any
// datagram shorter than this is dropped before routing is attempted.
const rtpFixedHeaderSize = 12

// Dispatcher reads datagrams from a Socket and routes them to registered
// streams by the routing extension's player_id.
type Dispatcher struct {
	sock *socket.Socket
	mode Mode
	log  logger.Logger

	mu      sync.RWMutex
	streams map[uint16]Stream
	nextIdx uint16
}

// New creates a Dispatcher reading from sock in the given Mode.
func New(sock *socket.Socket, mode Mode, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		sock:    sock,
		mode:    mode,
		log:     log,
		streams: make(map[uint16]Stream),
	}
}

// AddStream registers a stream and returns the index its routing player_id
// must carry for packets to reach it.
func (d *Dispatcher) AddStream(s Stream) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.nextIdx
	d.nextIdx++
	d.streams[idx] = s
	return idx
}

// AddStreamAt registers a stream under an explicit index rather than the
// next auto-incremented one — used by the bridge multiplexer, where the
// routing player_id must equal the endpoint's own bridge-assigned id
// instead of an arbitrary registration order.
func (d *Dispatcher) AddStreamAt(index uint16, s Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams[index] = s
}

// RemoveStream unregisters the stream at index, if any.
func (d *Dispatcher) RemoveStream(index uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streams, index)
}

// Run blocks, reading datagrams and routing them, until stop is closed or
// the underlying socket is disconnected.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := d.sock.Receive(true)
		if err != nil {
			return
		}
		if n <= 0 {
			continue
		}

		d.route(d.sock.RawBytes())
	}
}

func (d *Dispatcher) route(buf []byte) {
	if len(buf) < rtpFixedHeaderSize {
		return
	}

	switch d.mode {
	case ModeLocked:
		d.log.Debug("locked dispatch mode is unimplemented, dropping packet",
			logger.Field{Key: "bytes", Value: len(buf)},
		)
		return
	}

	routing, err := rtpheader.ReadRouting(buf)
	if err != nil {
		return
	}

	d.mu.RLock()
	stream, ok := d.streams[routing.PlayerID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	if err := stream.SendBytes(buf); err != nil {
		d.log.Debug("dispatched stream rejected packet",
			logger.Field{Key: "player_id", Value: routing.PlayerID},
			logger.Field{Key: "error", Value: err.Error()},
		)
	}
}
