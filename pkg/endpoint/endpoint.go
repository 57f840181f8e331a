package endpoint

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
	"github.com/dhelmrich/UnrealReceiver/pkg/protocol"
	"github.com/dhelmrich/UnrealReceiver/pkg/worker"
)

// MaxSCTPMessageSize is the hard ceiling the envelope's 16-bit length field
// can represent alongside its 4 bytes of overhead.
const MaxSCTPMessageSize = 65532

// Callbacks groups the optional, user-supplied hooks an Endpoint invokes.
// Any field left nil is simply not called.
type Callbacks struct {
	OnMessage           func(text string)
	OnBinary            func(data []byte)
	OnClose             func()
	OnFailed            func(err error)
	OnICEGathered       func()
	OnRemoteInformation func(raw json.RawMessage)
}

// SignalSender delivers a JSON-encodable value to the remote signalling
// peer. Endpoint never writes to the signalling transport directly. Every
// write except the initiator's offer, which OnSignallingOpen sends
// synchronously, is posted through the worker queue first so writes caused
// by racing inbound messages still come out in causal order.
type SignalSender func(v interface{}) error

// Endpoint is one logical peer: one peer connection, one outbound data
// channel, the signalling state machine that brings them up, and the
// required-candidate gate that decides when a responder may answer.
type Endpoint struct {
	mu sync.Mutex

	id    uint32
	role  Role
	state State

	log    logger.Logger
	work   *worker.Queue
	gate   *candidateGate
	signal SignalSender
	cb     Callbacks

	webrtcConfig webrtc.Configuration
	pc           *webrtc.PeerConnection
	dc           *webrtc.DataChannel
	channel      *protocol.Channel

	localDescription *webrtc.SessionDescription
	hasLocalOffer    bool

	maxMessageSize           int
	configuredMaxMessageSize int
	connectedCh              chan struct{}
	connectedOnce            sync.Once

	// freezeFrameSeen guards tag 3 ("freeze frame"): the reference source
	// carries a second, dead-code handler for the same tag, so only the
	// first occurrence per connection is delivered.
	freezeFrameSeen bool
}

// New creates an Endpoint in state STARTUP. id is the bridge-assigned
// numeric identity (0 if not yet known; the "id" signalling message fills
// it in later). iceServers seeds the peer connection configuration used at
// the next (re)construction; a "config" signalling message may replace it
// before Initialize is called.
func New(id uint32, role Role, log logger.Logger, work *worker.Queue, signal SignalSender, cb Callbacks, iceServers []webrtc.ICEServer) *Endpoint {
	return &Endpoint{
		id:    id,
		role:  role,
		state: StateStartup,
		log:   log,
		work:  work,
		gate:  newCandidateGate(),
		signal: signal,
		cb:     cb,
		webrtcConfig: webrtc.Configuration{
			ICEServers: iceServers,
		},
		configuredMaxMessageSize: MaxSCTPMessageSize,
		connectedCh:              make(chan struct{}),
	}
}

// SetMaxMessageSize overrides the configured data channel message size
// ceiling (config.WebRTC.MaxMessageSize). The effective ceiling applied once
// the data channel opens is min(n, MaxSCTPMessageSize); a zero or negative n
// is ignored.
func (e *Endpoint) SetMaxMessageSize(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configuredMaxMessageSize = n
}

// effectiveMaxMessageSize is min(configured, MaxSCTPMessageSize), per the
// §4.4 invariant that the negotiated ceiling never exceeds what the 16-bit
// envelope length field can represent alongside its 4 bytes of overhead.
func effectiveMaxMessageSize(configured int) int {
	if configured <= 0 || configured > MaxSCTPMessageSize {
		return MaxSCTPMessageSize
	}
	return configured
}

// ID returns the endpoint's bridge-assigned identity.
func (e *Endpoint) ID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// State returns the endpoint's current signalling state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Channel returns the protocol.Channel bound to this endpoint's data
// channel. It is only valid once State() == StateConnected; earlier callers
// get nil.
func (e *Endpoint) Channel() *protocol.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel
}

// WaitConnected blocks until the endpoint reaches CONNECTED. Per the
// design, it does not itself time out; callers that want a deadline wrap
// this in their own select with a timer.
func (e *Endpoint) WaitConnected() {
	<-e.connectedCh
}

func (e *Endpoint) setState(to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !canTransition(e.state, to) {
		e.log.Warn("rejected endpoint state transition",
			logger.Field{Key: "endpoint_id", Value: e.id},
			logger.Field{Key: "from", Value: e.state.String()},
			logger.Field{Key: "to", Value: to.String()},
		)
		return false
	}
	e.state = to
	return true
}

// Initialize constructs the underlying peer connection and, for an
// initiator, its outbound data channel; a responder instead waits for
// OnDataChannel. Call once per connection attempt; a disconnected endpoint
// is re-initialized by calling this again.
func (e *Endpoint) Initialize() error {
	e.mu.Lock()
	cfg := e.webrtcConfig
	role := e.role
	e.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWebRTCError, "failed to construct peer connection", err)
	}

	e.mu.Lock()
	e.pc = pc
	e.mu.Unlock()

	pc.OnICECandidate(e.onLocalICECandidate)
	pc.OnICEConnectionStateChange(e.onICEConnectionStateChange)
	pc.OnConnectionStateChange(e.onConnectionStateChange)

	if role == RoleInitiator {
		dc, err := pc.CreateDataChannel("bridge", nil)
		if err != nil {
			return errors.Wrap(errors.ErrCodeWebRTCError, "failed to create data channel", err)
		}
		e.bindDataChannel(dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return errors.Wrap(errors.ErrCodeWebRTCError, "failed to create offer", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return errors.Wrap(errors.ErrCodeWebRTCError, "failed to set local description", err)
		}
		e.mu.Lock()
		e.localDescription = pc.LocalDescription()
		e.hasLocalOffer = true
		e.mu.Unlock()
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			e.bindDataChannel(dc)
		})
	}

	return nil
}

func (e *Endpoint) bindDataChannel(dc *webrtc.DataChannel) {
	e.mu.Lock()
	e.dc = dc
	e.mu.Unlock()

	dc.OnOpen(func() {
		e.mu.Lock()
		maxSize := effectiveMaxMessageSize(e.configuredMaxMessageSize)
		e.maxMessageSize = maxSize
		e.channel = protocol.NewChannel(func(data []byte) error {
			return dc.Send(data)
		}, maxSize)
		e.mu.Unlock()

		if e.setState(StateConnected) {
			e.connectedOnce.Do(func() { close(e.connectedCh) })
		}
	})

	dc.OnClose(func() {
		e.setState(StateClosed)
		if e.cb.OnClose != nil {
			e.cb.OnClose()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		e.handleDataChannelMessage(msg)
	})
}

func (e *Endpoint) handleDataChannelMessage(msg webrtc.DataChannelMessage) {
	inbound := protocol.DecodeInbound(!msg.IsString, msg.Data)
	if !msg.IsString {
		e.log.Debug("inbound data channel frame",
			logger.Field{Key: "endpoint_id", Value: e.ID()},
			logger.Field{Key: "tag", Value: protocol.TagName(inbound.Tag)},
		)
	}

	switch inbound.Kind {
	case protocol.InboundText:
		e.deliverText(inbound.Text)
	case protocol.InboundJSON:
		e.deliverText(inbound.Text)
	case protocol.InboundBinary:
		if inbound.Tag == protocol.TagFreezeFrame && !e.markFreezeFrameSeen() {
			return
		}
		if e.cb.OnBinary != nil {
			e.cb.OnBinary(inbound.Data)
		}
	}
}

// markFreezeFrameSeen records the first freeze-frame delivery for this
// connection and reports whether this call is that first one.
func (e *Endpoint) markFreezeFrameSeen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.freezeFrameSeen {
		return false
	}
	e.freezeFrameSeen = true
	return true
}

func (e *Endpoint) deliverText(text string) {
	e.mu.Lock()
	ch := e.channel
	e.mu.Unlock()

	if ch != nil && ch.HandleControlMessage(text) {
		return
	}
	if e.cb.OnMessage != nil {
		e.cb.OnMessage(text)
	}
}

func (e *Endpoint) onConnectionStateChange(state webrtc.PeerConnectionState) {
	if state == webrtc.PeerConnectionStateFailed {
		e.work.AddTask(func() {
			e.setState(StateRTCError)
			if e.cb.OnFailed != nil {
				e.cb.OnFailed(errors.New(errors.ErrCodeWebRTCError, "peer connection entered failed state"))
			}
		})
	}
}

func (e *Endpoint) onICEConnectionStateChange(state webrtc.ICEConnectionState) {
	e.log.Debug("ice connection state changed",
		logger.Field{Key: "endpoint_id", Value: e.ID()},
		logger.Field{Key: "state", Value: state.String()},
	)
}

// onLocalICECandidate is invoked on a pion-owned goroutine for each
// gathered local candidate and once more with nil at the end of gathering.
// Sending it to the remote peer is signalling I/O, so it is posted to the
// worker queue rather than run inline.
func (e *Endpoint) onLocalICECandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	init := candidate.ToJSON()
	e.work.AddTask(func() {
		_ = e.signal(map[string]interface{}{
			"type":      "iceCandidate",
			"candidate": init,
		})
	})
}

// SendBytes implements dispatcher.Stream so a bridge multiplexer can
// register this endpoint's data channel as the delivery target for UDP
// datagrams routed to its numeric id.
func (e *Endpoint) SendBytes(data []byte) error {
	e.mu.Lock()
	dc := e.dc
	state := e.state
	e.mu.Unlock()

	if state != StateConnected || dc == nil {
		return nil
	}
	return dc.Send(data)
}

// DeliverRemoteInformation forwards a bridge-protocol response that did not
// resolve to simple success to the endpoint's OnRemoteInformation callback.
func (e *Endpoint) DeliverRemoteInformation(raw json.RawMessage) {
	if e.cb.OnRemoteInformation != nil {
		e.cb.OnRemoteInformation(raw)
	}
}

// Close releases the peer connection so the endpoint can later be rebuilt
// by a fresh Initialize call, matching the "disconnect then reconstruct"
// lifecycle used on playerDisconnected/serverDisconnected.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.dc = nil
	e.channel = nil
	e.freezeFrameSeen = false
	e.mu.Unlock()

	if pc == nil {
		return nil
	}
	return pc.Close()
}
