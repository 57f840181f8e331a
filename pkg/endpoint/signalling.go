package endpoint

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
)

// HandleSignallingMessage dispatches one inbound signalling JSON message by
// its "type" field. Unknown types are logged and ignored; malformed JSON is
// a protocol fault and is also logged and ignored, never propagated.
func (e *Endpoint) HandleSignallingMessage(raw []byte) {
	msgType, err := decodeType(raw)
	if err != nil {
		e.log.Warn("malformed signalling message", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	switch msgType {
	case "offer":
		e.handleOffer(raw)
	case "answer":
		e.handleAnswer(raw)
	case "iceCandidate":
		e.handleICECandidate(raw)
	case "id":
		e.handleID(raw)
	case "role":
		e.handleRole(raw)
	case "playerConnected":
		e.handlePlayerConnected()
	case "playerDisconnected", "serverDisconnected":
		e.handlePeerReset()
	case "config":
		e.handleConfig(raw)
	case "playerCount":
		e.log.Debug("player count update", logger.Field{Key: "raw", Value: string(raw)})
	case "control":
		e.log.Debug("control message", logger.Field{Key: "raw", Value: string(raw)})
	default:
		e.log.Warn("unrecognized signalling message type", logger.Field{Key: "type", Value: msgType})
	}
}

// OnSignallingOpen runs the STARTUP -> SIGNUP transition and, for an
// initiator that already has a local description, the SIGNUP -> OFFERED
// fast path: a synchronous {type:"offer"} send.
func (e *Endpoint) OnSignallingOpen() {
	if !e.setState(StateSignup) {
		return
	}

	e.mu.Lock()
	role := e.role
	hasOffer := e.hasLocalOffer
	local := e.localDescription
	e.mu.Unlock()

	if role == RoleInitiator && hasOffer && local != nil {
		e.sendOffer(local)
	}
}

// OnSignallingError runs the one permitted back-transition: SIGNUP ->
// STARTUP, so a fresh connection attempt can retry from scratch.
func (e *Endpoint) OnSignallingError(cause error) {
	e.log.Warn("signalling socket error",
		logger.Field{Key: "endpoint_id", Value: e.ID()},
		logger.Field{Key: "error", Value: cause},
	)
	e.setState(StateStartup)
}

func (e *Endpoint) sendOffer(local *webrtc.SessionDescription) {
	if e.setState(StateOffered) {
		_ = e.signal(map[string]interface{}{
			"type":     "offer",
			"endpoint": "data",
			"sdp":      local.SDP,
		})
	}
}

func (e *Endpoint) handleOffer(raw []byte) {
	e.mu.Lock()
	role := e.role
	pc := e.pc
	e.mu.Unlock()
	if role == RoleInitiator {
		e.log.Warn("ignoring offer received by an initiator endpoint")
		return
	}
	if pc == nil {
		return
	}

	var msg sdpMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Warn("malformed offer message", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		e.log.Warn("failed to apply remote offer", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	e.gate.Seed(remoteMIDs(pc))
	e.tryResponderAnswer()
}

func (e *Endpoint) handleAnswer(raw []byte) {
	e.mu.Lock()
	role := e.role
	pc := e.pc
	e.mu.Unlock()
	if role != RoleInitiator {
		e.log.Warn("ignoring answer received by a responder endpoint")
		return
	}
	if pc == nil {
		return
	}

	var msg sdpMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Warn("malformed answer message", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		e.log.Warn("failed to apply remote answer", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	e.gate.Seed(remoteMIDs(pc))
}

func (e *Endpoint) handleICECandidate(raw []byte) {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return
	}

	var msg iceCandidateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Warn("malformed ice candidate message", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	mLineIndex := uint16(msg.Candidate.SDPMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     msg.Candidate.Candidate,
		SDPMid:        &msg.Candidate.SDPMid,
		SDPMLineIndex: &mLineIndex,
	}
	if err := pc.AddICECandidate(init); err != nil {
		e.log.Warn("failed to add remote ice candidate",
			logger.Field{Key: "error", Value: errors.NewInvalidCandidateError(err.Error()).Error()},
		)
		return
	}

	if e.gate.Resolve(msg.Candidate.SDPMid) {
		if e.cb.OnICEGathered != nil {
			e.cb.OnICEGathered()
		}
		e.tryResponderAnswer()
	}
}

// tryResponderAnswer posts the SDP answer once the endpoint is a responder,
// required_candidates is empty, and it has not already moved past SIGNUP.
// Local candidates are not sent here; onLocalICECandidate sends them.
func (e *Endpoint) tryResponderAnswer() {
	e.mu.Lock()
	role := e.role
	pc := e.pc
	state := e.state
	e.mu.Unlock()

	if role != RoleResponder || pc == nil || state != StateSignup || !e.gate.Satisfied() {
		return
	}

	e.work.AddTask(func() {
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			e.log.Warn("failed to create answer", logger.Field{Key: "error", Value: err.Error()})
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			e.log.Warn("failed to set local description for answer", logger.Field{Key: "error", Value: err.Error()})
			return
		}

		if !e.setState(StateOffered) {
			return
		}

		local := pc.LocalDescription()
		_ = e.signal(map[string]interface{}{
			"type": "answer",
			"sdp":  local.SDP,
		})
		// Local candidates for this answer are emitted individually by
		// onLocalICECandidate as pion gathers them (trickle ICE), which
		// satisfies "one iceCandidate message per extracted local candidate"
		// without buffering them here.
	})
}

func (e *Endpoint) handleID(raw []byte) {
	var msg idMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Warn("malformed id message", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	e.mu.Lock()
	e.id = msg.ID
	e.mu.Unlock()
}

func (e *Endpoint) handleRole(raw []byte) {
	var msg roleMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Warn("malformed role message", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	role := RoleInitiator
	if msg.Role == "server" {
		role = RoleResponder
	}
	e.mu.Lock()
	e.role = role
	pc := e.pc
	e.mu.Unlock()

	if role == RoleResponder && pc != nil {
		e.work.AddTask(func() {
			offer, err := pc.CreateOffer(nil)
			if err != nil {
				return
			}
			_ = pc.SetLocalDescription(offer)
		})
	}
}

func (e *Endpoint) handlePlayerConnected() {
	e.mu.Lock()
	role := e.role
	e.mu.Unlock()
	if role != RoleResponder {
		return
	}
	e.tryResponderAnswer()
}

func (e *Endpoint) handlePeerReset() {
	if err := e.Close(); err != nil {
		e.log.Warn("failed to close peer connection on reset", logger.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Endpoint) handleConfig(raw []byte) {
	var msg configMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Warn("malformed config message", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	var servers []webrtc.ICEServer
	if iceServersRaw, ok := msg.PeerConnectionOptions["iceServers"]; ok {
		if list, ok := iceServersRaw.([]interface{}); ok {
			for _, entry := range list {
				m, ok := entry.(map[string]interface{})
				if !ok {
					continue
				}
				server := webrtc.ICEServer{}
				if urls, ok := m["urls"].(string); ok {
					server.URLs = []string{urls}
				}
				if username, ok := m["username"].(string); ok {
					server.Username = username
				}
				if credential, ok := m["credential"].(string); ok {
					server.Credential = credential
				}
				servers = append(servers, server)
			}
		}
	}

	e.mu.Lock()
	e.webrtcConfig.ICEServers = servers
	e.mu.Unlock()
}

// remoteMIDs reads the MID attribute of every media section in the peer
// connection's current remote description.
func remoteMIDs(pc *webrtc.PeerConnection) []string {
	remote := pc.RemoteDescription()
	if remote == nil || remote.Parsed == nil {
		return nil
	}
	mids := make([]string, 0, len(remote.Parsed.MediaDescriptions))
	for _, md := range remote.Parsed.MediaDescriptions {
		if mid, ok := md.Attribute("mid"); ok {
			mids = append(mids, mid)
		}
	}
	return mids
}
