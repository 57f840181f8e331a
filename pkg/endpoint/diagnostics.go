package endpoint

import (
	"encoding/json"
	"os"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
)

// DumpRemoteDescription writes the endpoint's current remote SDP to path,
// mirroring the reference's WriteSDPsToFile diagnostic. A nil remote
// description is reported as an error rather than writing an empty file.
func (e *Endpoint) DumpRemoteDescription(path string) error {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return errors.New(errors.ErrCodeNotConnected, "no peer connection to dump a remote description from")
	}

	remote := pc.RemoteDescription()
	if remote == nil {
		return errors.New(errors.ErrCodeNotConnected, "remote description not yet set")
	}
	return os.WriteFile(path, []byte(remote.SDP), 0o644)
}

// LogChannelInfo logs the data channel's negotiated protocol, label, and
// max message size at Info level, mirroring the reference's
// PrintCommunicationData diagnostic.
func (e *Endpoint) LogChannelInfo() {
	e.mu.Lock()
	dc := e.dc
	maxSize := e.maxMessageSize
	e.mu.Unlock()
	if dc == nil {
		return
	}

	e.log.Info("data channel info",
		logger.Field{Key: "endpoint_id", Value: e.ID()},
		logger.Field{Key: "label", Value: dc.Label()},
		logger.Field{Key: "protocol", Value: dc.Protocol()},
		logger.Field{Key: "max_message_size", Value: maxSize},
	)
}

// RequestRole would send {"type":"request","request":"role"} ahead of the
// initial offer. The reference source carries this call commented out and
// never enables it; this method exists for parity but is never called by
// Initialize, matching that the original keeps the capability present but
// disabled.
func (e *Endpoint) RequestRole() error {
	_, err := json.Marshal(map[string]interface{}{"type": "request", "request": "role"})
	return err
}
