// Package bridge implements the per-peer registry and UDP/WebSocket
// multiplexer that fans signalling and RTP traffic out across many
// endpoints (pkg/endpoint), each backed by one WebRTC peer connection.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/redis/go-redis/v9"

	"github.com/dhelmrich/UnrealReceiver/pkg/config"
	"github.com/dhelmrich/UnrealReceiver/pkg/dispatcher"
	"github.com/dhelmrich/UnrealReceiver/pkg/endpoint"
	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
	"github.com/dhelmrich/UnrealReceiver/pkg/rtpheader"
	"github.com/dhelmrich/UnrealReceiver/pkg/socket"
	"github.com/dhelmrich/UnrealReceiver/pkg/worker"
)

// Bridge owns every endpoint and the shared UDP/WebSocket plumbing that
// connects them to the rendering engine's back end: the RTP-carrying
// datagram sockets, the dispatcher thread that demultiplexes them, the
// worker queue that serializes outbound signalling, and the signalling
// WebSocket itself.
type Bridge struct {
	cfg *config.Config
	log logger.Logger

	registry *registry
	work     *worker.Queue

	jsonIn   *socket.Socket
	jsonOut  *socket.Socket
	rtpIn    *socket.Socket
	dataOut  *socket.Socket
	dispatch *dispatcher.Dispatcher

	wsMu sync.Mutex
	ws   *websocket.Conn

	cluster *clusterFanout

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Bridge from cfg. It does not yet bind any sockets or
// dial the signalling server; call Start for that.
func New(cfg *config.Config, log logger.Logger) *Bridge {
	var allocator IDAllocator = NewLocalAllocator()
	var cluster *clusterFanout

	if cfg.Redis.Enabled && cfg.Cluster.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:       cfg.Redis.Address,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		allocator = NewRedisAllocator(client, cfg.Cluster.EndpointCounterKey)
		cluster = newClusterFanout(client, cfg.Cluster.EventsChannel, cfg.Cluster.NodeID, log)
	}

	return &Bridge{
		cfg:      cfg,
		log:      log,
		registry: newRegistry(allocator),
		work:     worker.New(log),
		cluster:  cluster,
		stopCh:   make(chan struct{}),
	}
}

// Start binds the bridge's UDP sockets, dials the signalling WebSocket, and
// launches the dispatcher and signalling read-pump goroutines. It returns
// once the signalling connection is established.
func (b *Bridge) Start(ctx context.Context) error {
	b.jsonIn = socket.New(b.log, b.cfg.Bridge.ReceptionBufferBytes)
	if err := b.jsonIn.Connect(b.cfg.Bridge.LocalAddress, b.cfg.Bridge.LocalPort, socket.RoleIncoming); err != nil {
		return errors.NewSocketFaultError("failed to bind bridge json-in socket", err)
	}

	b.jsonOut = socket.New(b.log, b.cfg.Bridge.ReceptionBufferBytes)
	if err := b.jsonOut.Connect(b.cfg.Bridge.RemoteAddress, b.cfg.Bridge.RemotePort, socket.RoleOutgoing); err != nil {
		return errors.NewSocketFaultError("failed to connect bridge json-out socket", err)
	}

	b.rtpIn = socket.New(b.log, b.cfg.Bridge.ReceptionBufferBytes)
	if err := b.rtpIn.Connect(b.cfg.Bridge.LocalAddress, b.cfg.Bridge.DataPort, socket.RoleIncoming); err != nil {
		return errors.NewSocketFaultError("failed to bind bridge rtp-in socket", err)
	}

	b.dataOut = socket.New(b.log, b.cfg.Bridge.ReceptionBufferBytes)
	if err := b.dataOut.Connect(b.cfg.Bridge.RemoteAddress, b.cfg.Bridge.DataPort, socket.RoleOutgoing); err != nil {
		return errors.NewSocketFaultError("failed to connect bridge data-out socket", err)
	}

	b.dispatch = dispatcher.New(b.rtpIn, dispatcher.ModeBridge, b.log)
	go b.dispatch.Run(b.stopCh)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = b.cfg.Signalling.HandshakeTimeout
	conn, _, err := dialer.DialContext(ctx, b.cfg.Signalling.URL, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSignallingClosed, "failed to dial signalling server", err)
	}
	b.ws = conn

	go b.readSignallingLoop()

	if b.cluster != nil {
		go b.cluster.Run(b.stopCh)
	}

	return nil
}

// Stop shuts down the dispatcher, worker queue, signalling connection, and
// every owned socket. It is safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.work.Stop()

		b.wsMu.Lock()
		if b.ws != nil {
			_ = b.ws.Close()
		}
		b.wsMu.Unlock()

		for _, s := range []*socket.Socket{b.jsonIn, b.jsonOut, b.rtpIn, b.dataOut} {
			if s != nil {
				_ = s.Disconnect()
			}
		}
	})
}

// NewEndpoint constructs an Endpoint wired with this bridge's configured ICE
// servers and data channel message size ceiling, so config.WebRTC settings
// actually reach the peer connections the bridge creates.
func (b *Bridge) NewEndpoint(id uint32, role endpoint.Role, signal endpoint.SignalSender, cb endpoint.Callbacks) *endpoint.Endpoint {
	servers := make([]webrtc.ICEServer, 0, len(b.cfg.WebRTC.ICEServers))
	for _, s := range b.cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	ep := endpoint.New(id, role, b.log, b.work, signal, cb, servers)
	ep.SetMaxMessageSize(b.cfg.WebRTC.MaxMessageSize)
	return ep
}

// RegisterEndpoint adds ep to the registry and, if it implements the
// dispatcher's stream capability, registers it to receive routed RTP
// packets addressed to its id.
func (b *Bridge) RegisterEndpoint(ep *endpoint.Endpoint) error {
	if err := b.registry.Add(ep); err != nil {
		return err
	}
	b.dispatch.AddStreamAt(uint16(ep.ID()), ep)
	return nil
}

// SignalNewEndpoint allocates the next monotonic endpoint id and announces
// it to the signalling peer. The concrete announcement policy (see the
// open question on signal_new_endpoint) is: broadcast {type:"id", id}.
func (b *Bridge) SignalNewEndpoint(ctx context.Context) (uint32, error) {
	id, err := b.registry.AllocateID(ctx)
	if err != nil {
		return 0, err
	}

	b.work.AddTask(func() {
		_ = b.writeSignalling(map[string]interface{}{"type": "id", "id": id})
	})

	if b.cluster != nil {
		b.cluster.AnnounceConnected(id)
	}
	return id, nil
}

// Synchronize sends msg over the bridge OUT socket tagged with ep's id,
// blocks for exactly one response datagram on the bridge IN socket, and
// routes it: a well-formed JSON response is returned, anything else either
// raises a recoverable error (failIfUnresolved) or is silently dropped.
func (b *Bridge) Synchronize(ep *endpoint.Endpoint, msg map[string]interface{}, failIfUnresolved bool) (json.RawMessage, error) {
	tagged := make(map[string]interface{}, len(msg)+1)
	for k, v := range msg {
		tagged[k] = v
	}
	tagged["id"] = ep.ID()
	tagged["correlation"] = uuid.NewString()

	body, err := json.Marshal(tagged)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode synchronize message", err)
	}
	if _, err := b.jsonOut.Send(body); err != nil {
		return nil, errors.NewSocketFaultError("failed to send synchronize request", err)
	}

	n, err := b.jsonIn.Receive(true)
	if err != nil || n <= 0 {
		if failIfUnresolved {
			return nil, errors.NewUnresolvedSynchronizeError(err)
		}
		return nil, nil
	}

	raw := b.jsonIn.RawBytes()[:n]
	var response struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		if failIfUnresolved {
			return nil, errors.NewUnresolvedSynchronizeError(err)
		}
		return nil, nil
	}

	if response.Type == "" {
		if failIfUnresolved {
			return nil, errors.NewUnresolvedSynchronizeError(fmt.Errorf("synchronize response missing type"))
		}
		return nil, nil
	}

	if response.Type != "success" && response.Type != "ok" {
		ep.DeliverRemoteInformation(json.RawMessage(raw))
	}
	return json.RawMessage(raw), nil
}

// Submit routes one outbound message from an endpoint through the bridge's
// shared sockets: JSON payloads go over the bridge OUT socket with the
// endpoint id injected; binary payloads go over the data-out socket with
// the RTP routing extension's player_id field overwritten in place.
func (b *Bridge) Submit(ep *endpoint.Endpoint, origin string, msg interface{}) error {
	switch payload := msg.(type) {
	case []byte:
		rewritten := make([]byte, len(payload))
		copy(rewritten, payload)
		if err := rtpheader.RewritePlayerID(rewritten, uint16(ep.ID())); err != nil {
			return errors.Wrap(errors.ErrCodeSocketFault, "submit: cannot locate routing header", err)
		}
		_, err := b.dataOut.Send(rewritten)
		return err
	default:
		tagged := map[string]interface{}{
			"id":     ep.ID(),
			"origin": origin,
			"data":   msg,
		}
		body, err := json.Marshal(tagged)
		if err != nil {
			return errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode submit message", err)
		}
		_, err = b.jsonOut.Send(body)
		return err
	}
}

// EndpointCount reports how many endpoints are currently registered.
func (b *Bridge) EndpointCount() int {
	return b.registry.Count()
}

func (b *Bridge) writeSignalling(v interface{}) error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.ws == nil {
		return errors.NewSignallingClosedError(nil)
	}
	_ = b.ws.SetWriteDeadline(time.Now().Add(b.cfg.Signalling.HandshakeTimeout))
	return b.ws.WriteJSON(v)
}

// readSignallingLoop is the bridge's listener thread: it decodes each
// inbound signalling frame just far enough to learn the target endpoint id
// and hands the rest to that endpoint's own dispatch table.
func (b *Bridge) readSignallingLoop() {
	for {
		_, raw, err := b.ws.ReadMessage()
		if err != nil {
			b.log.Warn("signalling read failed", logger.Field{Key: "error", Value: err.Error()})
			b.registry.Each(func(ep *endpoint.Endpoint) {
				ep.OnSignallingError(err)
			})
			return
		}

		var routed struct {
			ID uint32 `json:"id"`
		}
		_ = json.Unmarshal(raw, &routed)

		if routed.ID == 0 {
			b.registry.Each(func(ep *endpoint.Endpoint) {
				ep.HandleSignallingMessage(raw)
			})
			continue
		}

		ep, err := b.registry.Get(routed.ID)
		if err != nil {
			b.log.Warn("signalling message for unknown endpoint",
				logger.Field{Key: "endpoint_id", Value: routed.ID},
			)
			continue
		}
		ep.HandleSignallingMessage(raw)
	}
}
