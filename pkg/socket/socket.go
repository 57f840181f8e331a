// Package socket provides a connectionless UDP datagram socket with the
// peek/non-blocking/fixed-buffer semantics the bridge multiplexer needs to
// read routed RTP traffic without allocating per packet.
package socket

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
)

// MinReceptionBuffer is the smallest reception buffer a Socket will allocate,
// matching the reference dispatcher's fixed 208 KiB window.
const MinReceptionBuffer = 208 * 1024

// Role distinguishes a socket that originates datagrams from one that
// receives them, mirroring the outgoing/incoming distinction in the
// reference bridge socket: outgoing sockets are connect(2)-ed to a single
// peer, incoming sockets are bound and receive from whoever writes to them.
type Role int

const (
	// RoleOutgoing connects to a single remote address and is used with Send.
	RoleOutgoing Role = iota
	// RoleIncoming binds a local port and is used with Receive/Peek.
	RoleIncoming
)

// Socket is a connectionless UDP endpoint with a fixed reception buffer and
// three overlapping views onto its last-received datagram.
type Socket struct {
	mu   sync.Mutex
	log  logger.Logger
	conn *net.UDPConn
	role Role

	blocking bool
	buf      []byte
	n        int
	pending  bool

	lastAddr *net.UDPAddr
}

// New creates a Socket with a reception buffer of at least MinReceptionBuffer
// bytes. Passing a smaller size still yields a MinReceptionBuffer-sized
// buffer; the reference implementation never reallocates it, and neither
// does this one.
func New(log logger.Logger, bufferSize int) *Socket {
	if bufferSize < MinReceptionBuffer {
		bufferSize = MinReceptionBuffer
	}
	return &Socket{
		log:      log,
		blocking: true,
		buf:      make([]byte, bufferSize),
	}
}

// normalizeAddress maps "localhost" onto its loopback literal, the one
// hostname the reference socket special-cases before handing the address to
// the platform resolver.
func normalizeAddress(addr string) string {
	if strings.EqualFold(addr, "localhost") {
		return "127.0.0.1"
	}
	return addr
}

// Connect opens the socket. For RoleOutgoing it connects to addr:port so
// Send writes go to a single peer; for RoleIncoming it binds addr:port
// (port 0 picks an ephemeral port) and Send is unavailable until a peer has
// written to the socket.
func (s *Socket) Connect(addr string, port int, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr = normalizeAddress(addr)
	s.role = role

	var conn *net.UDPConn
	var err error
	switch role {
	case RoleOutgoing:
		raddr, rerr := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if rerr != nil {
			return errors.NewSocketFaultError("resolve remote udp address", rerr)
		}
		conn, err = net.DialUDP("udp", nil, raddr)
	case RoleIncoming:
		laddr, rerr := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if rerr != nil {
			return errors.NewSocketFaultError("resolve local udp address", rerr)
		}
		conn, err = net.ListenUDP("udp", laddr)
	}
	if err != nil {
		s.log.Error("failed to open udp socket",
			logger.Field{Key: "address", Value: addr},
			logger.Field{Key: "port", Value: port},
			logger.Field{Key: "error", Value: err.Error()},
		)
		return errors.NewSocketFaultError("open udp socket", err)
	}

	s.conn = conn
	s.applyBlocking()
	return nil
}

// Disconnect closes the underlying connection. It is safe to call on an
// already-closed or never-connected Socket.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return errors.NewSocketFaultError("close udp socket", err)
	}
	return nil
}

// SetBlocking records the socket's blocking mode; when true, the read
// deadline left behind by Peek or a non-blocking Receive is cleared. Receive
// chooses blocking or non-blocking reads from its own argument on each call,
// not from this setting.
func (s *Socket) SetBlocking(blocking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocking = blocking
	s.applyBlocking()
}

func (s *Socket) applyBlocking() {
	if s.conn == nil {
		return
	}
	if s.blocking {
		s.conn.SetReadDeadline(time.Time{})
	}
}

// Send writes data to the connected peer (RoleOutgoing sockets) or to the
// last peer a datagram was received from (RoleIncoming sockets, via WriteTo
// with the address recorded by the previous Receive or Peek).
// The reference behavior treats a failed send as fatal; this implementation
// downgrades that to a reported error, as the spec permits.
func (s *Socket) Send(data []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	role := s.role
	lastAddr := s.lastAddr
	s.mu.Unlock()

	if conn == nil {
		return 0, errors.NewSocketFaultError("send on unconnected socket", nil)
	}

	var n int
	var err error
	if role == RoleIncoming {
		if lastAddr == nil {
			return 0, errors.NewSocketFaultError("send on incoming socket with no recorded peer address", nil)
		}
		n, err = conn.WriteToUDP(data, lastAddr)
	} else {
		n, err = conn.Write(data)
	}
	if err != nil {
		s.log.Error("udp send failed",
			logger.Field{Key: "bytes", Value: len(data)},
			logger.Field{Key: "error", Value: err.Error()},
		)
		return n, errors.NewSocketFaultError("udp send failed", err)
	}
	return n, nil
}

// SendString is a convenience wrapper around Send for UTF-8 text payloads.
func (s *Socket) SendString(str string) (int, error) {
	return s.Send([]byte(str))
}

// Peek reports whether a datagram is queued without consuming it, returning
// its length or 0 if none is available. It waits at most about a millisecond
// and never returns an error: a negative or failing read is coerced to "no data," matching
// the reference recvfrom handling. A peeked datagram is cached and handed
// back by the next Receive call rather than read twice.
func (s *Socket) Peek() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return s.n
	}
	if s.conn == nil {
		return 0
	}

	// A deadline already in the past fails the read before the socket is
	// checked, so a short future deadline is used to poll the queue.
	s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, addr, err := s.conn.ReadFromUDP(s.buf)
	s.applyBlocking()
	if err != nil {
		return 0
	}

	s.n = n
	s.pending = true
	if addr != nil {
		s.lastAddr = addr
	}
	return n
}

// Receive reads one datagram into the fixed reception buffer and returns its
// length. When blocking is false and no datagram is queued, it returns 0
// with no error after waiting at most about a millisecond. Oversize datagrams are truncated to the buffer's capacity,
// never reallocated.
func (s *Socket) Receive(blocking bool) (int, error) {
	s.mu.Lock()
	if s.pending {
		s.pending = false
		n := s.n
		s.mu.Unlock()
		return n, nil
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return 0, errors.NewSocketFaultError("receive on unconnected socket", nil)
	}

	if blocking {
		conn.SetReadDeadline(time.Time{})
	} else {
		conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	}

	n, addr, err := conn.ReadFromUDP(s.buf)
	if !blocking {
		s.applyBlocking()
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return 0, nil
	}

	s.mu.Lock()
	s.n = n
	if addr != nil {
		s.lastAddr = addr
	}
	s.mu.Unlock()
	return n, nil
}

// RawBytes returns the raw view of the last-received datagram. Callers MUST
// NOT hold onto this slice across a subsequent Receive: the buffer is
// reused, not reallocated.
func (s *Socket) RawBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf[:s.n]
}

// StringView interprets the last-received datagram as a UTF-8 string.
func (s *Socket) StringView() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf[:s.n])
}

// Uint32View interprets the leading bytes of the last-received datagram as a
// sequence of little-endian uint32 counters, for protocols (like the bridge
// routing extension) that pack fixed-width fields at the front of a packet.
func (s *Socket) Uint32View() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	words := s.n / 4
	out := make([]uint32, words)
	for i := 0; i < words; i++ {
		out[i] = uint32(s.buf[i*4]) | uint32(s.buf[i*4+1])<<8 | uint32(s.buf[i*4+2])<<16 | uint32(s.buf[i*4+3])<<24
	}
	return out
}

// GetFreeSocket binds an ephemeral UDP port on addr, reports the port the
// kernel assigned, and releases it immediately so the caller can reuse the
// number for its own Connect.
func GetFreeSocket(addr string) (int, error) {
	addr = normalizeAddress(addr)
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, "0"))
	if err != nil {
		return 0, errors.NewSocketFaultError("resolve ephemeral udp address", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return 0, errors.NewSocketFaultError("bind ephemeral udp socket", err)
	}
	defer conn.Close()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	return port, nil
}
