package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an UnrealReceiver bridge process.
type Config struct {
	// Bridge holds the datagram socket and routing configuration
	Bridge BridgeConfig `json:"bridge" yaml:"bridge"`

	// Signalling holds the signalling WebSocket configuration
	Signalling SignallingConfig `json:"signalling" yaml:"signalling"`

	// WebRTC holds ICE server and data channel configuration
	WebRTC WebRTCConfig `json:"webrtc" yaml:"webrtc"`

	// Transfer holds chunked buffer transfer defaults
	Transfer TransferConfig `json:"transfer" yaml:"transfer"`

	// Cluster configuration (optional - for distributed deployments)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Redis configuration (optional - required when Cluster.Enabled = true)
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// BridgeConfig holds the UDP datagram socket pair the bridge multiplexer owns.
type BridgeConfig struct {
	// LocalAddress is the address the bridge binds its inbound socket to
	LocalAddress string `json:"local_address" yaml:"local_address"`

	// LocalPort is the port the bridge binds to receive bridge-protocol JSON
	// (synchronize replies)
	LocalPort int `json:"local_port" yaml:"local_port"`

	// RemoteAddress is the address of the application the bridge forwards to
	RemoteAddress string `json:"remote_address" yaml:"remote_address"`

	// RemotePort is the application's port the bridge sends bridge-protocol
	// JSON (synchronize and submitted JSON messages) to
	RemotePort int `json:"remote_port" yaml:"remote_port"`

	// DataPort is used twice: the bridge binds it locally to receive routed
	// RTP, and sends rewritten RTP/binary submissions to it on RemoteAddress
	DataPort int `json:"data_port" yaml:"data_port"`

	// ReceptionBufferBytes sizes the fixed receive buffer for the dispatcher loop
	ReceptionBufferBytes int `json:"reception_buffer_bytes" yaml:"reception_buffer_bytes"`
}

// SignallingConfig holds the signalling WebSocket endpoint.
type SignallingConfig struct {
	// URL is the signalling server's ws(s):// URL
	URL string `json:"url" yaml:"url"`

	// ID is this bridge's identifier on the signalling connection, if required
	ID string `json:"id" yaml:"id"`

	// HandshakeTimeout bounds the initial WebSocket dial and is also the write
	// deadline applied to each outbound signalling message
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`

	// ReconnectBackoff is accepted from the config file but not read: the
	// bridge does not reconnect after a signalling socket error
	ReconnectBackoff time.Duration `json:"reconnect_backoff" yaml:"reconnect_backoff"`
}

// WebRTCConfig holds ICE server and data channel configuration.
type WebRTCConfig struct {
	// ICEServers is the list of STUN/TURN servers offered to pion's peer connection
	ICEServers []ICEServer `json:"ice_servers" yaml:"ice_servers"`

	// MaxMessageSize is the data channel message size ceiling; endpoints use
	// min(MaxMessageSize, 65532). The size the SCTP transport negotiates is
	// not consulted.
	MaxMessageSize int `json:"max_message_size" yaml:"max_message_size"`

	// DataChannelLabel is accepted from the config file but not read: the
	// initiator's data channel is always labelled "bridge"
	DataChannelLabel string `json:"data_channel_label" yaml:"data_channel_label"`
}

// ICEServer mirrors pion's webrtc.ICEServer for YAML configuration.
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username" yaml:"username"`
	Credential string   `json:"credential" yaml:"credential"`
}

// TransferConfig holds chunked large-buffer transfer defaults. Validate
// checks these fields, but nothing else reads them: protocol.SendBuffer takes
// its timeout and format from each call's arguments.
type TransferConfig struct {
	// AckTimeout is a per-chunk acknowledgement timeout; it is not passed to
	// SendBuffer, whose DefaultTransferOptions use 2 seconds
	AckTimeout time.Duration `json:"ack_timeout" yaml:"ack_timeout"`

	// MaxRetries is a resend count; SendBuffer sends each frame once and never
	// resends a chunk
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// DefaultFormat is a wire encoding name (raw, base64 or ascii); every
	// SendBuffer call names its format explicitly
	DefaultFormat string `json:"default_format" yaml:"default_format"`
}

// ClusterConfig holds cluster-related configuration (optional).
type ClusterConfig struct {
	// Enabled turns on the Redis-backed distributed endpoint-id allocator and
	// cross-bridge connect/disconnect fan-out
	Enabled bool `json:"enabled" yaml:"enabled"`

	// NodeID is the unique identifier for this bridge process
	NodeID string `json:"node_id" yaml:"node_id"`

	// EndpointCounterKey is the shared Redis key INCR'd to allocate endpoint ids
	EndpointCounterKey string `json:"endpoint_counter_key" yaml:"endpoint_counter_key"`

	// EventsChannel is the Redis pub/sub channel bridges publish connect/disconnect events on
	EventsChannel string `json:"events_channel" yaml:"events_channel"`
}

// RedisConfig holds Redis configuration.
// Required when Cluster.Enabled = true for the distributed endpoint-id allocator.
type RedisConfig struct {
	// Enabled enables the Redis client
	// Must be true when Cluster.Enabled = true
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Address is the Redis server address (host:port)
	Address string `json:"address" yaml:"address"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the maximum number of connections
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// MaxRetries is the maximum number of retries
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error)
	Level string `json:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `json:"format" yaml:"format"`

	// OutputPath is accepted from the config file but not applied: the
	// logger always writes to stdout
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			LocalAddress:         "0.0.0.0",
			LocalPort:            8890,
			RemoteAddress:        "127.0.0.1",
			RemotePort:           8891,
			DataPort:             8892,
			ReceptionBufferBytes: 208 * 1024,
		},
		Signalling: SignallingConfig{
			URL:              "ws://127.0.0.1:8080",
			HandshakeTimeout: 10 * time.Second,
			ReconnectBackoff: 2 * time.Second,
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
			MaxMessageSize:   65536,
			DataChannelLabel: "datachannel",
		},
		Transfer: TransferConfig{
			AckTimeout:    5 * time.Second,
			MaxRetries:    3,
			DefaultFormat: "raw",
		},
		Cluster: ClusterConfig{
			Enabled:            false,
			NodeID:             "",
			EndpointCounterKey: "unrealbridge:endpoint-id",
			EventsChannel:      "unrealbridge:events",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Address:    "localhost:6379",
			Password:   "",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

// Load loads configuration from a YAML file, applies environment overrides,
// and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromEnv overrides config from environment variables.
func (c *Config) loadFromEnv() {
	if url := os.Getenv("UNREALBRIDGE_SIGNALLING_URL"); url != "" {
		c.Signalling.URL = url
	}
	if redisAddr := os.Getenv("REDIS_URL"); redisAddr != "" {
		c.Redis.Address = redisAddr
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		c.Redis.Password = redisPass
	}
}

// Validate checks the configuration for internally-consistent values, mirroring
// the original's strict required-key validation: a cluster deployment without
// Redis enabled, or ports left at zero, fail loudly rather than silently
// defaulting.
func (c *Config) Validate() error {
	if c.Bridge.LocalPort <= 0 || c.Bridge.LocalPort > 65535 {
		return fmt.Errorf("config: bridge.local_port must be between 1 and 65535, got %d", c.Bridge.LocalPort)
	}
	if c.Bridge.RemotePort <= 0 || c.Bridge.RemotePort > 65535 {
		return fmt.Errorf("config: bridge.remote_port must be between 1 and 65535, got %d", c.Bridge.RemotePort)
	}
	if c.Bridge.DataPort <= 0 || c.Bridge.DataPort > 65535 {
		return fmt.Errorf("config: bridge.data_port must be between 1 and 65535, got %d", c.Bridge.DataPort)
	}
	if c.Signalling.URL == "" {
		return fmt.Errorf("config: signalling.url is required")
	}
	if c.WebRTC.MaxMessageSize <= 4 {
		return fmt.Errorf("config: webrtc.max_message_size must exceed the 4-byte envelope header, got %d", c.WebRTC.MaxMessageSize)
	}
	if c.Transfer.MaxRetries < 0 {
		return fmt.Errorf("config: transfer.max_retries must not be negative, got %d", c.Transfer.MaxRetries)
	}
	switch c.Transfer.DefaultFormat {
	case "raw", "base64", "ascii":
	default:
		return fmt.Errorf("config: transfer.default_format must be one of raw|base64|ascii, got %q", c.Transfer.DefaultFormat)
	}
	if c.Cluster.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("config: cluster.enabled requires redis.enabled")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("config: redis.enabled requires redis.address")
	}
	return nil
}
