// Package transport provides configuration defaults and sanitization for the
// messaging layer.
package transport

import "time"

// RateLimitConfig defines the parameters for per-connection incoming message
// rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds tunables for a Sockets instance. The zero value is usable;
// every field falls back to a sensible default.
type Config struct {
	// MaxMessageSize caps the size of a single incoming message in bytes.
	MaxMessageSize int64

	// AllowedOrigins restricts which HTTP origins may establish inbound
	// connections. Empty means any origin is accepted, which suits a
	// local example program; lock this down for anything exposed.
	AllowedOrigins []string

	// RateLimit throttles incoming messages per connection. Messages over
	// the limit are discarded, matching unreliable delivery semantics.
	RateLimit RateLimitConfig

	// SendBufferSize is the per-connection outbound queue length.
	SendBufferSize int

	// WriteTimeout bounds a single write to the peer.
	WriteTimeout time.Duration

	// PongTimeout is how long a connection may stay silent before it is
	// considered dead. Pings are sent at a fraction of this interval.
	PongTimeout time.Duration

	// HandshakeTimeout bounds outgoing connection establishment.
	HandshakeTimeout time.Duration
}

func defaultTransportConfig() Config {
	return Config{
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          16,
			RefillInterval: time.Second,
		},
		SendBufferSize:   256,
		WriteTimeout:     10 * time.Second,
		PongTimeout:      60 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

func sanitizeTransportConfig(cfg Config) Config {
	def := defaultTransportConfig()

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)

	return cfg
}
