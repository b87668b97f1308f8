// Package config holds Z-Mesh's tunables as a Config struct configured
// through functional options, the pattern the protocol engine's teacher
// uses throughout (see pkg/node's NodeOption / NewWithOptions in the
// project this module is descended from).
package config

import "time"

// Config carries every tunable named in the external configuration
// surface. Zero values are never valid; use Default() or New(opts...).
type Config struct {
	ChunkPayloadMax   int
	ChunkTimeout      time.Duration
	MaxRetries        int
	NegotiateTimeout  time.Duration
	FinalTimeout      time.Duration
	RecvIdleTimeout   time.Duration
	DiscoveryInterval time.Duration
	NodeActiveWindow  time.Duration
	TxBurst           int
	TxRateHz          float64
	SNRChangeThresh   float64
	TickInterval      time.Duration
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		ChunkPayloadMax:   120,
		ChunkTimeout:      30 * time.Second,
		MaxRetries:        5,
		NegotiateTimeout:  30 * time.Second,
		FinalTimeout:      60 * time.Second,
		RecvIdleTimeout:   120 * time.Second,
		DiscoveryInterval: 60 * time.Second,
		NodeActiveWindow:  600 * time.Second,
		TxBurst:           3,
		TxRateHz:          1,
		SNRChangeThresh:   3.0,
		TickInterval:      time.Second,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// maxChunkPayload is the largest chunk that still base64-encodes into a
// DATA frame ("D|<10-char tid>|<up to 5-digit idx>|<base64>") within
// codec.MaxFramePayload: 19 bytes of framing overhead leaves 181 bytes for
// the base64 body, and base64 grows by 4/3, so 135 raw bytes (180 encoded)
// is the most that fits.
const maxChunkPayload = 135

// WithChunkPayloadMax clamps to 16..maxChunkPayload bytes, the range that
// both meets the spec's documented floor and still fits a DATA frame's
// wire budget.
func WithChunkPayloadMax(n int) Option {
	return func(c *Config) {
		if n < 16 {
			n = 16
		}
		if n > maxChunkPayload {
			n = maxChunkPayload
		}
		c.ChunkPayloadMax = n
	}
}

func WithChunkTimeout(d time.Duration) Option    { return func(c *Config) { c.ChunkTimeout = d } }
func WithMaxRetries(n int) Option                { return func(c *Config) { c.MaxRetries = n } }
func WithNegotiateTimeout(d time.Duration) Option { return func(c *Config) { c.NegotiateTimeout = d } }
func WithFinalTimeout(d time.Duration) Option    { return func(c *Config) { c.FinalTimeout = d } }
func WithRecvIdleTimeout(d time.Duration) Option { return func(c *Config) { c.RecvIdleTimeout = d } }
func WithDiscoveryInterval(d time.Duration) Option {
	return func(c *Config) { c.DiscoveryInterval = d }
}
func WithNodeActiveWindow(d time.Duration) Option { return func(c *Config) { c.NodeActiveWindow = d } }
func WithTxBurst(n int) Option                    { return func(c *Config) { c.TxBurst = n } }
func WithTxRateHz(hz float64) Option              { return func(c *Config) { c.TxRateHz = hz } }
func WithSNRChangeThreshold(db float64) Option    { return func(c *Config) { c.SNRChangeThresh = db } }
func WithTickInterval(d time.Duration) Option     { return func(c *Config) { c.TickInterval = d } }

// New builds a Config from Default() with opts applied in order.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}
