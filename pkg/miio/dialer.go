package miio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/lopelex/roborock-bridge/pkg/device"
	"github.com/lopelex/roborock-bridge/pkg/log"
)

// Config holds the protocol timing of a Dialer.
type Config struct {
	// Port is used when the address carries none.
	Port int

	// CallTimeout is the wait for one response before resending.
	CallTimeout time.Duration

	// Retries is how often a request is resent.
	Retries int

	// PollInterval and MaxPollFailures are the initial session settings.
	PollInterval    time.Duration
	MaxPollFailures int
}

// DefaultConfig returns the default protocol timing.
func DefaultConfig() Config {
	return Config{
		Port:            Port,
		CallTimeout:     2 * time.Second,
		Retries:         2,
		PollInterval:    30 * time.Second,
		MaxPollFailures: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = def.MaxPollFailures
	}
	return c
}

// Dialer opens miIO sessions.
type Dialer struct {
	config   Config
	logger   *slog.Logger
	protocol log.Logger
}

// NewDialer creates a dialer. Zero config fields take the defaults.
func NewDialer(config Config, logger *slog.Logger, protocol log.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		config:   config.withDefaults(),
		logger:   logger,
		protocol: log.OrNoop(protocol),
	}
}

// Dial performs the handshake and one status query to verify the token.
func (d *Dialer) Dial(ctx context.Context, address, token string) (device.Session, error) {
	tok, err := ParseToken(token)
	if err != nil {
		return nil, &device.ConnectError{Address: address, Err: err}
	}
	codec, err := NewCodec(tok)
	if err != nil {
		return nil, &device.ConnectError{Address: address, Err: err}
	}

	target := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		target = net.JoinHostPort(address, strconv.Itoa(d.config.Port))
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "udp", target)
	if err != nil {
		return nil, &device.ConnectError{Address: address, Err: err}
	}

	s := newSession(conn, codec, address, d.config, d.logger.With("address", address), d.protocol)
	if err := s.handshake(ctx); err != nil {
		conn.Close()
		return nil, &device.ConnectError{Address: address, Err: fmt.Errorf("%w: %w", device.ErrHandshakeFailed, err)}
	}

	go s.readLoop()

	if _, err := s.FetchState(ctx); err != nil {
		s.Destroy()
		return nil, &device.ConnectError{Address: address, Err: fmt.Errorf("%w: %w", device.ErrHandshakeFailed, err)}
	}

	go s.pollLoop()
	s.logger.Info("miio session established", "device_id", s.deviceID)
	return s, nil
}

var _ device.Dialer = (*Dialer)(nil)
