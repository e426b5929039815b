// Package connectivity decides whether the device can currently reach the internet.
package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	shiperr "github.com/airfi/edgeship/internal/errors"
)

// Default probe target and timeout.
const (
	DefaultAddress = "google.com:443"
	DefaultTimeout = 3 * time.Second
)

// Monitor reports whether the remote side is believed reachable.
// Implementations never return an error: a failed probe means offline.
type Monitor interface {
	IsOnline(ctx context.Context) bool
}

// Dialer is the net.Dialer subset used by DialProbe.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialProbe checks connectivity by opening a TCP connection to a well-known address.
type DialProbe struct {
	address string
	timeout time.Duration
	dialer  Dialer
	logger  *zap.Logger
}

// NewDialProbe creates a probe for address bounded by timeout.
func NewDialProbe(address string, timeout time.Duration, logger *zap.Logger) *DialProbe {
	if address == "" {
		address = DefaultAddress
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DialProbe{
		address: address,
		timeout: timeout,
		dialer:  &net.Dialer{},
		logger:  logger,
	}
}

// WithDialer replaces the dialer, for tests.
func (p *DialProbe) WithDialer(d Dialer) *DialProbe {
	p.dialer = d
	return p
}

// IsOnline dials the probe address. DNS failures, refusals and timeouts all
// report offline and are logged at debug level.
func (p *DialProbe) IsOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		p.logger.Debug("connectivity probe failed",
			zap.Error(shiperr.NewConnectivityError("dial "+p.address, err)))
		return false
	}
	conn.Close()
	return true
}

// Static is a Monitor with a fixed, settable answer.
type Static struct {
	online atomic.Bool
}

// NewStatic creates a Static monitor.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Set changes the reported state.
func (s *Static) Set(online bool) {
	s.online.Store(online)
}

// IsOnline returns the configured state.
func (s *Static) IsOnline(ctx context.Context) bool {
	return s.online.Load()
}
