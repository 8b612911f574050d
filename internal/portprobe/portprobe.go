// Package portprobe finds a free TCP port by probing sequential candidates.
package portprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// MaxPort is the highest TCP port.
const MaxPort = 65535

var (
	// ErrNoPortAvailable is returned when every candidate up to MaxPort is
	// occupied.
	ErrNoPortAvailable = errors.New("no available port")

	// ErrInvalidPort is returned for a start port outside [1, MaxPort].
	ErrInvalidPort = errors.New("invalid start port")
)

// Dialer opens TCP connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober probes ports on Host one at a time.
type Prober struct {
	Host    string
	Timeout time.Duration
	Dialer  Dialer
}

// New returns a prober for localhost with a 500ms dial timeout.
func New() *Prober {
	return &Prober{Host: "localhost", Timeout: 500 * time.Millisecond}
}

// FindAvailable returns the first port at or above start that refuses a
// connection. A successful connect means the port is taken; any dial error
// means it is free. Probes are strictly sequential.
func (p *Prober) FindAvailable(ctx context.Context, start int) (int, error) {
	if start < 1 || start > MaxPort {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, start)
	}

	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: p.Timeout}
	}

	for candidate := start; candidate <= MaxPort; candidate++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, strconv.Itoa(candidate)))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return candidate, nil
		}
		conn.Close()
	}
	return 0, fmt.Errorf("%w: every port from %d to %d is in use", ErrNoPortAvailable, start, MaxPort)
}

// FindAvailable probes localhost with default settings.
func FindAvailable(ctx context.Context, start int) (int, error) {
	return New().FindAvailable(ctx, start)
}
