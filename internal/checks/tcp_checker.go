package checks

import (
	"context"
	"net"
	"time"
)

type TCPChecker struct {
	name    string
	address string
	dialer  net.Dialer
}

func NewTCPChecker(name, address string, timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &TCPChecker{
		name:    name,
		address: address,
		dialer:  net.Dialer{Timeout: timeout},
	}
}

func (t *TCPChecker) Name() string {
	return t.name
}

func (t *TCPChecker) Run(ctx context.Context) Result {
	start := time.Now()

	conn, err := t.dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return failure(t.name, t.address, start, err)
	}
	_ = conn.Close()

	return Result{
		Name:     t.name,
		Target:   t.address,
		OK:       true,
		Duration: time.Since(start),
	}
}
