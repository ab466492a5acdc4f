// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// DefaultFrameTimeout is used by Connections before SetTimeout was called.
const DefaultFrameTimeout = 60 * time.Second

// Connection is the byte-stream a Session operates on. Implementations must
// offer blocking send/recv with a per-operation timeout; the socket layer
// itself, TLS and DNS are outside this package's scope.
type Connection interface {
	// SendAll writes all of p or fails with an error wrapping ErrNetwork or
	// ErrTimeout.
	SendAll(p []byte) error

	// RecvAll reads exactly len(p) octets or fails with an error wrapping
	// ErrNetwork or ErrTimeout.
	RecvAll(p []byte) error

	// SetTimeout changes the per-operation deadline for following calls.
	SetTimeout(timeout time.Duration)

	// Close shuts the connection down. Further calls will error.
	Close() error

	// Address returns the peer's address for logging.
	Address() string
}

// classifyNetError maps an I/O error onto the binkp error taxonomy,
// distinguishing ErrTimeout from ErrNetwork.
func classifyNetError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork) {
		return err
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// tcpConnection is the plain TCP Connection used by Dial and Listener.
type tcpConnection struct {
	conn    net.Conn
	timeout time.Duration
}

// NewConnection wraps an established net.Conn as a binkp Connection.
func NewConnection(conn net.Conn) Connection {
	return &tcpConnection{
		conn:    conn,
		timeout: DefaultFrameTimeout,
	}
}

// Dial establishes a TCP connection to a binkp peer, "host:port". The binkp
// well-known port is 24554.
func Dial(address string) (Connection, error) {
	conn, err := net.DialTimeout("tcp", address, DefaultFrameTimeout)
	if err != nil {
		return nil, classifyNetError(err)
	}

	return NewConnection(conn), nil
}

func (tc *tcpConnection) SendAll(p []byte) error {
	if err := tc.conn.SetWriteDeadline(time.Now().Add(tc.timeout)); err != nil {
		return classifyNetError(err)
	}

	for len(p) > 0 {
		n, err := tc.conn.Write(p)
		if err != nil {
			return classifyNetError(err)
		}
		p = p[n:]
	}

	return nil
}

func (tc *tcpConnection) RecvAll(p []byte) error {
	if err := tc.conn.SetReadDeadline(time.Now().Add(tc.timeout)); err != nil {
		return classifyNetError(err)
	}

	if _, err := io.ReadFull(tc.conn, p); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: connection closed by peer", ErrNetwork)
		}
		return classifyNetError(err)
	}

	return nil
}

func (tc *tcpConnection) SetTimeout(timeout time.Duration) {
	tc.timeout = timeout
}

func (tc *tcpConnection) Close() error {
	return tc.conn.Close()
}

func (tc *tcpConnection) Address() string {
	return tc.conn.RemoteAddr().String()
}
