// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// Listener accepts inbound TCP connections and answers a binkp session on
// each of them. Every connection gets its own goroutine and its own Session
// built from the shared Config.
type Listener struct {
	listenAddress string
	config        Config

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewListener creates a Listener for the given listen address, "host:port".
// The binkp well-known port is 24554.
func NewListener(listenAddress string, config Config) *Listener {
	return &Listener{
		listenAddress: listenAddress,
		config:        config,
		stopSyn:       make(chan struct{}),
		stopAck:       make(chan struct{}),
	}
}

// Start begins accepting connections in the background.
func (serv *Listener) Start() error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", serv.listenAddress)
	if err != nil {
		return err
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err
	}

	go func(ln *net.TCPListener) {
		for {
			select {
			case <-serv.stopSyn:
				ln.Close()
				close(serv.stopAck)

				return

			default:
				ln.SetDeadline(time.Now().Add(50 * time.Millisecond))
				if conn, err := ln.Accept(); err == nil {
					go serv.handleSession(conn)
				}
			}
		}
	}(ln)

	return nil
}

func (serv *Listener) handleSession(conn net.Conn) {
	session := NewSession(NewConnection(conn), Answerer, serv.config)

	defer func() {
		if err := session.Close(); err != nil {
			log.WithFields(log.Fields{
				"listener": serv,
				"peer":     conn.RemoteAddr(),
				"error":    err,
			}).Warn("Closing answerer session errored")
		}

		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"listener": serv,
				"peer":     conn.RemoteAddr(),
				"error":    r,
			}).Warn("Answerer session panicked")
		}
	}()

	if err := session.Run(); err != nil {
		log.WithFields(log.Fields{
			"listener": serv,
			"peer":     conn.RemoteAddr(),
		}).WithError(err).Warn("Answerer session failed")
	}
}

// Close shuts this Listener down.
func (serv *Listener) Close() {
	close(serv.stopSyn)
	<-serv.stopAck
}

// Address returns a unique address string identifying this Listener.
func (serv *Listener) Address() string {
	return fmt.Sprintf("binkp://%s", serv.listenAddress)
}

func (serv *Listener) String() string {
	return serv.Address()
}
