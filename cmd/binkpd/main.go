// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

// binkpd is a binkp mailer daemon: it answers inbound sessions on the
// configured listeners and polls the configured peers, moving files between
// the outbound and inbound spool directories.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vaelen/goftn/binkp"
	"github.com/vaelen/goftn/spool"
)

// daemon holds the running state of binkpd: the shared spools, the inbound
// listeners and one poll loop per dialable peer.
type daemon struct {
	conf      tomlConfig
	passwords map[string]string

	cramMode binkp.Mode
	crcMode  binkp.Mode
	plzMode  binkp.Mode
	nrMode   binkp.Mode

	outbound *spool.Outbound
	inbound  *spool.Inbound

	listeners   []*binkp.Listener
	httpServers []*http.Server
	stopWatch   func() error

	pollMutex sync.Mutex
	triggers  []chan struct{}
	stopSyn   chan struct{}
}

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	d, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	if err := d.start(); err != nil {
		log.WithError(err).Fatal("Failed to start daemon")
	}

	waitSigint()
	log.Info("Shutting down..")

	d.close()
}

func (d *daemon) lookupPassword(address string) (string, bool) {
	password, ok := d.passwords[address]
	return password, ok
}

// sessionConfig builds the binkp.Config shared by inbound and outbound
// sessions.
func (d *daemon) sessionConfig() binkp.Config {
	return binkp.Config{
		Addresses:  d.conf.Node.Addresses,
		SystemName: d.conf.Node.System,
		Sysop:      d.conf.Node.Sysop,
		Location:   d.conf.Node.Location,
		Passwords:  d.lookupPassword,
		Source:     d.outbound,
		Sink:       d.inbound,

		CramMode: d.cramMode,
		CrcMode:  d.crcMode,
		PlzMode:  d.plzMode,
		NrMode:   d.nrMode,

		BlockSize:      d.conf.Session.BlockSize,
		FrameTimeout:   time.Duration(d.conf.Session.FrameTimeout) * time.Second,
		SessionTimeout: time.Duration(d.conf.Session.SessionTimeout) * time.Second,

		OnFileSent: func(fi binkp.FileInfo) {
			log.WithField("file", fi.Name).Info("Sent file")
		},
		OnFileReceived: func(fi binkp.FileInfo) {
			log.WithField("file", fi.Name).Info("Received file")
		},
	}
}

// start brings up the spools, the listeners, the peer poll loops and the
// outbound spool watcher.
func (d *daemon) start() (err error) {
	if d.outbound, err = spool.NewOutbound(d.conf.Spool.Outbound, d.conf.Spool.Sent); err != nil {
		return
	}
	if d.inbound, err = spool.NewInbound(d.conf.Spool.Inbound); err != nil {
		return
	}

	config := d.sessionConfig()

	for _, lst := range d.conf.Listen {
		switch lst.Protocol {
		case "", "tcp":
			server := binkp.NewListener(lst.Endpoint, config)
			if err = server.Start(); err != nil {
				return
			}
			d.listeners = append(d.listeners, server)

			log.WithField("endpoint", lst.Endpoint).Info("Listening for binkp sessions")

		case "ws":
			mux := http.NewServeMux()
			mux.Handle("/binkp", binkp.ListenWebSocket(config))

			server := &http.Server{Addr: lst.Endpoint, Handler: mux}
			go func(server *http.Server) {
				if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
					log.WithError(serveErr).Error("WebSocket listener failed")
				}
			}(server)
			d.httpServers = append(d.httpServers, server)

			log.WithField("endpoint", lst.Endpoint).Info("Listening for binkp sessions over WebSockets")

		default:
			return fmt.Errorf("unknown listen.protocol %q", lst.Protocol)
		}
	}

	for _, peer := range d.conf.Peer {
		if peer.Endpoint == "" {
			continue
		}

		trigger := make(chan struct{}, 1)
		d.triggers = append(d.triggers, trigger)
		go d.pollLoop(peer, trigger)
	}

	if len(d.triggers) > 0 {
		events, stop, watchErr := spool.Watch(d.conf.Spool.Outbound)
		if watchErr != nil {
			return watchErr
		}
		d.stopWatch = stop

		go func() {
			for range events {
				for _, trigger := range d.triggers {
					select {
					case trigger <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	return nil
}

// pollLoop dials one peer at its interval and whenever new outbound files
// appear.
func (d *daemon) pollLoop(peer peerConf, trigger <-chan struct{}) {
	interval := time.Duration(peer.Interval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.poll(peer)

	for {
		select {
		case <-d.stopSyn:
			return

		case <-ticker.C:
		case <-trigger:
		}

		d.poll(peer)
	}
}

// poll runs one originator session against a peer. Polls are serialized so
// concurrent triggers do not drain the same spool queue twice.
func (d *daemon) poll(peer peerConf) {
	d.pollMutex.Lock()
	defer d.pollMutex.Unlock()

	logger := log.WithFields(log.Fields{
		"peer":     peer.Address,
		"endpoint": peer.Endpoint,
	})

	if err := d.outbound.Refresh(); err != nil {
		logger.WithError(err).Warn("Refreshing outbound spool errored")
	}

	var (
		conn binkp.Connection
		err  error
	)
	switch peer.Protocol {
	case "", "tcp":
		conn, err = binkp.Dial(peer.Endpoint)
	case "ws":
		conn, err = binkp.DialWebSocket(peer.Endpoint)
	default:
		logger.Error("Unknown peer protocol")
		return
	}
	if err != nil {
		logger.WithError(err).Warn("Dialing peer errored")
		return
	}

	session := binkp.NewSession(conn, binkp.Originator, d.sessionConfig())
	if err := session.Run(); err != nil {
		logger.WithError(err).Warn("Session failed")
	}
	if err := session.Close(); err != nil {
		logger.WithError(err).Warn("Closing session errored")
	}
}

// close shuts the daemon down: poll loops, watcher, listeners.
func (d *daemon) close() {
	close(d.stopSyn)

	if d.stopWatch != nil {
		_ = d.stopWatch()
	}
	for _, server := range d.listeners {
		server.Close()
	}
	for _, server := range d.httpServers {
		_ = server.Close()
	}
}
