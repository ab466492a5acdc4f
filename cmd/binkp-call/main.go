// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

// binkp-call runs one originator session against a binkp peer: everything in
// the outbound directory is offered, received files land in the inbound
// directory. Endpoints starting with "ws" are dialed over WebSockets.
package main

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vaelen/goftn/binkp"
	"github.com/vaelen/goftn/spool"
)

func main() {
	if len(os.Args) < 5 || len(os.Args) > 6 {
		log.Fatalf("Usage: %s host:port outbound-dir inbound-dir address [password]", os.Args[0])
	}

	var (
		endpoint    = os.Args[1]
		outboundDir = os.Args[2]
		inboundDir  = os.Args[3]
		address     = os.Args[4]

		password string
	)
	if len(os.Args) == 6 {
		password = os.Args[5]
	}

	outbound, err := spool.NewOutbound(outboundDir, "")
	if err != nil {
		log.WithError(err).Fatal("Opening outbound spool errored")
	}
	inbound, err := spool.NewInbound(inboundDir)
	if err != nil {
		log.WithError(err).Fatal("Opening inbound spool errored")
	}

	var conn binkp.Connection
	if strings.HasPrefix(endpoint, "ws") {
		conn, err = binkp.DialWebSocket(endpoint)
	} else {
		conn, err = binkp.Dial(endpoint)
	}
	if err != nil {
		log.WithError(err).Fatal("Dialing peer errored")
	}

	config := binkp.Config{
		Addresses: []string{address},
		Source:    outbound,
		Sink:      inbound,

		CramMode: binkp.ModeSupported,
		CrcMode:  binkp.ModeSupported,
		PlzMode:  binkp.ModeSupported,
		NrMode:   binkp.ModeSupported,
	}
	if password != "" {
		config.Passwords = func(string) (string, bool) {
			return password, true
		}
	}

	session := binkp.NewSession(conn, binkp.Originator, config)
	runErr := session.Run()

	stats := session.Stats()
	if err := session.Close(); err != nil {
		log.WithError(err).Warn("Closing session errored")
	}

	if runErr != nil {
		log.WithError(runErr).WithField("stats", stats).Fatal("Session failed")
	}

	log.WithFields(log.Fields{
		"files-sent":     stats.FilesSent,
		"files-received": stats.FilesReceived,
		"bytes-sent":     stats.BytesSent,
		"bytes-received": stats.BytesReceived,
		"secure":         stats.Secure,
		"duration":       stats.Duration,
	}).Info("Session finished")
}
