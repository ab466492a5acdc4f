// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/vaelen/goftn/binkp"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Node    nodeConf
	Logging logConf
	Spool   spoolConf
	Session sessionConf
	Listen  []listenConf
	Peer    []peerConf
}

// nodeConf describes the Node-configuration block: this system's identity.
type nodeConf struct {
	Addresses []string
	System    string
	Sysop     string
	Location  string
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// spoolConf describes the Spool-configuration block.
type spoolConf struct {
	Outbound string
	Inbound  string
	Sent     string
}

// sessionConf describes the Session-configuration block: capability modes
// ("none", "supported" or "required") and transfer tuning.
type sessionConf struct {
	Cram string
	Crc  string
	Plz  string
	Nr   string

	BlockSize      int  `toml:"block-size"`
	FrameTimeout   uint `toml:"frame-timeout"`
	SessionTimeout uint `toml:"session-timeout"`
}

// listenConf describes one Listen-configuration block.
type listenConf struct {
	Protocol string
	Endpoint string
}

// peerConf describes one Peer-configuration block. An entry without an
// endpoint only contributes its session password for inbound sessions.
type peerConf struct {
	Address  string
	Endpoint string
	Protocol string
	Password string
	Interval uint
}

// parseMode maps a configuration string onto a capability Mode.
func parseMode(value, fallback string) (binkp.Mode, error) {
	if value == "" {
		value = fallback
	}

	switch value {
	case "none":
		return binkp.ModeNone, nil
	case "supported":
		return binkp.ModeSupported, nil
	case "required":
		return binkp.ModeRequired, nil
	default:
		return binkp.ModeNone, fmt.Errorf("unknown capability mode %q", value)
	}
}

// parseLogging applies the Logging-configuration block.
func parseLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseConfig creates the daemon based on the given TOML configuration.
func parseConfig(filename string) (d *daemon, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	parseLogging(conf.Logging)

	if len(conf.Node.Addresses) == 0 {
		err = fmt.Errorf("node.addresses is empty")
		return
	}
	if conf.Spool.Outbound == "" || conf.Spool.Inbound == "" {
		err = fmt.Errorf("spool.outbound and spool.inbound must be set")
		return
	}

	d = &daemon{
		conf:      conf,
		passwords: make(map[string]string),
		stopSyn:   make(chan struct{}),
	}

	if d.cramMode, err = parseMode(conf.Session.Cram, "supported"); err != nil {
		return
	}
	if d.crcMode, err = parseMode(conf.Session.Crc, "supported"); err != nil {
		return
	}
	if d.plzMode, err = parseMode(conf.Session.Plz, "supported"); err != nil {
		return
	}
	if d.nrMode, err = parseMode(conf.Session.Nr, "supported"); err != nil {
		return
	}

	for _, peer := range conf.Peer {
		if peer.Address == "" {
			err = fmt.Errorf("peer.address is empty")
			return
		}
		if peer.Password != "" {
			d.passwords[peer.Address] = peer.Password
		}
	}

	return
}
