// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"strings"
	"time"
)

// Version announced in the M_NUL VER line.
const Version = "goftn/1.0 binkp/1.0"

// sendHandshake announces this side's identity: the M_NUL information lines,
// the OPT line with capability tokens and finally the M_ADR address list.
func (s *Session) sendHandshake(challenge string) error {
	info := []CommandFrame{
		NewNulCommand("SYS", defaulted(s.config.SystemName, "unknown")),
		NewNulCommand("ZYZ", defaulted(s.config.Sysop, "unknown")),
		NewNulCommand("LOC", defaulted(s.config.Location, "unknown")),
		NewNulCommand("VER", Version),
		NewNulCommand("TIME", time.Now().Format(time.RFC1123Z)),
	}

	if opts := s.localOptions(challenge); len(opts) > 0 {
		info = append(info, NewNulCommand("OPT", strings.Join(opts, " ")))
	}

	for _, cf := range info {
		if err := s.sendCommand(cf); err != nil {
			return err
		}
	}

	if len(s.config.Addresses) == 0 {
		return fmt.Errorf("%w: no local addresses configured", ErrProtocol)
	}

	return s.sendCommand(NewCommandFrame(MAdr, strings.Join(s.config.Addresses, " ")))
}

// localOptions collects the capability tokens this side advertises.
func (s *Session) localOptions(challenge string) []string {
	var opts []string

	if challenge != "" {
		opts = append(opts, challenge)
	}
	if s.config.CrcMode != ModeNone {
		opts = append(opts, OptionCRC)
	}
	if s.config.PlzMode != ModeNone {
		opts = append(opts, OptionPLZ)
	}
	if s.config.NrMode != ModeNone {
		opts = append(opts, OptionNR)
	}

	return opts
}

// receiveAddresses processes inbound commands until the peer's M_ADR
// arrives, handling M_NUL lines on the way.
func (s *Session) receiveAddresses() error {
	for {
		cf, err := s.receiveCommand()
		if err != nil {
			return err
		}

		switch cf.Command {
		case MNul:
			if err := s.processNul(cf); err != nil {
				return err
			}

		case MAdr:
			addresses := strings.Fields(cf.Args)
			if len(addresses) == 0 {
				return fmt.Errorf("%w: empty M_ADR address list", ErrProtocol)
			}
			s.remoteAddresses = addresses
			s.log().WithField("addresses", addresses).Debug("Received address list")
			return nil

		case MErr, MBsy:
			return s.sessionError(cf)

		default:
			return fmt.Errorf("%w: unexpected %v before address exchange", ErrProtocol, cf.Command)
		}
	}
}

// lookupPassword resolves the session password over the peer's address list,
// first match wins.
func (s *Session) lookupPassword() (string, bool) {
	if s.config.Passwords == nil {
		return "", false
	}

	for _, address := range s.remoteAddresses {
		if password, ok := s.config.Passwords(address); ok {
			return password, true
		}
	}

	return "", false
}

// finalizeOptions applies the shared negotiation rule to the CRC, PLZ and NR
// capabilities based on the peer's advertised tokens, and gates CRAM the
// same way. It is the single place the negotiated flags are set; they do not
// change again for the rest of the session.
func (s *Session) finalizeOptions() error {
	remoteMode := func(token string) Mode {
		if s.remoteOptions[token] {
			return ModeSupported
		}
		return ModeNone
	}

	s.crc.RemoteMode = remoteMode(OptionCRC)
	if err := s.crc.Negotiate(); err != nil {
		return err
	}

	s.plz.RemoteMode = remoteMode(OptionPLZ)
	if err := s.plz.Negotiate(); err != nil {
		return err
	}

	s.nr.RemoteMode = remoteMode(OptionNR)
	if err := s.nr.Negotiate(); err != nil {
		return err
	}

	// CRAM gating follows the identical rule: an authenticated session is
	// required, optional or off. Failure here is an authentication error,
	// never a silent downgrade.
	cramRemote := ModeNone
	if s.remoteCram != "" || s.authenticated {
		cramRemote = ModeSupported
	}
	if _, err := Negotiate("CRAM", s.config.CramMode, cramRemote); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	s.log().WithFields(map[string]interface{}{
		"crc":    s.crc.Negotiated,
		"plz":    s.plz.Negotiated,
		"nr":     s.nr.Negotiated,
		"secure": s.secure,
	}).Info("Negotiated session options")

	return nil
}

func defaulted(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
