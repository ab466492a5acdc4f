// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
)

// This file contains the originator's state handlers, S0 through S7.

// handleConnInit (S0) announces this side's identity and capabilities. The
// originator never issues a CRAM challenge; it answers the answerer's one.
func (s *Session) handleConnInit() error {
	if err := s.sendHandshake(""); err != nil {
		return err
	}

	s.state = StateWaitConn
	return nil
}

// handleWaitConn (S1) waits for the answerer's handshake, which carries its
// M_NUL option lines (including a possible CRAM challenge) and M_ADR.
func (s *Session) handleWaitConn() error {
	if err := s.receiveAddresses(); err != nil {
		return err
	}

	s.state = StateSendPasswd
	return nil
}

// handleSendPasswd (S2) sends M_PWD: a CRAM response when the answerer
// offered a challenge and a password is configured, the plaintext password
// without a challenge, or "-" for password-less sessions.
func (s *Session) handleSendPasswd() error {
	password, ok := s.lookupPassword()
	s.password = password

	var pwdArg string
	switch {
	case ok && s.remoteCram != "":
		s.cram = NewCramContext()
		if err := s.cram.AcceptChallenge(s.remoteCram); err != nil {
			return err
		}

		response, err := s.cram.CreateResponse(password)
		if err != nil {
			return err
		}
		pwdArg = response
		s.authenticated = true

	case ok:
		pwdArg = password

	default:
		pwdArg = "-"
	}

	if err := s.sendCommand(NewCommandFrame(MPwd, pwdArg)); err != nil {
		return err
	}

	s.state = StateWaitAddr
	return nil
}

// handleWaitAddr (S3) validates the received address list. The addresses
// already arrived during S1; a peer announcing none is rejected.
func (s *Session) handleWaitAddr() error {
	if len(s.remoteAddresses) == 0 {
		return fmt.Errorf("%w: peer announced no addresses", ErrProtocol)
	}

	s.state = StateAuthRemote
	return nil
}

// handleAuthRemote (S4) decides the expected security of the session: a
// configured password means the peer must be treated as a secured link.
func (s *Session) handleAuthRemote() error {
	s.secure = s.password != ""

	s.state = StateIfSecure
	return nil
}

// handleIfSecure (S5) enforces the local authentication policy before
// waiting for the answerer's verdict.
func (s *Session) handleIfSecure() error {
	if s.config.CramMode == ModeRequired && !s.authenticated {
		return fmt.Errorf("%w: authenticated session required, no password or challenge available", ErrAuthFailed)
	}

	s.state = StateWaitOk
	return nil
}

// handleWaitOk (S6) waits for M_OK. A secure session that the answerer
// downgrades to non-secure is an authentication failure, not a fallback.
func (s *Session) handleWaitOk() error {
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

		case MOk:
			if s.secure && cf.Args != "secure" {
				return fmt.Errorf("%w: expected secure session, answerer reports %q", ErrAuthFailed, cf.Args)
			}
			s.secure = cf.Args == "secure"
			s.state = StateOpts
			return nil

		case MErr, MBsy:
			return s.sessionError(cf)

		default:
			return fmt.Errorf("%w: unexpected %v while waiting for M_OK", ErrProtocol, cf.Command)
		}
	}
}

// handleOpts (S7) finalizes the capability negotiation and enters the
// transfer phase.
func (s *Session) handleOpts() error {
	if err := s.finalizeOptions(); err != nil {
		return err
	}

	s.state = StateTransfer
	return nil
}
