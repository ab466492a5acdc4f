// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
)

// This file contains the answerer's state handlers, R0 through R5.

// handleRWaitConn (R0) announces this side's identity. With authentication
// enabled, a fresh CRAM challenge is generated and carried in the OPT line.
func (s *Session) handleRWaitConn() error {
	var challenge string

	if s.config.CramMode != ModeNone {
		s.cram = NewCramContext()
		if err := s.cram.GenerateChallenge(); err != nil {
			return err
		}
		challenge = s.cram.OptionString()
	}

	if err := s.sendHandshake(challenge); err != nil {
		return err
	}

	s.state = StateRWaitAddr
	return nil
}

// handleRWaitAddr (R1) waits for the originator's handshake and address
// list.
func (s *Session) handleRWaitAddr() error {
	if err := s.receiveAddresses(); err != nil {
		return err
	}

	s.state = StateRIsPasswd
	return nil
}

// handleRIsPasswd (R2) resolves the session password for the announced
// addresses. The originator always sends M_PWD, so the session proceeds to
// R3 either way; an unknown peer simply gets a non-secure session later.
func (s *Session) handleRIsPasswd() error {
	password, ok := s.lookupPassword()
	if ok {
		s.password = password
	} else if s.config.CramMode == ModeRequired {
		return fmt.Errorf("%w: no password configured for %v but authentication is required",
			ErrAuthFailed, s.remoteAddresses)
	}

	s.state = StateRWaitPwd
	return nil
}

// handleRWaitPwd (R3) waits for the originator's M_PWD.
func (s *Session) handleRWaitPwd() error {
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

		case MPwd:
			s.receivedPwd = cf.Args
			s.state = StateRPwdAck
			return nil

		case MErr, MBsy:
			return s.sessionError(cf)

		default:
			return fmt.Errorf("%w: unexpected %v while waiting for M_PWD", ErrProtocol, cf.Command)
		}
	}
}

// handleRPwdAck (R4) verifies the password and acknowledges with M_OK.
// Verification uses constant-time comparison for both the CRAM digest and
// the plaintext fallback. A failure is fatal for the session.
func (s *Session) handleRPwdAck() error {
	switch {
	case s.password == "":
		// Password-less peer: accept any M_PWD argument, session stays
		// non-secure.

	case IsCramToken(s.receivedPwd):
		if s.cram == nil {
			return fmt.Errorf("%w: CRAM response without a challenge", ErrAuthFailed)
		}
		if err := s.cram.VerifyResponse(s.password, s.receivedPwd); err != nil {
			return err
		}
		s.secure = true
		s.authenticated = true

	default:
		if s.config.CramMode == ModeRequired {
			return fmt.Errorf("%w: plaintext password refused, CRAM is required", ErrAuthFailed)
		}
		if !secureCompare(s.receivedPwd, s.password) {
			return fmt.Errorf("%w: password mismatch", ErrAuthFailed)
		}
		s.secure = true
	}

	verdict := "non-secure"
	if s.secure {
		verdict = "secure"
	}
	if err := s.sendCommand(NewCommandFrame(MOk, verdict)); err != nil {
		return err
	}

	s.state = StateROpts
	return nil
}

// handleROpts (R5) finalizes the capability negotiation and enters the
// transfer phase.
func (s *Session) handleROpts() error {
	if err := s.finalizeOptions(); err != nil {
		return err
	}

	s.state = StateTransfer
	return nil
}
