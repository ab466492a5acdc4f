// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"strings"
)

// Mode is the tri-state advertisement for a negotiated capability.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeSupported
	ModeRequired
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSupported:
		return "supported"
	case ModeRequired:
		return "required"
	default:
		return "INVALID"
	}
}

// Capability option tokens exchanged in M_NUL "OPT" lines.
const (
	OptionCRC = "CRC"
	OptionPLZ = "PLZ"
	OptionNR  = "NR"
)

// Negotiate applies the capability negotiation rule shared by CRAM gating,
// CRC, PLZ and NR. It reports whether the capability is active for the
// session, or errors when one side requires what the other does not offer.
// The rule lives here exactly once so the four extensions cannot drift.
func Negotiate(capability string, local, remote Mode) (bool, error) {
	switch {
	case local == ModeRequired && remote == ModeNone:
		return false, fmt.Errorf("%w: %s required locally, not offered by peer", ErrProtocol, capability)

	case local == ModeNone && remote == ModeRequired:
		return false, fmt.Errorf("%w: %s required by peer, not offered locally", ErrProtocol, capability)

	case local == ModeNone || remote == ModeNone:
		return false, nil

	default:
		return true, nil
	}
}

// NulLine is one "<keyword> <value>" information line carried by M_NUL.
type NulLine struct {
	Keyword string
	Value   string
}

// ParseNulArgs splits an M_NUL argument string into keyword and value.
// M_NUL lines unknown to the implementation must be ignored, so this never
// rejects a keyword; an empty argument string yields an empty keyword.
func ParseNulArgs(args string) NulLine {
	idx := strings.IndexByte(args, ' ')
	if idx < 0 {
		return NulLine{Keyword: args}
	}

	return NulLine{
		Keyword: args[:idx],
		Value:   args[idx+1:],
	}
}

// NewNulCommand builds an "M_NUL <keyword> <value>" information line.
func NewNulCommand(keyword, value string) CommandFrame {
	return NewCommandFrame(MNul, keyword+" "+value)
}

// OptionTokens splits an "OPT" value into its capability tokens.
func OptionTokens(value string) []string {
	return strings.Fields(value)
}
