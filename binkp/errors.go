// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import "errors"

var (
	// ErrInvalidFrame is returned for a frame which violates the binkp framing
	// rules, e.g. a command frame with an empty payload.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrFrameTooLarge is returned when a frame's payload exceeds MaxPayload.
	ErrFrameTooLarge = errors.New("frame payload too large")

	// ErrBufferTooSmall is returned when fewer octets are available than a
	// frame header declares, or when a decompressed payload exceeds its bound.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInvalidCommand is returned for malformed command arguments.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrNetwork is returned for I/O failures on the underlying Connection.
	ErrNetwork = errors.New("network error")

	// ErrTimeout is returned when a send or receive exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrAuthFailed is returned when password verification fails or a
	// required authentication capability could not be negotiated.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrProtocol is returned for any other violation of the binkp protocol.
	ErrProtocol = errors.New("protocol error")
)
