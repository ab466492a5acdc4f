// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxPayload is the largest payload a single frame may carry; the frame
	// header reserves 15 bits for the length.
	MaxPayload = 0x7FFF

	// frameHeaderLen is the fixed two-octet frame header.
	frameHeaderLen = 2

	// commandFlag is bit 15 of the frame header, set for command frames.
	commandFlag = 0x8000
)

// Frame is the atomic binkp wire unit: a two-octet big-endian header whose
// top bit marks a command frame and whose low 15 bits hold the payload
// length, followed by the payload itself.
type Frame struct {
	IsCommand bool
	Payload   []byte
}

// NewFrame creates a Frame, enforcing the payload size bound.
func NewFrame(isCommand bool, payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d octets", ErrFrameTooLarge, len(payload))
	}

	return Frame{IsCommand: isCommand, Payload: payload}, nil
}

func (f Frame) String() string {
	if f.IsCommand {
		return fmt.Sprintf("Frame(command, %d octets)", len(f.Payload))
	}
	return fmt.Sprintf("Frame(data, %d octets)", len(f.Payload))
}

// Marshal encodes the Frame into its wire form.
func (f Frame) Marshal() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d octets", ErrFrameTooLarge, len(f.Payload))
	}

	header := uint16(len(f.Payload))
	if f.IsCommand {
		header |= commandFlag
	}

	data := make([]byte, frameHeaderLen+len(f.Payload))
	binary.BigEndian.PutUint16(data, header)
	copy(data[frameHeaderLen:], f.Payload)

	return data, nil
}

// ParseFrame decodes one Frame from the beginning of buf and returns it
// together with the number of octets consumed. It fails with
// ErrBufferTooSmall when buf holds fewer octets than the header declares.
func ParseFrame(buf []byte) (Frame, int, error) {
	if len(buf) < frameHeaderLen {
		return Frame{}, 0, fmt.Errorf("%w: %d octets, need %d header octets",
			ErrBufferTooSmall, len(buf), frameHeaderLen)
	}

	header := binary.BigEndian.Uint16(buf)
	length := int(header &^ commandFlag)

	if len(buf) < frameHeaderLen+length {
		return Frame{}, 0, fmt.Errorf("%w: %d octets, header declares %d",
			ErrBufferTooSmall, len(buf)-frameHeaderLen, length)
	}

	payload := make([]byte, length)
	copy(payload, buf[frameHeaderLen:frameHeaderLen+length])

	frame := Frame{
		IsCommand: header&commandFlag != 0,
		Payload:   payload,
	}
	return frame, frameHeaderLen + length, nil
}

// SendFrame serializes the Frame and writes it to the Connection in one
// SendAll call. Network failures abort the frame; there is no partial-frame
// recovery.
func SendFrame(conn Connection, f Frame) error {
	// The frame fits a fixed buffer of header plus maximum payload.
	var buf [frameHeaderLen + MaxPayload]byte

	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d octets", ErrFrameTooLarge, len(f.Payload))
	}

	header := uint16(len(f.Payload))
	if f.IsCommand {
		header |= commandFlag
	}

	binary.BigEndian.PutUint16(buf[:], header)
	copy(buf[frameHeaderLen:], f.Payload)

	return conn.SendAll(buf[:frameHeaderLen+len(f.Payload)])
}

// ReceiveFrame reads exactly one Frame from the Connection: first the
// two-octet header, then the declared number of payload octets. I/O errors,
// including timeouts, are fatal for the frame and surface unchanged.
func ReceiveFrame(conn Connection) (Frame, error) {
	var header [frameHeaderLen]byte
	if err := conn.RecvAll(header[:]); err != nil {
		return Frame{}, err
	}

	raw := binary.BigEndian.Uint16(header[:])
	length := int(raw &^ commandFlag)

	payload := make([]byte, length)
	if length > 0 {
		if err := conn.RecvAll(payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{
		IsCommand: raw&commandFlag != 0,
		Payload:   payload,
	}, nil
}
