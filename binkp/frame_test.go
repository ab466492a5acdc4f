// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"bytes"
	"errors"
	"net"
	"reflect"
	"testing"
)

func TestFrameMarshalParse(t *testing.T) {
	tests := []struct {
		frame Frame
		data  []byte
	}{
		// Command frame, M_OK without arguments.
		{Frame{IsCommand: true, Payload: []byte{0x04}}, []byte{0x80, 0x01, 0x04}},
		// Command frame, M_ADR with a short address list.
		{
			Frame{IsCommand: true, Payload: append([]byte{0x01}, []byte("2:5020/100")...)},
			append([]byte{0x80, 0x0B, 0x01}, []byte("2:5020/100")...),
		},
		// Data frame.
		{Frame{IsCommand: false, Payload: []byte("abc")}, []byte{0x00, 0x03, 0x61, 0x62, 0x63}},
		// Empty data frame.
		{Frame{IsCommand: false, Payload: []byte{}}, []byte{0x00, 0x00}},
	}

	for _, test := range tests {
		data, err := test.frame.Marshal()
		if err != nil {
			t.Fatalf("Marshal(%v) errored: %v", test.frame, err)
		}
		if !bytes.Equal(data, test.data) {
			t.Fatalf("Marshal(%v) = %x, expected %x", test.frame, data, test.data)
		}

		frame, consumed, err := ParseFrame(test.data)
		if err != nil {
			t.Fatalf("ParseFrame(%x) errored: %v", test.data, err)
		}
		if consumed != len(test.data) {
			t.Fatalf("ParseFrame(%x) consumed %d octets, expected %d", test.data, consumed, len(test.data))
		}
		if !reflect.DeepEqual(frame, test.frame) {
			t.Fatalf("ParseFrame(%x) = %v, expected %v", test.data, frame, test.frame)
		}
	}
}

func TestFrameMaxPayload(t *testing.T) {
	if _, err := NewFrame(false, make([]byte, MaxPayload)); err != nil {
		t.Fatalf("NewFrame with %d octets errored: %v", MaxPayload, err)
	}

	if _, err := NewFrame(false, make([]byte, MaxPayload+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("NewFrame with %d octets returned %v, expected ErrFrameTooLarge", MaxPayload+1, err)
	}

	oversized := Frame{IsCommand: false, Payload: make([]byte, MaxPayload+1)}
	if _, err := oversized.Marshal(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Marshal of oversized frame returned %v, expected ErrFrameTooLarge", err)
	}
}

func TestParseFrameShortBuffer(t *testing.T) {
	tests := [][]byte{
		{},
		{0x00},
		// Header declares five octets, only three follow.
		{0x00, 0x05, 0x01, 0x02, 0x03},
	}

	for _, data := range tests {
		if _, _, err := ParseFrame(data); !errors.Is(err, ErrBufferTooSmall) {
			t.Fatalf("ParseFrame(%x) returned %v, expected ErrBufferTooSmall", data, err)
		}
	}
}

func TestParseFrameTrailingData(t *testing.T) {
	// Two frames back to back; parsing must consume exactly the first.
	data := []byte{0x80, 0x01, 0x05, 0x00, 0x02, 0xAA, 0xBB}

	frame, consumed, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame errored: %v", err)
	}
	if consumed != 3 {
		t.Fatalf("ParseFrame consumed %d octets, expected 3", consumed)
	}
	if !frame.IsCommand || !bytes.Equal(frame.Payload, []byte{0x05}) {
		t.Fatalf("ParseFrame = %v, expected command frame with payload 05", frame)
	}

	frame, consumed, err = ParseFrame(data[3:])
	if err != nil {
		t.Fatalf("ParseFrame errored: %v", err)
	}
	if consumed != 4 || frame.IsCommand || !bytes.Equal(frame.Payload, []byte{0xAA, 0xBB}) {
		t.Fatalf("ParseFrame = %v (%d octets), expected data frame AABB", frame, consumed)
	}
}

func TestSendReceiveFrame(t *testing.T) {
	client, server := net.Pipe()

	frames := []Frame{
		{IsCommand: true, Payload: append([]byte{0x00}, []byte("OPT CRC PLZ")...)},
		{IsCommand: false, Payload: bytes.Repeat([]byte{0x42}, 1024)},
		{IsCommand: false, Payload: []byte{}},
	}

	go func() {
		conn := NewConnection(client)
		for _, frame := range frames {
			if err := SendFrame(conn, frame); err != nil {
				t.Errorf("SendFrame(%v) errored: %v", frame, err)
				return
			}
		}
		_ = conn.Close()
	}()

	conn := NewConnection(server)
	defer conn.Close()

	for _, expected := range frames {
		frame, err := ReceiveFrame(conn)
		if err != nil {
			t.Fatalf("ReceiveFrame errored: %v", err)
		}
		if !reflect.DeepEqual(frame, expected) {
			t.Fatalf("ReceiveFrame = %v, expected %v", frame, expected)
		}
	}
}
