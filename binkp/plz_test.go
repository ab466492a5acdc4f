// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"bytes"
	"testing"
)

func negotiatedPlz(t *testing.T) (sender, receiver PlzContext) {
	t.Helper()

	sender = PlzContext{LocalMode: ModeSupported, RemoteMode: ModeSupported}
	receiver = PlzContext{LocalMode: ModeSupported, RemoteMode: ModeSupported}

	if err := sender.Negotiate(); err != nil {
		t.Fatalf("Negotiate errored: %v", err)
	}
	if err := receiver.Negotiate(); err != nil {
		t.Fatalf("Negotiate errored: %v", err)
	}

	return
}

func TestPlzRoundTrip(t *testing.T) {
	sender, receiver := negotiatedPlz(t)

	raw := bytes.Repeat([]byte("all work and no play "), 200)

	wire, err := sender.Compress(raw)
	if err != nil {
		t.Fatalf("Compress errored: %v", err)
	}
	if len(wire) >= len(raw) {
		t.Fatalf("compressible payload grew from %d to %d octets", len(raw), len(wire))
	}

	restored, err := receiver.Decompress(wire)
	if err != nil {
		t.Fatalf("Decompress errored: %v", err)
	}
	if !bytes.Equal(restored, raw) {
		t.Fatal("round trip changed the payload")
	}

	if ratio := sender.Ratio(); ratio >= 1 {
		t.Fatalf("Ratio = %f, expected < 1 for compressible data", ratio)
	}
}

func TestPlzIdentityWithoutNegotiation(t *testing.T) {
	ctx := PlzContext{LocalMode: ModeSupported, RemoteMode: ModeNone}
	if err := ctx.Negotiate(); err != nil {
		t.Fatalf("Negotiate errored: %v", err)
	}
	if ctx.Negotiated {
		t.Fatal("PLZ negotiated against a peer without the option")
	}

	raw := []byte("payload stays as it is")

	wire, err := ctx.Compress(raw)
	if err != nil {
		t.Fatalf("Compress errored: %v", err)
	}
	if !bytes.Equal(wire, raw) {
		t.Fatal("Compress modified the payload without negotiation")
	}

	restored, err := ctx.Decompress(wire)
	if err != nil {
		t.Fatalf("Decompress errored: %v", err)
	}
	if !bytes.Equal(restored, raw) {
		t.Fatal("Decompress modified the payload without negotiation")
	}

	if ratio := ctx.Ratio(); ratio != 1 {
		t.Fatalf("Ratio = %f, expected 1", ratio)
	}
}

func TestPlzRawFallback(t *testing.T) {
	// A sender keeps incompressible payloads raw; the receiver must accept a
	// payload without a zlib header as uncompressed.
	_, receiver := negotiatedPlz(t)

	raw := []byte{0xFF, 0x10, 0x80, 0x7F, 0x00, 0xA5, 0x5A, 0x21}

	restored, err := receiver.Decompress(raw)
	if err != nil {
		t.Fatalf("Decompress errored: %v", err)
	}
	if !bytes.Equal(restored, raw) {
		t.Fatal("raw fallback changed the payload")
	}
}

func TestPlzCompressReusesStream(t *testing.T) {
	sender, receiver := negotiatedPlz(t)

	// Consecutive frames must each inflate on their own; the deflater is
	// reset between frames.
	for i := 0; i < 3; i++ {
		raw := bytes.Repeat([]byte{byte('a' + i)}, 4096)

		wire, err := sender.Compress(raw)
		if err != nil {
			t.Fatalf("Compress errored: %v", err)
		}

		// The returned slice is only valid until the next call, as on the
		// wire each frame is sent before the next one is built.
		restored, err := receiver.Decompress(wire)
		if err != nil {
			t.Fatalf("Decompress of frame %d errored: %v", i, err)
		}
		if !bytes.Equal(restored, raw) {
			t.Fatalf("frame %d changed in the round trip", i)
		}
	}
}

func TestPlzLevels(t *testing.T) {
	raw := bytes.Repeat([]byte("fidonet echomail packet "), 512)

	for _, level := range []PlzLevel{PlzDefault, PlzFast, PlzNormal, PlzBest} {
		sender := PlzContext{LocalMode: ModeSupported, RemoteMode: ModeSupported, Level: level}
		receiver := PlzContext{LocalMode: ModeSupported, RemoteMode: ModeSupported}
		if err := sender.Negotiate(); err != nil {
			t.Fatalf("Negotiate errored: %v", err)
		}
		if err := receiver.Negotiate(); err != nil {
			t.Fatalf("Negotiate errored: %v", err)
		}

		wire, err := sender.Compress(raw)
		if err != nil {
			t.Fatalf("Compress at level %v errored: %v", level, err)
		}

		restored, err := receiver.Decompress(wire)
		if err != nil {
			t.Fatalf("Decompress at level %v errored: %v", level, err)
		}
		if !bytes.Equal(restored, raw) {
			t.Fatalf("level %v changed the payload", level)
		}
	}
}
