// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// PLZ stream compression, FTS-1029. Only data frames are compressed; command
// frames always pass through unmodified. The sender transmits whichever
// representation is smaller. Once PLZ is negotiated the receiver attempts
// inflation on every data frame and treats a payload without a valid zlib
// header as uncompressed.

// PlzLevel selects the deflate compression level.
type PlzLevel int

const (
	PlzDefault PlzLevel = iota
	PlzFast
	PlzNormal
	PlzBest
)

func (l PlzLevel) String() string {
	switch l {
	case PlzFast:
		return "fast"
	case PlzNormal:
		return "normal"
	case PlzBest:
		return "best"
	default:
		return "default"
	}
}

func (l PlzLevel) zlibLevel() int {
	switch l {
	case PlzFast:
		return zlib.BestSpeed
	case PlzNormal:
		return 6
	case PlzBest:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}

// maxInflatedLen bounds a single frame's decompressed size against a
// malicious or corrupt peer.
const maxInflatedLen = 4 * MaxPayload

// PlzContext holds one session's compression negotiation state, the reused
// codec stream and the cumulative byte counters.
type PlzContext struct {
	LocalMode  Mode
	RemoteMode Mode
	Negotiated bool
	Level      PlzLevel

	deflater   *zlib.Writer
	deflateBuf bytes.Buffer
	inflateBuf bytes.Buffer

	// Counters for the compression-ratio statistic.
	RawSent        uint64
	WireSent       uint64
	WireReceived   uint64
	RawReceived    uint64
}

// Negotiate applies the shared tri-state rule for the PLZ capability.
func (p *PlzContext) Negotiate() error {
	negotiated, err := Negotiate(OptionPLZ, p.LocalMode, p.RemoteMode)
	if err != nil {
		return err
	}

	p.Negotiated = negotiated
	return nil
}

// Compress prepares a data frame payload for sending. Without negotiation
// the payload passes through unchanged; otherwise it is deflated and the
// smaller representation wins. The returned slice is only valid until the
// next Compress call.
func (p *PlzContext) Compress(data []byte) ([]byte, error) {
	p.RawSent += uint64(len(data))

	if !p.Negotiated {
		p.WireSent += uint64(len(data))
		return data, nil
	}

	p.deflateBuf.Reset()
	if p.deflater == nil {
		deflater, err := zlib.NewWriterLevel(&p.deflateBuf, p.Level.zlibLevel())
		if err != nil {
			return nil, fmt.Errorf("%w: deflate init: %v", ErrProtocol, err)
		}
		p.deflater = deflater
	} else {
		p.deflater.Reset(&p.deflateBuf)
	}

	if _, err := p.deflater.Write(data); err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrProtocol, err)
	}
	if err := p.deflater.Close(); err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrProtocol, err)
	}

	if compressed := p.deflateBuf.Bytes(); len(compressed) < len(data) {
		p.WireSent += uint64(len(compressed))
		return compressed, nil
	}

	p.WireSent += uint64(len(data))
	return data, nil
}

// Decompress restores a received data frame payload. Without negotiation the
// payload passes through unchanged. With negotiation, inflation is attempted
// unconditionally; a payload that does not start a zlib stream is taken as
// uncompressed. The output is bounded by four maximum frame sizes, growing
// the working buffer as needed up to that ceiling; exceeding it fails with
// ErrBufferTooSmall, which aborts the current file rather than the session.
func (p *PlzContext) Decompress(data []byte) ([]byte, error) {
	p.WireReceived += uint64(len(data))

	if !p.Negotiated {
		p.RawReceived += uint64(len(data))
		return data, nil
	}

	inflater, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		// Not a zlib stream: the sender transmitted the raw payload.
		p.RawReceived += uint64(len(data))
		return data, nil
	}
	defer inflater.Close()

	p.inflateBuf.Reset()
	if _, err := io.Copy(&p.inflateBuf, io.LimitReader(inflater, maxInflatedLen+1)); err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrProtocol, err)
	}
	if p.inflateBuf.Len() > maxInflatedLen {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d octets", ErrBufferTooSmall, maxInflatedLen)
	}

	p.RawReceived += uint64(p.inflateBuf.Len())
	return p.inflateBuf.Bytes(), nil
}

// Ratio reports the outbound compression ratio, wire octets per raw octet.
func (p *PlzContext) Ratio() float64 {
	if p.RawSent == 0 {
		return 1
	}

	return float64(p.WireSent) / float64(p.RawSent)
}
