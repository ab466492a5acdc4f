// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"sync"
)

// CRC file integrity, FTS-1030. Both sides advertise the "CRC" option token;
// once negotiated the sender announces each file's CRC32 with an out-of-band
// "CRC <filename> <size> 0x<8 hex digits>" line and the receiver verifies a
// running checksum over the received data.

var (
	crcTableOnce sync.Once
	crcTable     *crc32.Table
)

// crc32Table returns the process-wide IEEE CRC32 lookup table (polynomial
// 0xEDB88320), built lazily exactly once and read-only afterwards.
func crc32Table() *crc32.Table {
	crcTableOnce.Do(func() {
		crcTable = crc32.MakeTable(crc32.IEEE)
	})

	return crcTable
}

// Crc32 computes the IEEE CRC32 of data. The empty input yields 0.
func Crc32(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table())
}

// CrcContext holds one session's CRC negotiation state, the running per-file
// checksum and the cumulative verification counters.
type CrcContext struct {
	LocalMode  Mode
	RemoteMode Mode
	Negotiated bool

	// Per-file state, valid between StartFile and FinishFile.
	filename string
	sum      uint32
	expected uint32
	hasCrc   bool
	active   bool

	// Cumulative counters.
	FilesVerified uint64
	FilesFailed   uint64
	BytesVerified uint64
}

// Negotiate applies the shared tri-state rule for the CRC capability. The
// negotiated flag does not change again for the rest of the session.
func (c *CrcContext) Negotiate() error {
	negotiated, err := Negotiate(OptionCRC, c.LocalMode, c.RemoteMode)
	if err != nil {
		return err
	}

	c.Negotiated = negotiated
	return nil
}

// StartFile resets the running checksum for a new inbound file. The expected
// CRC arrives separately via SetExpected once the peer's CRC line is seen.
func (c *CrcContext) StartFile(filename string) {
	c.filename = filename
	c.sum = 0
	c.expected = 0
	c.hasCrc = false
	c.active = true
}

// SetExpected records the announced CRC32 for the named file. An
// announcement for a different file than the active one is kept pending by
// the session, not here.
func (c *CrcContext) SetExpected(expected uint32) {
	c.expected = expected
	c.hasCrc = true
}

// Update feeds one received chunk into the running checksum.
func (c *CrcContext) Update(data []byte) {
	if !c.active {
		return
	}

	c.sum = crc32.Update(c.sum, crc32Table(), data)
	c.BytesVerified += uint64(len(data))
}

// Sum returns the current value of the running checksum.
func (c *CrcContext) Sum() uint32 {
	return c.sum
}

// FinishFile closes the active file and reports whether it verified. When
// CRC was not negotiated, or the peer never announced a checksum, the file
// passes unconditionally. The session must never accept an invalid file as
// successfully transferred.
func (c *CrcContext) FinishFile() bool {
	if !c.active {
		return true
	}
	c.active = false

	if !c.Negotiated || !c.hasCrc {
		return true
	}

	if c.sum != c.expected {
		c.FilesFailed++
		return false
	}

	c.FilesVerified++
	return true
}

// Abort drops the active file without counting it as verified or failed.
func (c *CrcContext) Abort() {
	c.active = false
}

// NewCrcCommand builds the out-of-band "CRC <filename> <size> 0x<8-hex>"
// M_NUL line announcing a file's full checksum.
func NewCrcCommand(name string, size int64, sum uint32) CommandFrame {
	return NewNulCommand(OptionCRC, fmt.Sprintf("%s %d 0x%08X", EscapeFilename(name), size, sum))
}

// ParseCrcArgs parses the value of a "CRC" M_NUL line.
func ParseCrcArgs(value string) (name string, size int64, sum uint32, err error) {
	name, rest, err := splitFilename(value)
	if err != nil {
		return "", 0, 0, err
	}

	fields := strings.Split(rest, " ")
	if len(fields) != 2 {
		return "", 0, 0, fmt.Errorf("%w: CRC expects 3 arguments, got %q", ErrInvalidCommand, value)
	}

	if size, err = parseUint(fields[0]); err != nil {
		return "", 0, 0, err
	}

	hexPart := strings.TrimPrefix(fields[1], "0x")
	if hexPart == fields[1] {
		hexPart = strings.TrimPrefix(fields[1], "0X")
	}
	if len(hexPart) != 8 {
		return "", 0, 0, fmt.Errorf("%w: CRC value %q is not 8 hex digits", ErrInvalidCommand, fields[1])
	}

	value64, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: bad CRC value %q", ErrInvalidCommand, fields[1])
	}

	return name, size, uint32(value64), nil
}
