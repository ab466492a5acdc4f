// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"os"
	"strings"
)

// NR non-reliable resume mode, FTS-1028. Both sides advertise the "NR"
// option token; once negotiated the receiver answers each M_FILE with an
// out-of-band "NDA <filename> <size> <timestamp> <offset>" resume offer and
// the sender streams from the offered offset instead of octet zero.

const ndaKeyword = "NDA"

// NrContext holds one session's resume negotiation state. The resume offset
// of the file in flight lives on its FileTransfer record.
type NrContext struct {
	LocalMode  Mode
	RemoteMode Mode
	Negotiated bool
}

// Negotiate applies the shared tri-state rule for the NR capability.
func (n *NrContext) Negotiate() error {
	negotiated, err := Negotiate(OptionNR, n.LocalMode, n.RemoteMode)
	if err != nil {
		return err
	}

	n.Negotiated = negotiated
	return nil
}

// CheckPartialFile inspects an on-disk partial file and computes the resume
// offset: a size between zero and the expected full size resumes there, a
// missing file starts from zero, and a partial larger than the announced
// size is a protocol error, never silently truncated.
func CheckPartialFile(path string, expectedSize int64) (int64, error) {
	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("%w: stat partial file: %v", ErrProtocol, err)
	}

	if stat.Size() > expectedSize {
		return 0, fmt.Errorf("%w: partial file %q has %d octets, expected at most %d",
			ErrProtocol, path, stat.Size(), expectedSize)
	}

	return stat.Size(), nil
}

// NewNdaCommand builds the out-of-band "NDA <filename> <size> <timestamp>
// <offset>" M_NUL line offering a resume position to the sender.
func NewNdaCommand(fi FileInfo, offset int64) CommandFrame {
	return NewNulCommand(ndaKeyword,
		fmt.Sprintf("%s %d %d %d", EscapeFilename(fi.Name), fi.Size, fi.Timestamp, offset))
}

// ParseNdaArgs parses the value of an "NDA" M_NUL line. The returned
// FileInfo's Offset is the offered resume offset.
func ParseNdaArgs(value string) (FileInfo, error) {
	name, rest, err := splitFilename(value)
	if err != nil {
		return FileInfo{}, err
	}

	fields := strings.Split(rest, " ")
	if len(fields) != 3 {
		return FileInfo{}, fmt.Errorf("%w: NDA expects 4 arguments, got %q", ErrInvalidCommand, value)
	}

	fi := FileInfo{Name: name}
	if fi.Size, err = parseUint(fields[0]); err != nil {
		return FileInfo{}, err
	}
	if fi.Timestamp, err = parseUint(fields[1]); err != nil {
		return FileInfo{}, err
	}
	if fi.Offset, err = parseUint(fields[2]); err != nil {
		return FileInfo{}, err
	}

	return fi, nil
}
