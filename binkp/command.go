// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the one-octet command tag at the start of a command frame's
// payload.
type Command uint8

const (
	MNul  Command = 0
	MAdr  Command = 1
	MPwd  Command = 2
	MFile Command = 3
	MOk   Command = 4
	MEob  Command = 5
	MGot  Command = 6
	MErr  Command = 7
	MBsy  Command = 8
	MGet  Command = 9
	MSkip Command = 10
)

func (c Command) String() string {
	switch c {
	case MNul:
		return "M_NUL"
	case MAdr:
		return "M_ADR"
	case MPwd:
		return "M_PWD"
	case MFile:
		return "M_FILE"
	case MOk:
		return "M_OK"
	case MEob:
		return "M_EOB"
	case MGot:
		return "M_GOT"
	case MErr:
		return "M_ERR"
	case MBsy:
		return "M_BSY"
	case MGet:
		return "M_GET"
	case MSkip:
		return "M_SKIP"
	default:
		return fmt.Sprintf("M_UNKNOWN(%d)", uint8(c))
	}
}

// CommandFrame is the interpreted form of a command Frame: the command tag
// octet followed by an ASCII argument string.
type CommandFrame struct {
	Command Command
	Args    string
}

func NewCommandFrame(cmd Command, args string) CommandFrame {
	return CommandFrame{Command: cmd, Args: args}
}

func (cf CommandFrame) String() string {
	if cf.Args == "" {
		return cf.Command.String()
	}
	return fmt.Sprintf("%v %s", cf.Command, cf.Args)
}

// ParseCommandFrame interprets a command Frame's payload. Unrecognized
// command tags are preserved numerically; whether they are acceptable is the
// session's decision. A data frame or an empty payload is rejected.
func ParseCommandFrame(f Frame) (CommandFrame, error) {
	if !f.IsCommand {
		return CommandFrame{}, fmt.Errorf("%w: not a command frame", ErrInvalidFrame)
	}
	if len(f.Payload) == 0 {
		return CommandFrame{}, fmt.Errorf("%w: empty command frame", ErrInvalidFrame)
	}

	args := string(f.Payload[1:])
	// Some implementations NUL-terminate the argument string on the wire.
	args = strings.TrimSuffix(args, "\x00")

	return CommandFrame{
		Command: Command(f.Payload[0]),
		Args:    args,
	}, nil
}

// Frame reassembles the wire Frame: tag octet plus raw argument octets.
func (cf CommandFrame) Frame() (Frame, error) {
	payload := make([]byte, 1+len(cf.Args))
	payload[0] = byte(cf.Command)
	copy(payload[1:], cf.Args)

	return NewFrame(true, payload)
}

// FileInfo describes one file as carried in M_FILE, M_GET, M_SKIP and NDA
// arguments.
type FileInfo struct {
	// Name is the unescaped filename.
	Name string

	// Size in octets.
	Size int64

	// Timestamp is the file's modification time as Unix seconds.
	Timestamp int64

	// Offset of the first octet to be transferred.
	Offset int64
}

func (fi FileInfo) String() string {
	return fmt.Sprintf("%s %d %d %d", fi.Name, fi.Size, fi.Timestamp, fi.Offset)
}

// NewFileCommand builds "M_FILE <escaped-name> <size> <timestamp> <offset>".
func NewFileCommand(fi FileInfo) CommandFrame {
	args := fmt.Sprintf("%s %d %d %d", EscapeFilename(fi.Name), fi.Size, fi.Timestamp, fi.Offset)
	return NewCommandFrame(MFile, args)
}

// NewGotCommand builds "M_GOT <escaped-name> <bytes>", acknowledging a
// completely received file.
func NewGotCommand(name string, bytes int64) CommandFrame {
	return NewCommandFrame(MGot, fmt.Sprintf("%s %d", EscapeFilename(name), bytes))
}

// NewGetCommand builds "M_GET <escaped-name> <offset>", requesting
// retransmission from the given offset.
func NewGetCommand(name string, offset int64) CommandFrame {
	return NewCommandFrame(MGet, fmt.Sprintf("%s %d", EscapeFilename(name), offset))
}

// NewSkipCommand builds "M_SKIP <escaped-name> <size>", declining a file
// non-destructively.
func NewSkipCommand(name string, size int64) CommandFrame {
	return NewCommandFrame(MSkip, fmt.Sprintf("%s %d", EscapeFilename(name), size))
}

// ParseFileArgs parses M_FILE arguments. The trailing offset may be absent
// and defaults to zero; this tolerance applies to M_FILE only.
func ParseFileArgs(args string) (FileInfo, error) {
	name, rest, err := splitFilename(args)
	if err != nil {
		return FileInfo{}, err
	}

	fields := strings.Split(rest, " ")
	if len(fields) < 2 || len(fields) > 3 {
		return FileInfo{}, fmt.Errorf("%w: M_FILE expects 3 or 4 arguments, got %q", ErrInvalidCommand, args)
	}

	fi := FileInfo{Name: name}
	if fi.Size, err = parseUint(fields[0]); err != nil {
		return FileInfo{}, err
	}
	if fi.Timestamp, err = parseUint(fields[1]); err != nil {
		return FileInfo{}, err
	}
	if len(fields) == 3 {
		if fi.Offset, err = parseUint(fields[2]); err != nil {
			return FileInfo{}, err
		}
	}

	return fi, nil
}

// ParseAckArgs parses the "<escaped-filename> <offset-or-bytes>" arguments
// shared by M_GOT, M_GET and M_SKIP.
func ParseAckArgs(args string) (name string, n int64, err error) {
	name, rest, err := splitFilename(args)
	if err != nil {
		return "", 0, err
	}

	if strings.ContainsRune(rest, ' ') {
		return "", 0, fmt.Errorf("%w: expected 2 arguments, got %q", ErrInvalidCommand, args)
	}

	n, err = parseUint(rest)
	return name, n, err
}

// splitFilename splits an argument string at the first space and unescapes
// the filename part.
func splitFilename(args string) (name, rest string, err error) {
	idx := strings.IndexByte(args, ' ')
	if idx < 0 {
		return "", "", fmt.Errorf("%w: missing separator in %q", ErrInvalidCommand, args)
	}

	name, err = UnescapeFilename(args[:idx])
	if err != nil {
		return "", "", err
	}

	return name, args[idx+1:], nil
}

func parseUint(field string) (int64, error) {
	n, err := strconv.ParseUint(field, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: bad numeric field %q", ErrInvalidCommand, field)
	}
	return int64(n), nil
}
