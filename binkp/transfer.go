// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"io"
)

// FileSource hands outbound files to a Session. The spool package provides a
// directory-backed implementation; tests use in-memory ones.
type FileSource interface {
	// Next returns the next outbound file, or io.EOF when the source is
	// exhausted for this session. The reader must support seeking so a
	// transfer can resume at a peer-requested offset.
	Next() (FileInfo, io.ReadSeekCloser, error)

	// Completed reports a finished file. For sent == true the peer
	// acknowledged full receipt and the file may be moved or deleted; for
	// sent == false the peer skipped it and it should be retried later.
	Completed(name string, sent bool) error
}

// FileSink stores inbound files for a Session.
type FileSink interface {
	// Begin opens the named file for writing at the given offset. Offset
	// zero truncates an existing partial; a positive offset appends to it.
	Begin(fi FileInfo, offset int64) (io.WriteCloser, error)

	// PartialSize reports the size of an existing partial file, zero if
	// there is none, and an error if the partial exceeds expectedSize.
	PartialSize(name string, expectedSize int64) (int64, error)

	// ReadPartial opens the existing partial file's content for reading, so
	// a resumed transfer's checksum can cover the whole logical file.
	ReadPartial(name string) (io.ReadCloser, error)

	// Commit finalizes a completely received and verified file.
	Commit(fi FileInfo) error

	// Discard drops an incomplete or failed file's partial data.
	Discard(name string) error
}

// PasswordLookup resolves the session password for a remote FTN address.
// The second return value is false for unknown or password-less peers.
type PasswordLookup func(remoteAddress string) (password string, ok bool)

// FileTransfer is the active transfer record: at most one per direction
// exists while a file is being sent or received.
type FileTransfer struct {
	FileInfo

	// BytesTransferred counts octets moved in this session, advancing
	// monotonically from Offset towards Size.
	BytesTransferred int64

	// Crc32 is the file's announced or computed checksum, when known.
	Crc32 uint32
}

// Remaining returns the number of octets still to be moved.
func (ft *FileTransfer) Remaining() int64 {
	return ft.Size - ft.Offset - ft.BytesTransferred
}

// Done reports whether all expected octets were moved.
func (ft *FileTransfer) Done() bool {
	return ft.Offset+ft.BytesTransferred >= ft.Size
}

func (ft *FileTransfer) String() string {
	return fmt.Sprintf("%s (%d/%d octets)", ft.Name, ft.Offset+ft.BytesTransferred, ft.Size)
}
