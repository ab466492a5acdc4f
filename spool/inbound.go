// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vaelen/goftn/binkp"
)

// partSuffix marks incomplete inbound files. A partial survives a dropped
// session and seeds the resume offset of the next one.
const partSuffix = ".part"

// Inbound is a directory-backed file sink. Data is written to a ".part"
// partial and renamed into place on Commit, so the spool never contains a
// half-received file under its final name.
type Inbound struct {
	dir string
}

// NewInbound creates an Inbound spool over dir, creating it if missing.
func NewInbound(dir string) (*Inbound, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &Inbound{dir: dir}, nil
}

func (in *Inbound) partPath(name string) string {
	return filepath.Join(in.dir, safeName(name)+partSuffix)
}

// PartialSize returns the octets already present for the named file, zero
// without a partial. A partial larger than the announced size cannot be
// resumed and is rejected.
func (in *Inbound) PartialSize(name string, expectedSize int64) (int64, error) {
	stat, err := os.Stat(in.partPath(name))
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	if stat.Size() > expectedSize {
		return 0, fmt.Errorf("partial %q holds %d octets, announced size is only %d",
			name, stat.Size(), expectedSize)
	}

	return stat.Size(), nil
}

// Begin opens the partial for writing at offset. Content past the offset is
// dropped, so a rewound retransmission starts from a clean slate.
func (in *Inbound) Begin(fi binkp.FileInfo, offset int64) (io.WriteCloser, error) {
	file, err := os.OpenFile(in.partPath(fi.Name), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	if err := file.Truncate(offset); err != nil {
		_ = file.Close()
		return nil, err
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, err
	}

	return file, nil
}

// ReadPartial opens the partial for reading, from octet zero.
func (in *Inbound) ReadPartial(name string) (io.ReadCloser, error) {
	return os.Open(in.partPath(name))
}

// Commit renames the complete partial to its final name and applies the
// announced modification time. An existing file under the final name is kept
// and the new one uniquified with a numeric suffix.
func (in *Inbound) Commit(fi binkp.FileInfo) error {
	final := filepath.Join(in.dir, safeName(fi.Name))

	for i := 1; ; i++ {
		if _, err := os.Stat(final); os.IsNotExist(err) {
			break
		} else if err != nil {
			return err
		}

		final = filepath.Join(in.dir, fmt.Sprintf("%s.%d", safeName(fi.Name), i))
	}

	if err := os.Rename(in.partPath(fi.Name), final); err != nil {
		return err
	}

	if fi.Timestamp > 0 {
		mtime := time.Unix(fi.Timestamp, 0)
		if err := os.Chtimes(final, time.Now(), mtime); err != nil {
			return err
		}
	}

	return nil
}

// Discard removes the partial; a missing one is not an error.
func (in *Inbound) Discard(name string) error {
	if err := os.Remove(in.partPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
