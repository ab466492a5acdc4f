// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spool

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/vaelen/goftn/binkp"
)

// Outbound is a directory-backed file source. Refresh snapshots the queue;
// Next walks it in name order. Sent files are moved to the sent directory,
// or deleted when none is configured. Skipped files stay queued for the next
// session.
type Outbound struct {
	dir     string
	sentDir string

	mutex sync.Mutex
	queue []string
}

// NewOutbound creates an Outbound spool over dir. A non-empty sentDir
// receives successfully sent files; both directories are created if missing.
func NewOutbound(dir, sentDir string) (*Outbound, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if sentDir != "" {
		if err := os.MkdirAll(sentDir, 0755); err != nil {
			return nil, err
		}
	}

	out := &Outbound{dir: dir, sentDir: sentDir}
	return out, out.Refresh()
}

// Refresh re-reads the spool directory into the queue, name order. Dot files
// and partials are not queued.
func (out *Outbound) Refresh() error {
	entries, err := os.ReadDir(out.dir)
	if err != nil {
		return err
	}

	out.mutex.Lock()
	defer out.mutex.Unlock()

	out.queue = out.queue[:0]
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isSpoolName(entry.Name()) {
			continue
		}
		out.queue = append(out.queue, entry.Name())
	}
	sort.Strings(out.queue)

	return nil
}

// Next pops the next queued file, io.EOF once the queue is drained. Files
// vanishing between Refresh and Next are skipped silently.
func (out *Outbound) Next() (binkp.FileInfo, io.ReadSeekCloser, error) {
	for {
		out.mutex.Lock()
		if len(out.queue) == 0 {
			out.mutex.Unlock()
			break
		}
		name := out.queue[0]
		out.queue = out.queue[1:]
		out.mutex.Unlock()

		path := filepath.Join(out.dir, name)
		stat, err := os.Stat(path)
		if err != nil || !stat.Mode().IsRegular() {
			continue
		}

		file, err := os.Open(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("Opening queued file errored, skipping")
			continue
		}

		return binkp.FileInfo{
			Name:      name,
			Size:      stat.Size(),
			Timestamp: stat.ModTime().Unix(),
		}, file, nil
	}

	return binkp.FileInfo{}, nil, io.EOF
}

// Completed removes a sent file from the spool, moving it to the sent
// directory when one is configured. Skipped files stay put.
func (out *Outbound) Completed(name string, sent bool) error {
	if !sent {
		return nil
	}

	path := filepath.Join(out.dir, safeName(name))
	if out.sentDir != "" {
		return os.Rename(path, filepath.Join(out.sentDir, safeName(name)))
	}

	return os.Remove(path)
}

// Watch reports names of files created in dir on the returned channel until
// the stop function is called. It lets a daemon trigger a poll as soon as
// new outbound mail is spooled instead of waiting for the next interval.
func Watch(dir string) (<-chan string, func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, err
	}

	events := make(chan string)
	go func() {
		defer close(events)

		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					return
				}

				if e.Op&fsnotify.Create == 0 {
					log.WithFields(log.Fields{
						"file":      e.Name,
						"operation": e.Op.String(),
					}).Debug("Ignoring fsnotify event")
					continue
				}

				if name := filepath.Base(e.Name); isSpoolName(name) {
					events <- name
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				log.WithError(err).Error("fsnotify errored")
				return
			}
		}
	}()

	return events, watcher.Close, nil
}

// isSpoolName reports whether a directory entry belongs to the queue: no dot
// files, no partials.
func isSpoolName(name string) bool {
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, partSuffix)
}

// safeName reduces a peer-supplied filename to a single path component.
func safeName(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		return "unnamed"
	}
	return base
}
