// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// In-memory FileSource and FileSink for session tests.

type nopSeekCloser struct{ *bytes.Reader }

func (nopSeekCloser) Close() error { return nil }

type memFile struct {
	fi   FileInfo
	data []byte
}

type memSource struct {
	files     []memFile
	completed map[string]bool
}

func newMemSource(files ...memFile) *memSource {
	return &memSource{files: files, completed: make(map[string]bool)}
}

func (s *memSource) Next() (FileInfo, io.ReadSeekCloser, error) {
	if len(s.files) == 0 {
		return FileInfo{}, nil, io.EOF
	}

	f := s.files[0]
	s.files = s.files[1:]
	return f.fi, nopSeekCloser{bytes.NewReader(f.data)}, nil
}

func (s *memSource) Completed(name string, sent bool) error {
	s.completed[name] = sent
	return nil
}

type memSink struct {
	partials map[string][]byte
	files    map[string][]byte
}

func newMemSink() *memSink {
	return &memSink{
		partials: make(map[string][]byte),
		files:    make(map[string][]byte),
	}
}

type memWriter struct {
	sink *memSink
	name string
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.sink.partials[w.name] = append(w.sink.partials[w.name], p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	return nil
}

func (s *memSink) Begin(fi FileInfo, offset int64) (io.WriteCloser, error) {
	data := s.partials[fi.Name]
	if int64(len(data)) < offset {
		return nil, fmt.Errorf("no partial data up to offset %d", offset)
	}

	s.partials[fi.Name] = data[:offset]
	return &memWriter{sink: s, name: fi.Name}, nil
}

func (s *memSink) PartialSize(name string, expectedSize int64) (int64, error) {
	size := int64(len(s.partials[name]))
	if size > expectedSize {
		return 0, fmt.Errorf("partial %q holds %d octets, announced size is only %d", name, size, expectedSize)
	}

	return size, nil
}

func (s *memSink) ReadPartial(name string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.partials[name])), nil
}

func (s *memSink) Commit(fi FileInfo) error {
	s.files[fi.Name] = s.partials[fi.Name]
	delete(s.partials, fi.Name)
	return nil
}

func (s *memSink) Discard(name string) error {
	delete(s.partials, name)
	return nil
}

// testPayload yields a deterministic, mildly compressible byte pattern.
func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	return data
}

func testConfig(address string, source FileSource, sink FileSink) Config {
	return Config{
		Addresses:      []string{address},
		SystemName:     "Test Node " + address,
		Source:         source,
		Sink:           sink,
		FrameTimeout:   5 * time.Second,
		SessionTimeout: 30 * time.Second,
	}
}

// runSessionPair connects an originator and an answerer over localhost TCP
// and runs both sessions to completion.
func runSessionPair(t *testing.T, origConfig, answConfig Config) (orig, answ *Session, origErr, answErr error) {
	t.Helper()

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Listen errored: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		conn, err := ln.Accept()
		if err != nil {
			answErr = err
			return
		}

		answ = NewSession(NewConnection(conn), Answerer, answConfig)
		answErr = answ.Run()
		_ = answ.Close()
	}()

	conn, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial errored: %v", err)
	}

	orig = NewSession(conn, Originator, origConfig)
	origErr = orig.Run()
	_ = orig.Close()

	wg.Wait()
	return
}

func TestSessionTransfer(t *testing.T) {
	data := testPayload(10240)
	source := newMemSource(memFile{
		fi:   FileInfo{Name: "mail.pkt", Size: int64(len(data)), Timestamp: 1680000000},
		data: data,
	})
	sink := newMemSink()

	origConfig := testConfig("1:1/1", source, nil)
	origConfig.CrcMode = ModeSupported
	origConfig.PlzMode = ModeSupported

	answConfig := testConfig("2:2/2", nil, sink)
	answConfig.CrcMode = ModeRequired

	orig, answ, origErr, answErr := runSessionPair(t, origConfig, answConfig)
	if origErr != nil {
		t.Fatalf("originator failed: %v", origErr)
	}
	if answErr != nil {
		t.Fatalf("answerer failed: %v", answErr)
	}

	if !bytes.Equal(sink.files["mail.pkt"], data) {
		t.Fatal("received file differs from the sent one")
	}
	if !source.completed["mail.pkt"] {
		t.Fatal("sent file not reported as completed")
	}

	origStats, answStats := orig.Stats(), answ.Stats()
	if origStats.FilesSent != 1 || origStats.BytesSent != uint64(len(data)) {
		t.Fatalf("originator stats = %d files, %d octets", origStats.FilesSent, origStats.BytesSent)
	}
	if answStats.FilesReceived != 1 || answStats.CrcVerified != 1 {
		t.Fatalf("answerer stats = %d files, %d verified", answStats.FilesReceived, answStats.CrcVerified)
	}
}

func TestSessionBidirectional(t *testing.T) {
	origData := testPayload(8192)
	answData := testPayload(3000)

	origSource := newMemSource(memFile{
		fi:   FileInfo{Name: "outbound.pkt", Size: int64(len(origData)), Timestamp: 1680000000},
		data: origData,
	})
	answSource := newMemSource(memFile{
		fi:   FileInfo{Name: "inbound.pkt", Size: int64(len(answData)), Timestamp: 1680000001},
		data: answData,
	})
	origSink := newMemSink()
	answSink := newMemSink()

	origConfig := testConfig("1:1/1", origSource, origSink)
	origConfig.CrcMode = ModeSupported
	origConfig.PlzMode = ModeSupported

	answConfig := testConfig("2:2/2", answSource, answSink)
	answConfig.CrcMode = ModeSupported
	answConfig.PlzMode = ModeSupported

	_, _, origErr, answErr := runSessionPair(t, origConfig, answConfig)
	if origErr != nil || answErr != nil {
		t.Fatalf("session failed: originator %v, answerer %v", origErr, answErr)
	}

	if !bytes.Equal(answSink.files["outbound.pkt"], origData) {
		t.Fatal("answerer did not receive the originator's file")
	}
	if !bytes.Equal(origSink.files["inbound.pkt"], answData) {
		t.Fatal("originator did not receive the answerer's file")
	}
}

func TestSessionCramSecure(t *testing.T) {
	data := testPayload(2048)
	source := newMemSource(memFile{
		fi:   FileInfo{Name: "secure.pkt", Size: int64(len(data)), Timestamp: 1680000000},
		data: data,
	})
	sink := newMemSink()

	password := func(string) (string, bool) { return "s3cr3t", true }

	origConfig := testConfig("1:1/1", source, nil)
	origConfig.Passwords = password
	origConfig.CramMode = ModeRequired

	answConfig := testConfig("2:2/2", nil, sink)
	answConfig.Passwords = password
	answConfig.CramMode = ModeRequired

	orig, answ, origErr, answErr := runSessionPair(t, origConfig, answConfig)
	if origErr != nil || answErr != nil {
		t.Fatalf("session failed: originator %v, answerer %v", origErr, answErr)
	}

	for role, stats := range map[string]Stats{"originator": orig.Stats(), "answerer": answ.Stats()} {
		if !stats.Secure || !stats.Authenticated {
			t.Fatalf("%s session is not secure and authenticated: %+v", role, stats)
		}
	}

	if !bytes.Equal(sink.files["secure.pkt"], data) {
		t.Fatal("received file differs from the sent one")
	}
}

func TestSessionAuthFailure(t *testing.T) {
	origConfig := testConfig("1:1/1", nil, nil)
	origConfig.Passwords = func(string) (string, bool) { return "wrong", true }

	answConfig := testConfig("2:2/2", nil, newMemSink())
	answConfig.Passwords = func(string) (string, bool) { return "right", true }
	answConfig.CramMode = ModeRequired

	_, _, origErr, answErr := runSessionPair(t, origConfig, answConfig)

	if !errors.Is(answErr, ErrAuthFailed) {
		t.Fatalf("answerer returned %v, expected ErrAuthFailed", answErr)
	}
	if origErr == nil {
		t.Fatal("originator finished cleanly against a refusing answerer")
	}
}

// captureConnection records outgoing frames and serves no inbound data; it
// stands in for a peer in single-step session tests.
type captureConnection struct {
	sent bytes.Buffer
}

func (c *captureConnection) SendAll(p []byte) error {
	c.sent.Write(p)
	return nil
}

func (c *captureConnection) RecvAll(p []byte) error {
	return fmt.Errorf("%w: no inbound data", ErrNetwork)
}

func (c *captureConnection) SetTimeout(time.Duration) {}
func (c *captureConnection) Close() error             { return nil }
func (c *captureConnection) Address() string          { return "capture" }

// sentCommands parses every frame the session wrote and returns the commands.
func (c *captureConnection) sentCommands(t *testing.T) []Command {
	t.Helper()

	var commands []Command
	buf := c.sent.Bytes()
	for len(buf) > 0 {
		frame, n, err := ParseFrame(buf)
		if err != nil {
			t.Fatalf("parsing sent frame errored: %v", err)
		}
		buf = buf[n:]

		if !frame.IsCommand {
			continue
		}
		cf, err := ParseCommandFrame(frame)
		if err != nil {
			t.Fatalf("parsing sent command errored: %v", err)
		}
		commands = append(commands, cf.Command)
	}

	return commands
}

func TestSessionDrainOverflowWithoutSink(t *testing.T) {
	conn := &captureConnection{}
	session := NewSession(conn, Answerer, testConfig("2:2/2", nil, nil))

	// Without a sink the offer is declined and its data frames drained.
	offer := NewFileCommand(FileInfo{Name: "mail.pkt", Size: 10, Timestamp: 1680000000})
	if err := session.startInbound(offer); err != nil {
		t.Fatalf("startInbound errored: %v", err)
	}
	if !session.inDiscard {
		t.Fatal("declined file did not enter discard mode")
	}

	// A peer streaming past the announced size must not crash the drain.
	if err := session.handleData(testPayload(20)); err != nil {
		t.Fatalf("oversized data frame errored: %v", err)
	}

	var skips int
	for _, cmd := range conn.sentCommands(t) {
		if cmd == MSkip {
			skips++
		}
	}
	if skips == 0 {
		t.Fatal("no M_SKIP sent for the declined file")
	}
}

func TestSessionResume(t *testing.T) {
	data := testPayload(10240)
	source := newMemSource(memFile{
		fi:   FileInfo{Name: "big.pkt", Size: int64(len(data)), Timestamp: 1680000000},
		data: data,
	})

	// The answerer already holds the first 4096 octets from a dropped
	// session.
	sink := newMemSink()
	sink.partials["big.pkt"] = append([]byte{}, data[:4096]...)

	origConfig := testConfig("1:1/1", source, nil)
	origConfig.CrcMode = ModeSupported
	origConfig.NrMode = ModeSupported

	answConfig := testConfig("2:2/2", nil, sink)
	answConfig.CrcMode = ModeSupported
	answConfig.NrMode = ModeSupported

	orig, answ, origErr, answErr := runSessionPair(t, origConfig, answConfig)
	if origErr != nil || answErr != nil {
		t.Fatalf("session failed: originator %v, answerer %v", origErr, answErr)
	}

	if !bytes.Equal(sink.files["big.pkt"], data) {
		t.Fatal("resumed file differs from the sent one")
	}

	// Only the missing octets travel; the checksum still covers the whole
	// logical file.
	if sent := orig.Stats().BytesSent; sent != uint64(len(data)-4096) {
		t.Fatalf("originator sent %d octets, expected %d", sent, len(data)-4096)
	}
	if answ.Stats().CrcVerified != 1 {
		t.Fatal("resumed file was not CRC-verified")
	}
}
