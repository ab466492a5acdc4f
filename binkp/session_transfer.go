// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"hash/crc32"
	"io"

	log "github.com/sirupsen/logrus"
)

// This file contains the shared transfer phase, T0. Both sides alternate
// between offering their next outbound file, streaming its data frames and
// servicing inbound traffic; the phase ends once both sides sent M_EOB and
// no transfer is left open.

// maxCrcRetries bounds how often a file failing its CRC check is requested
// again via M_GET before it is skipped.
const maxCrcRetries = 1

// handleTransfer performs one step of the transfer phase.
func (s *Session) handleTransfer() error {
	if s.sentEOB && s.recvEOB && s.out == nil && s.in == nil {
		s.state = StateDone
		return nil
	}

	if s.out == nil && !s.sentEOB {
		return s.nextOutbound()
	}

	if s.out != nil && !s.outStreamed && !s.awaitingNda {
		return s.streamOutbound()
	}

	return s.receiveTransferFrame()
}

// nextOutbound fetches the next file from the source and offers it with
// M_FILE, or signals M_EOB once the source is exhausted.
func (s *Session) nextOutbound() error {
	if s.config.Source == nil {
		return s.sendEOB()
	}

	fi, reader, err := s.config.Source.Next()
	if err == io.EOF {
		return s.sendEOB()
	} else if err != nil {
		return fmt.Errorf("%w: file source: %v", ErrProtocol, err)
	}

	s.out = &FileTransfer{FileInfo: fi}
	s.outReader = reader
	s.outStreamed = false

	if s.crc.Negotiated {
		sum, err := checksumReader(reader)
		if err != nil {
			return fmt.Errorf("%w: checksumming %q: %v", ErrProtocol, fi.Name, err)
		}
		s.out.Crc32 = sum
	}

	s.log().WithField("file", s.out).Info("Offering file")

	if err := s.sendCommand(NewFileCommand(fi)); err != nil {
		return err
	}
	if s.crc.Negotiated {
		if err := s.sendCommand(NewCrcCommand(fi.Name, fi.Size, s.out.Crc32)); err != nil {
			return err
		}
	}

	// With resume mode the receiver's NDA offer decides the start offset
	// before any data flows.
	s.awaitingNda = s.nr.Negotiated

	return nil
}

func (s *Session) sendEOB() error {
	if err := s.sendCommand(NewCommandFrame(MEob, "")); err != nil {
		return err
	}

	s.sentEOB = true
	return nil
}

// streamOutbound sends the current outbound file's data frames, starting at
// its offset. The reader stays open until the peer acknowledges with M_GOT,
// so a later M_GET can rewind and resend.
func (s *Session) streamOutbound() error {
	if _, err := s.outReader.Seek(s.out.Offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking %q to %d: %v", ErrProtocol, s.out.Name, s.out.Offset, err)
	}

	buf := make([]byte, s.config.BlockSize)
	for !s.out.Done() {
		n, err := io.ReadFull(s.outReader, buf[:min64(int64(len(buf)), s.out.Remaining())])
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: reading %q: %v", ErrProtocol, s.out.Name, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %q ended %d octets early", ErrProtocol, s.out.Name, s.out.Remaining())
		}

		payload, err := s.plz.Compress(buf[:n])
		if err != nil {
			return err
		}

		if err := SendFrame(s.conn, Frame{IsCommand: false, Payload: payload}); err != nil {
			return err
		}

		s.out.BytesTransferred += int64(n)
		s.bytesSent += uint64(n)
	}

	s.outStreamed = true
	s.log().WithField("file", s.out).Debug("Finished streaming, awaiting M_GOT")

	return nil
}

// receiveTransferFrame receives one frame and dispatches it: data frames
// feed the active inbound transfer, command frames drive the protocol.
func (s *Session) receiveTransferFrame() error {
	frame, err := ReceiveFrame(s.conn)
	if err != nil {
		return err
	}

	if !frame.IsCommand {
		return s.handleData(frame.Payload)
	}

	cf, err := ParseCommandFrame(frame)
	if err != nil {
		return err
	}
	s.log().WithField("cmd", cf).Debug("Received command")

	switch cf.Command {
	case MNul:
		return s.processNul(cf)

	case MFile:
		return s.startInbound(cf)

	case MGot:
		return s.handleGot(cf)

	case MGet:
		return s.handleGet(cf)

	case MSkip:
		return s.handleSkip(cf)

	case MEob:
		s.recvEOB = true
		return nil

	case MErr, MBsy:
		return s.sessionError(cf)

	default:
		return fmt.Errorf("%w: unexpected %v during transfer", ErrProtocol, cf.Command)
	}
}

// processNda reacts to the receiver's resume offer for the currently offered
// outbound file. Streaming begins from the offered offset on the next step.
func (s *Session) processNda(value string) error {
	offer, err := ParseNdaArgs(value)
	if err != nil {
		return err
	}

	if s.out == nil || !s.awaitingNda || offer.Name != s.out.Name {
		s.log().WithField("nda", value).Debug("Ignoring unexpected NDA offer")
		return nil
	}

	if offer.Offset > s.out.Size {
		return fmt.Errorf("%w: NDA offset %d beyond file size %d", ErrProtocol, offer.Offset, s.out.Size)
	}

	s.out.Offset = offer.Offset
	s.awaitingNda = false

	s.log().WithFields(log.Fields{
		"file":   s.out.Name,
		"offset": offer.Offset,
	}).Debug("Resume offer accepted")

	return nil
}

// startInbound reacts to the peer's M_FILE. With resume mode the sink's
// partial decides the offset and an NDA offer announces it; the running
// checksum is primed with the partial's content so verification covers the
// whole logical file.
func (s *Session) startInbound(cf CommandFrame) error {
	fi, err := ParseFileArgs(cf.Args)
	if err != nil {
		return err
	}

	if s.in != nil {
		return fmt.Errorf("%w: M_FILE %q while %q is still open", ErrProtocol, fi.Name, s.in.Name)
	}

	if s.config.Sink == nil {
		return s.declineInbound(fi, "no inbound sink configured", !s.nr.Negotiated)
	}

	offset := fi.Offset
	if s.nr.Negotiated {
		partial, err := s.config.Sink.PartialSize(fi.Name, fi.Size)
		if err != nil {
			return s.declineInbound(fi, err.Error(), false)
		}
		offset = partial

		if err := s.sendCommand(NewNdaCommand(fi, offset)); err != nil {
			return err
		}
	}

	fi.Offset = offset
	writer, err := s.config.Sink.Begin(fi, offset)
	if err != nil {
		return s.declineInbound(fi, err.Error(), true)
	}

	s.in = &FileTransfer{FileInfo: fi}
	s.in.Offset = offset
	s.inWriter = writer
	s.inDiscard = false

	s.crc.StartFile(fi.Name)
	if sum, ok := s.expectedCrcs[fi.Name]; ok {
		s.crc.SetExpected(sum)
	}

	if offset > 0 && s.crc.Negotiated {
		if err := s.primeInboundCrc(fi.Name); err != nil {
			return s.abortInbound(fi, err)
		}
	}

	s.log().WithField("file", s.in).Info("Receiving file")

	if s.in.Done() {
		return s.finishInbound()
	}

	return nil
}

// declineInbound refuses an offered file with M_SKIP. With expectData the
// sender is already streaming, so the file's data frames are drained; in
// resume mode a sender still waiting for the NDA offer never streams and the
// M_SKIP alone resolves the offer.
func (s *Session) declineInbound(fi FileInfo, reason string, expectData bool) error {
	s.log().WithFields(log.Fields{
		"file":   fi.Name,
		"reason": reason,
	}).Warn("Skipping inbound file")

	if err := s.sendCommand(NewSkipCommand(fi.Name, fi.Size)); err != nil {
		return err
	}

	if expectData && fi.Size > fi.Offset {
		s.in = &FileTransfer{FileInfo: fi}
		s.inWriter = nil
		s.inDiscard = true
		s.crc.Abort()
	}

	return nil
}

// abortInbound drops the active inbound file after a file-level failure and
// switches to draining its remaining data frames.
func (s *Session) abortInbound(fi FileInfo, cause error) error {
	s.log().WithError(cause).WithField("file", fi.Name).Error("Aborting inbound file")

	if s.inWriter != nil {
		_ = s.inWriter.Close()
		s.inWriter = nil
	}

	// A transfer already in discard mode never opened a partial, and a
	// session without a sink has nothing to discard.
	if s.config.Sink != nil && !s.inDiscard {
		if err := s.config.Sink.Discard(fi.Name); err != nil {
			s.log().WithError(err).Warn("Discarding partial file errored")
		}
	}

	s.crc.Abort()

	if err := s.sendCommand(NewSkipCommand(fi.Name, fi.Size)); err != nil {
		return err
	}

	if s.in != nil && !s.in.Done() {
		s.inDiscard = true
	} else {
		s.in = nil
		s.inDiscard = false
	}

	return nil
}

// primeInboundCrc replays the on-disk partial through the running checksum,
// so a resumed file's final CRC check covers all of its octets.
func (s *Session) primeInboundCrc(name string) error {
	reader, err := s.config.Sink.ReadPartial(name)
	if err != nil {
		return err
	}
	defer reader.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			s.crc.Update(buf[:n])
		}
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// handleData appends one data frame to the active inbound transfer.
func (s *Session) handleData(payload []byte) error {
	if s.in == nil {
		return fmt.Errorf("%w: data frame without an active file", ErrProtocol)
	}

	data, err := s.plz.Decompress(payload)
	if err != nil {
		// A corrupt compressed stream destroys the raw octet accounting,
		// so the session cannot resynchronize on the next file.
		return err
	}

	if int64(len(data)) > s.in.Remaining() {
		return s.abortInbound(s.in.FileInfo, fmt.Errorf("%w: %d octets beyond announced size",
			ErrProtocol, int64(len(data))-s.in.Remaining()))
	}

	if !s.inDiscard {
		if _, err := s.inWriter.Write(data); err != nil {
			return s.abortInbound(s.in.FileInfo, err)
		}
		s.crc.Update(data)
		s.bytesReceived += uint64(len(data))
	}

	s.in.BytesTransferred += int64(len(data))

	if s.in.Done() {
		if s.inDiscard {
			s.in = nil
			s.inDiscard = false
			return nil
		}
		return s.finishInbound()
	}

	return nil
}

// finishInbound closes the completely received file: verify, commit and
// acknowledge, or request one retransmission after a checksum mismatch.
func (s *Session) finishInbound() error {
	fi := s.in.FileInfo

	if err := s.inWriter.Close(); err != nil {
		s.inWriter = nil
		return s.abortInbound(fi, err)
	}
	s.inWriter = nil

	if !s.crc.FinishFile() {
		return s.retryInbound(fi)
	}

	if err := s.config.Sink.Commit(fi); err != nil {
		s.in = nil
		s.log().WithError(err).WithField("file", fi.Name).Error("Committing file errored")
		_ = s.config.Sink.Discard(fi.Name)
		return s.sendCommand(NewSkipCommand(fi.Name, fi.Size))
	}

	s.in = nil
	delete(s.expectedCrcs, fi.Name)
	delete(s.crcRetries, fi.Name)
	s.filesReceived++

	s.log().WithField("file", fi.Name).Info("Received file")

	if err := s.sendCommand(NewGotCommand(fi.Name, fi.Size)); err != nil {
		return err
	}

	if s.config.OnFileReceived != nil {
		s.config.OnFileReceived(fi)
	}

	return nil
}

// retryInbound reacts to a CRC mismatch: the file is never kept, and one
// retransmission is requested with M_GET before giving up with M_SKIP.
func (s *Session) retryInbound(fi FileInfo) error {
	s.in = nil
	_ = s.config.Sink.Discard(fi.Name)

	if s.crcRetries == nil {
		s.crcRetries = make(map[string]int)
	}
	s.crcRetries[fi.Name]++

	s.log().WithFields(log.Fields{
		"file":    fi.Name,
		"attempt": s.crcRetries[fi.Name],
	}).Error("CRC mismatch on received file")

	if s.crcRetries[fi.Name] > maxCrcRetries {
		return s.sendCommand(NewSkipCommand(fi.Name, fi.Size))
	}

	// Re-arm the inbound transfer from octet zero; the sender restarts
	// streaming without a second M_FILE.
	writer, err := s.config.Sink.Begin(fi, 0)
	if err != nil {
		return s.sendCommand(NewSkipCommand(fi.Name, fi.Size))
	}

	s.in = &FileTransfer{FileInfo: fi}
	s.in.Offset = 0
	s.inWriter = writer
	s.crc.StartFile(fi.Name)
	if sum, ok := s.expectedCrcs[fi.Name]; ok {
		s.crc.SetExpected(sum)
	}

	return s.sendCommand(NewGetCommand(fi.Name, 0))
}

// handleGot finishes the current outbound file: the peer has it.
func (s *Session) handleGot(cf CommandFrame) error {
	name, _, err := ParseAckArgs(cf.Args)
	if err != nil {
		return err
	}

	if s.out == nil || s.out.Name != name {
		s.log().WithField("file", name).Debug("Ignoring M_GOT for unknown file")
		return nil
	}

	return s.closeOutbound(true)
}

// handleSkip declines the current outbound file non-destructively; it will
// be offered again in a later session.
func (s *Session) handleSkip(cf CommandFrame) error {
	name, _, err := ParseAckArgs(cf.Args)
	if err != nil {
		return err
	}

	if s.out == nil || s.out.Name != name {
		s.log().WithField("file", name).Debug("Ignoring M_SKIP for unknown file")
		return nil
	}

	s.log().WithField("file", name).Warn("Peer skipped file")
	return s.closeOutbound(false)
}

// handleGet rewinds the current outbound file to the requested offset and
// streams it again.
func (s *Session) handleGet(cf CommandFrame) error {
	name, offset, err := ParseAckArgs(cf.Args)
	if err != nil {
		return err
	}

	if s.out == nil || s.out.Name != name {
		s.log().WithField("file", name).Debug("Ignoring M_GET for unknown file")
		return nil
	}

	if offset > s.out.Size {
		return fmt.Errorf("%w: M_GET offset %d beyond file size %d", ErrProtocol, offset, s.out.Size)
	}

	s.log().WithFields(log.Fields{
		"file":   name,
		"offset": offset,
	}).Info("Peer requested retransmission")

	s.out.Offset = offset
	s.out.BytesTransferred = 0
	s.outStreamed = false
	s.awaitingNda = false

	return nil
}

// closeOutbound releases the current outbound file and reports it to the
// source: sent files may be moved or deleted, skipped ones retried later.
func (s *Session) closeOutbound(sent bool) error {
	fi := s.out.FileInfo

	if err := s.outReader.Close(); err != nil {
		s.log().WithError(err).Warn("Closing outbound file errored")
	}
	s.outReader = nil
	s.out = nil
	s.outStreamed = false
	s.awaitingNda = false

	if err := s.config.Source.Completed(fi.Name, sent); err != nil {
		s.log().WithError(err).WithField("file", fi.Name).Warn("Completing outbound file errored")
	}

	if sent {
		s.filesSent++
		if s.config.OnFileSent != nil {
			s.config.OnFileSent(fi)
		}
	}

	return nil
}

// checksumReader computes the IEEE CRC32 over the reader's whole content and
// rewinds it afterwards.
func checksumReader(reader io.ReadSeeker) (uint32, error) {
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	var sum uint32
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			sum = crc32.Update(sum, crc32Table(), buf[:n])
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	return sum, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
