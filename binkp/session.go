// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Role of a Session: the originator dialed the connection, the answerer
// accepted it.
type Role uint8

const (
	Originator Role = iota
	Answerer
)

func (r Role) String() string {
	switch r {
	case Originator:
		return "originator"
	case Answerer:
		return "answerer"
	default:
		return "INVALID"
	}
}

// SessionState enumerates the binkp session state machine: the originator's
// S0-S7 path, the answerer's R0-R5 path and the shared transfer tail. A
// session only moves forward, or into StateError.
type SessionState uint8

const (
	// Originator states.
	StateConnInit SessionState = iota
	StateWaitConn
	StateSendPasswd
	StateWaitAddr
	StateAuthRemote
	StateIfSecure
	StateWaitOk
	StateOpts

	// Answerer states.
	StateRWaitConn
	StateRWaitAddr
	StateRIsPasswd
	StateRWaitPwd
	StateRPwdAck
	StateROpts

	// Shared tail.
	StateTransfer
	StateDone
	StateError
)

func (st SessionState) String() string {
	switch st {
	case StateConnInit:
		return "S0:conn-init"
	case StateWaitConn:
		return "S1:wait-conn"
	case StateSendPasswd:
		return "S2:send-passwd"
	case StateWaitAddr:
		return "S3:wait-addr"
	case StateAuthRemote:
		return "S4:auth-remote"
	case StateIfSecure:
		return "S5:if-secure"
	case StateWaitOk:
		return "S6:wait-ok"
	case StateOpts:
		return "S7:opts"
	case StateRWaitConn:
		return "R0:wait-conn"
	case StateRWaitAddr:
		return "R1:wait-addr"
	case StateRIsPasswd:
		return "R2:is-passwd"
	case StateRWaitPwd:
		return "R3:wait-pwd"
	case StateRPwdAck:
		return "R4:pwd-ack"
	case StateROpts:
		return "R5:opts"
	case StateTransfer:
		return "T0:transfer"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "INVALID"
	}
}

// Config carries a Session's identity, collaborators and capability modes.
type Config struct {
	// Addresses is this side's FTN address list, most specific first.
	Addresses []string

	// SystemName, Sysop and Location are announced in M_NUL info lines.
	SystemName string
	Sysop      string
	Location   string

	// Passwords resolves session passwords by remote address. A nil lookup
	// means all sessions are password-less.
	Passwords PasswordLookup

	// Source and Sink move files; either may be nil for a one-way session.
	Source FileSource
	Sink   FileSink

	// CramMode gates authentication: ModeRequired refuses unauthenticated
	// sessions, ModeSupported uses CRAM when the peer offers it, ModeNone
	// disables challenges on the answerer side.
	CramMode Mode

	// Capability modes for the negotiated extensions.
	CrcMode Mode
	PlzMode Mode
	NrMode  Mode

	// PlzLevel selects the deflate level once PLZ is negotiated.
	PlzLevel PlzLevel

	// BlockSize is the data frame payload size, capped at MaxPayload.
	BlockSize int

	// FrameTimeout bounds one send or receive; SessionTimeout bounds the
	// whole session.
	FrameTimeout   time.Duration
	SessionTimeout time.Duration

	// OnFileSent and OnFileReceived are invoked after a file was fully
	// acknowledged resp. received, verified and committed.
	OnFileSent     func(FileInfo)
	OnFileReceived func(FileInfo)
}

// DefaultBlockSize is the data frame payload size used when the Config does
// not specify one.
const DefaultBlockSize = 16 * 1024

// DefaultSessionTimeout bounds a whole session when the Config does not
// specify one.
const DefaultSessionTimeout = 30 * time.Minute

// Stats is a snapshot of a Session's transfer counters.
type Stats struct {
	FilesSent     uint64
	FilesReceived uint64
	BytesSent     uint64
	BytesReceived uint64

	CrcVerified uint64
	CrcFailed   uint64

	// CompressionRatio is outbound wire octets per raw octet; 1 without PLZ.
	CompressionRatio float64

	Secure        bool
	Authenticated bool
	Duration      time.Duration
}

// Session drives one binkp session over one Connection. It is strictly
// single-threaded: every send and receive is a blocking call bounded by the
// frame timeout, and any network or protocol error moves the session into
// its terminal error state.
type Session struct {
	conn   Connection
	role   Role
	config Config

	state SessionState
	err   error

	secure        bool
	authenticated bool
	password      string

	remoteAddresses []string
	peerInfo        map[string]string
	remoteOptions   map[string]bool
	remoteCram      string
	receivedPwd     string

	cram *CramContext
	crc  CrcContext
	plz  PlzContext
	nr   NrContext

	// Transfer phase state.
	out          *FileTransfer
	outReader    io.ReadSeekCloser
	outStreamed  bool
	awaitingNda  bool
	in           *FileTransfer
	inWriter     io.WriteCloser
	inDiscard    bool
	sentEOB      bool
	recvEOB      bool
	expectedCrcs map[string]uint32
	crcRetries   map[string]int

	filesSent     uint64
	filesReceived uint64
	bytesSent     uint64
	bytesReceived uint64

	started  time.Time
	deadline time.Time
}

// NewSession creates a Session for the given role on an established
// Connection. The Session takes ownership of the Connection.
func NewSession(conn Connection, role Role, config Config) *Session {
	if config.BlockSize <= 0 || config.BlockSize > MaxPayload {
		config.BlockSize = DefaultBlockSize
	}
	if config.FrameTimeout <= 0 {
		config.FrameTimeout = DefaultFrameTimeout
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = DefaultSessionTimeout
	}

	state := StateConnInit
	if role == Answerer {
		state = StateRWaitConn
	}

	return &Session{
		conn:   conn,
		role:   role,
		config: config,
		state:  state,

		peerInfo:      make(map[string]string),
		remoteOptions: make(map[string]bool),
		expectedCrcs:  make(map[string]uint32),

		crc: CrcContext{LocalMode: config.CrcMode},
		plz: PlzContext{LocalMode: config.PlzMode, Level: config.PlzLevel},
		nr:  NrContext{LocalMode: config.NrMode},
	}
}

// log prepares a log entry with predefined session data.
func (s *Session) log() *log.Entry {
	return log.WithFields(log.Fields{
		"peer":  s.conn.Address(),
		"role":  s.role,
		"state": s.state,
	})
}

// Run drives the session until it is finished or failed. The returned error
// is nil for a clean shutdown; the caller must tear down the connection
// either way and, for scheduled peers, retry at the next poll interval.
func (s *Session) Run() error {
	s.started = time.Now()
	s.deadline = s.started.Add(s.config.SessionTimeout)
	s.conn.SetTimeout(s.config.FrameTimeout)

	s.log().Info("Starting binkp session")

	for {
		switch s.state {
		case StateDone:
			s.log().WithField("stats", s.Stats()).Info("Session finished")
			return nil

		case StateError:
			s.log().WithError(s.err).Error("Session failed")
			return s.err
		}

		if time.Now().After(s.deadline) {
			s.fail(fmt.Errorf("%w: session timeout exceeded", ErrTimeout))
			continue
		}

		var handler func() error
		switch s.state {
		case StateConnInit:
			handler = s.handleConnInit
		case StateWaitConn:
			handler = s.handleWaitConn
		case StateSendPasswd:
			handler = s.handleSendPasswd
		case StateWaitAddr:
			handler = s.handleWaitAddr
		case StateAuthRemote:
			handler = s.handleAuthRemote
		case StateIfSecure:
			handler = s.handleIfSecure
		case StateWaitOk:
			handler = s.handleWaitOk
		case StateOpts:
			handler = s.handleOpts
		case StateRWaitConn:
			handler = s.handleRWaitConn
		case StateRWaitAddr:
			handler = s.handleRWaitAddr
		case StateRIsPasswd:
			handler = s.handleRIsPasswd
		case StateRWaitPwd:
			handler = s.handleRWaitPwd
		case StateRPwdAck:
			handler = s.handleRPwdAck
		case StateROpts:
			handler = s.handleROpts
		case StateTransfer:
			handler = s.handleTransfer
		default:
			s.fail(fmt.Errorf("%w: illegal state %v", ErrProtocol, s.state))
			continue
		}

		if err := handler(); err != nil {
			s.fail(err)
		}
	}
}

// fail moves the session into the terminal error state. A best-effort M_ERR
// tells the peer why, unless the connection itself is broken.
func (s *Session) fail(err error) {
	if s.state == StateError {
		return
	}

	s.log().WithError(err).Warn("State handler errored")

	if !errors.Is(err, ErrNetwork) && !errors.Is(err, ErrTimeout) {
		if sendErr := s.sendCommand(NewCommandFrame(MErr, err.Error())); sendErr != nil {
			s.log().WithError(sendErr).Debug("Sending M_ERR errored")
		}
	}

	s.err = err
	s.state = StateError
}

// Close releases the session's resources: the active transfer's file handles
// and the connection. It must be called on every exit path.
func (s *Session) Close() error {
	var errs *multierror.Error

	if s.outReader != nil {
		if err := s.outReader.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		s.outReader = nil
	}

	if s.inWriter != nil {
		if err := s.inWriter.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		s.inWriter = nil

		if s.in != nil && s.config.Sink != nil && !s.nr.Negotiated {
			// Without resume mode a leftover partial is useless.
			if err := s.config.Sink.Discard(s.in.Name); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	if err := s.conn.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

// Stats returns a snapshot of the session's transfer counters.
func (s *Session) Stats() Stats {
	duration := time.Since(s.started)
	if s.started.IsZero() {
		duration = 0
	}

	return Stats{
		FilesSent:        s.filesSent,
		FilesReceived:    s.filesReceived,
		BytesSent:        s.bytesSent,
		BytesReceived:    s.bytesReceived,
		CrcVerified:      s.crc.FilesVerified,
		CrcFailed:        s.crc.FilesFailed,
		CompressionRatio: s.plz.Ratio(),
		Secure:           s.secure,
		Authenticated:    s.authenticated,
		Duration:         duration,
	}
}

// RemoteAddresses returns the peer's announced FTN address list.
func (s *Session) RemoteAddresses() []string {
	return s.remoteAddresses
}

// sendCommand marshals and sends one command frame.
func (s *Session) sendCommand(cf CommandFrame) error {
	frame, err := cf.Frame()
	if err != nil {
		return err
	}

	if err := SendFrame(s.conn, frame); err != nil {
		return err
	}

	s.log().WithField("cmd", cf).Debug("Sent command")
	return nil
}

// receiveCommand reads frames until a command frame arrives, failing on data
// frames since those are only valid in the transfer phase.
func (s *Session) receiveCommand() (CommandFrame, error) {
	frame, err := ReceiveFrame(s.conn)
	if err != nil {
		return CommandFrame{}, err
	}

	if !frame.IsCommand {
		return CommandFrame{}, fmt.Errorf("%w: unexpected data frame before transfer phase", ErrProtocol)
	}

	cf, err := ParseCommandFrame(frame)
	if err != nil {
		return CommandFrame{}, err
	}

	s.log().WithField("cmd", cf).Debug("Received command")
	return cf, nil
}

// processNul dispatches an M_NUL information line: peer info, capability
// options and the out-of-band CRC and NDA lines.
func (s *Session) processNul(cf CommandFrame) error {
	line := ParseNulArgs(cf.Args)

	switch line.Keyword {
	case "OPT":
		for _, token := range OptionTokens(line.Value) {
			if IsCramToken(token) {
				s.remoteCram = token
			} else {
				s.remoteOptions[token] = true
			}
		}

	case OptionCRC:
		name, _, sum, err := ParseCrcArgs(line.Value)
		if err != nil {
			return err
		}
		s.expectedCrcs[name] = sum
		if s.in != nil && s.in.Name == name {
			s.crc.SetExpected(sum)
		}

	case ndaKeyword:
		return s.processNda(line.Value)

	case "SYS", "ZYZ", "LOC", "VER", "TIME":
		s.peerInfo[line.Keyword] = line.Value
		s.log().WithFields(log.Fields{
			"keyword": line.Keyword,
			"value":   line.Value,
		}).Debug("Peer info")

	default:
		// Unknown M_NUL lines must be ignored.
		s.log().WithField("args", cf.Args).Debug("Ignoring unknown M_NUL line")
	}

	return nil
}

// sessionError turns a peer's M_ERR or M_BSY into a session error.
func (s *Session) sessionError(cf CommandFrame) error {
	if cf.Command == MBsy {
		return fmt.Errorf("%w: peer is busy: %s", ErrProtocol, cf.Args)
	}

	return fmt.Errorf("%w: peer error: %s", ErrProtocol, cf.Args)
}
