// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"
)

// WebSocket transport: binkp frames are carried in binary WebSocket messages.
// The framing layer above does not care about message boundaries, so RecvAll
// simply concatenates consecutive binary messages.

// wsConnection adapts a *websocket.Conn to the Connection interface.
type wsConnection struct {
	conn    *websocket.Conn
	reader  io.Reader
	timeout time.Duration
}

// NewWebSocketConnection wraps an established WebSocket connection as a binkp
// Connection.
func NewWebSocketConnection(conn *websocket.Conn) Connection {
	return &wsConnection{
		conn:    conn,
		timeout: DefaultFrameTimeout,
	}
}

// DialWebSocket establishes a WebSocket connection to a binkp peer, e.g.
// "ws://host:port/binkp".
func DialWebSocket(address string) (Connection, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address, nil)
	if err != nil {
		return nil, classifyNetError(err)
	}

	return NewWebSocketConnection(conn), nil
}

func (wc *wsConnection) SendAll(p []byte) error {
	if err := wc.conn.SetWriteDeadline(time.Now().Add(wc.timeout)); err != nil {
		return classifyNetError(err)
	}

	if err := wc.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return classifyNetError(err)
	}

	return nil
}

func (wc *wsConnection) RecvAll(p []byte) error {
	if err := wc.conn.SetReadDeadline(time.Now().Add(wc.timeout)); err != nil {
		return classifyNetError(err)
	}

	for len(p) > 0 {
		if wc.reader == nil {
			msgType, reader, err := wc.conn.NextReader()
			if err != nil {
				return classifyNetError(err)
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			wc.reader = reader
		}

		n, err := wc.reader.Read(p)
		p = p[n:]

		if err == io.EOF {
			wc.reader = nil
		} else if err != nil {
			return classifyNetError(err)
		}
	}

	return nil
}

func (wc *wsConnection) SetTimeout(timeout time.Duration) {
	wc.timeout = timeout
}

func (wc *wsConnection) Close() error {
	return wc.conn.Close()
}

func (wc *wsConnection) Address() string {
	return wc.conn.RemoteAddr().String()
}

// WebSocketListener is a binkp answerer as a http.Handler, accepting inbound
// sessions over WebSockets.
type WebSocketListener struct {
	config   Config
	upgrader websocket.Upgrader
}

// ListenWebSocket creates a new WebSocketListener answering sessions with the
// given Config.
func ListenWebSocket(config Config) *WebSocketListener {
	return &WebSocketListener{
		config:   config,
		upgrader: websocket.Upgrader{},
	}
}

// ServeHTTP upgrades a HTTP connection to a WebSocket connection and answers
// one binkp session on it.
func (listener *WebSocketListener) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := listener.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.WithField("peer", request.RemoteAddr).WithError(err).Warn("Upgrading connection errored")
		return
	}

	session := NewSession(NewWebSocketConnection(conn), Answerer, listener.config)
	defer func() {
		if err := session.Close(); err != nil {
			log.WithField("peer", request.RemoteAddr).WithError(err).Warn("Closing answerer session errored")
		}
	}()

	if err := session.Run(); err != nil {
		log.WithField("peer", request.RemoteAddr).WithError(err).Warn("Answerer session failed")
	}
}
