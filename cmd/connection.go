// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Thermoquad/vsensor/pkg/config"
	"github.com/Thermoquad/vsensor/pkg/transport"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
	"github.com/Thermoquad/vsensor/pkg/wire"
)

// Session is an open device client plus a description of how it is connected.
type Session struct {
	Client *vsensor.Client
	Info   string
}

type openedTransport struct {
	tr   vsensor.Transport
	info string
}

func provideTransport(cfg config.DeviceConfig, log zerolog.Logger) (openedTransport, func(), error) {
	tr, info, err := transport.Open(transport.Options{Kind: cfg.Transport, Address: cfg.Address}, cfg.Client(), log)
	if err != nil {
		return openedTransport{}, nil, err
	}
	cleanup := func() {
		if err := tr.Close(); err != nil {
			log.Debug().Err(err).Msg("Transport close failed")
		}
	}
	return openedTransport{tr: tr, info: info}, cleanup, nil
}

func provideClient(ot openedTransport, cfg config.DeviceConfig, log zerolog.Logger) (*vsensor.Client, error) {
	return vsensor.NewClient(cfg.Client(), ot.tr, vsensor.WithLogger(log))
}

func newSession(client *vsensor.Client, ot openedTransport) *Session {
	return &Session{Client: client, Info: ot.info}
}

// OpenSession loads the layered configuration and connects to the device.
func OpenSession() (*Session, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	s, _, err := initSession(cfg.Device, logger)
	if err != nil {
		return nil, cfg, err
	}
	return s, cfg, nil
}

// Close releases the client and its transport.
func (s *Session) Close() error {
	return s.Client.Close()
}

//////////////////////////////////////////////////////////////
// WebSocket (vsensor serve) connections
//////////////////////////////////////////////////////////////

// WebSocketConnection exchanges wire messages with a vsensor serve instance.
type WebSocketConnection struct {
	conn *websocket.Conn
}

// Send encodes and writes one message.
func (w *WebSocketConnection) Send(m *wire.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Receive blocks for the next binary frame and decodes it. Text frames are
// skipped.
func (w *WebSocketConnection) Receive() (*wire.Message, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return wire.Decode(data)
	}
}

// Close closes the connection.
func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("VSENSOR_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenBridgeConnection connects to the --url given on the command line.
func OpenBridgeConnection() (*WebSocketConnection, string, error) {
	if wsURL == "" {
		return nil, "", fmt.Errorf("--url must be specified")
	}

	password := ""
	if wsUsername != "" {
		var err error
		password, err = GetPassword()
		if err != nil {
			return nil, "", err
		}
	}

	conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
}
