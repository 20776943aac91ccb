// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge serves live device data to remote dashboards over WebSocket
// and exposes Prometheus metrics.
package bridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/poller"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
	"github.com/Thermoquad/vsensor/pkg/wire"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Source provides poll results. *poller.Poller satisfies it.
type Source interface {
	Latest() (poller.Snapshot, bool)
	Subscribe(buffer int) (<-chan poller.Result, func())
}

// Controller applies dashboard commands. *vsensor.Client satisfies it.
type Controller interface {
	SetAutoSetpoint(value float64) error
	SetMode(m vsensor.Mode) error
	SetHandSetpoint(percent float64) error
}

// Config configures a Server.
type Config struct {
	Username string // empty disables authentication
	Password string
	Logger   zerolog.Logger
	Registry *prometheus.Registry // nil creates a private registry
}

// Server is the HTTP front end of `vsensor serve`.
type Server struct {
	source   Source
	ctrl     Controller
	cfg      Config
	log      zerolog.Logger
	metrics  *Metrics
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	start    time.Time

	mu      sync.Mutex
	clients int
}

// New creates a server. ctrl may be nil for a read-only bridge.
func New(source Source, ctrl Controller, cfg Config) (*Server, error) {
	if source == nil {
		return nil, errors.New("bridge: source required")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Server{
		source:   source,
		ctrl:     ctrl,
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  NewMetrics(reg),
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		start: time.Now(),
	}, nil
}

// Handler returns the HTTP routes: /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.requireAuth(http.HandlerFunc(s.serveWS)))
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

// Run feeds metrics from the source until ctx is done.
func (s *Server) Run(ctx context.Context) {
	results, cancel := s.source.Subscribe(sendBuffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			s.metrics.Observe(r)
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Bridge listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.cfg.Username == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="vsensor"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.source.Latest(); !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

//////////////////////////////////////////////////////////////
// WebSocket session
//////////////////////////////////////////////////////////////

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	s.trackClient(1)
	defer s.trackClient(-1)

	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("Dashboard connected")

	out := make(chan *wire.Message, sendBuffer)
	done := make(chan struct{})
	go s.writeLoop(conn, out, done, log)

	results, cancel := s.source.Subscribe(sendBuffer)
	defer cancel()

	if snap, ok := s.source.Latest(); ok {
		out <- telemetryMessage(snap)
	}

	go func() {
		for r := range results {
			msg := telemetryMessage(r.Snapshot)
			if r.Err != nil {
				msg = wire.NewPollError(vsensor.KindOf(r.Err).String(), r.Err.Error())
			}
			select {
			case out <- msg:
			case <-done:
				return
			}
		}
	}()

	s.readLoop(conn, out, done, log)
	close(done)
	conn.Close()
	log.Info().Msg("Dashboard disconnected")
}

func (s *Server) readLoop(conn *websocket.Conn, out chan<- *wire.Message, done <-chan struct{}, log zerolog.Logger) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		var reply *wire.Message
		msg, err := wire.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("Undecodable frame")
			reply = wire.NewInvalidCommand(0)
		} else {
			reply = s.HandleCommand(msg)
		}

		select {
		case out <- reply:
		case <-done:
			return
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, out <-chan *wire.Message, done <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-out:
			data, err := msg.Encode()
			if err != nil {
				log.Error().Err(err).Msg("Encode failed")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// HandleCommand validates and applies one dashboard command and returns the
// reply to send back.
func (s *Server) HandleCommand(msg *wire.Message) *wire.Message {
	name := wire.FormatMessageType(msg.Type())
	if !msg.IsCommand() {
		s.metrics.command(name, "invalid")
		return wire.NewInvalidCommand(msg.Type())
	}
	if errs := wire.ValidateCommand(msg); len(errs) > 0 {
		s.metrics.command(name, "rejected")
		if errs[0].Type == wire.AnomalyUnknownType {
			return wire.NewInvalidCommand(msg.Type())
		}
		return wire.NewRejected(msg.Type(), errs[0].Message)
	}

	if msg.Type() == wire.MsgPingRequest {
		s.metrics.command(name, "ok")
		return wire.NewPingResponse(time.Since(s.start))
	}
	if s.ctrl == nil {
		s.metrics.command(name, "rejected")
		return wire.NewRejected(msg.Type(), "bridge is read-only")
	}

	p := msg.PayloadMap()
	var err error
	switch msg.Type() {
	case wire.MsgSetSetpoint:
		v, _ := wire.GetMapFloat(p, 0)
		err = s.ctrl.SetAutoSetpoint(v)
	case wire.MsgSetHandSetpoint:
		v, _ := wire.GetMapFloat(p, 0)
		err = s.ctrl.SetHandSetpoint(v)
	case wire.MsgSetMode:
		v, _ := wire.GetMapUint(p, 0)
		err = s.ctrl.SetMode(vsensor.Mode(v))
	}
	if err != nil {
		s.log.Warn().Err(err).Str("command", name).Msg("Command failed")
		s.metrics.command(name, "failed")
		return wire.NewRejected(msg.Type(), err.Error())
	}

	s.log.Info().Str("command", name).Msg("Command applied")
	s.metrics.command(name, "ok")
	return wire.NewCommandAck(msg.Type())
}

func (s *Server) trackClient(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients += delta
	s.metrics.wsClients.Set(float64(s.clients))
}

func telemetryMessage(snap poller.Snapshot) *wire.Message {
	return wire.NewTelemetry(wire.Telemetry{
		Pressure:  snap.PressurePa,
		Output:    snap.OutputPercent,
		Setpoint:  snap.AutoSetpoint,
		Mode:      uint16(snap.Mode),
		Heartbeat: snap.Heartbeat,
		Display:   snap.DisplayValue,
		Time:      snap.Time,
		Seq:       snap.Seq,
	})
}
