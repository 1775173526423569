package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ServerConfig controls listener behavior (spec.md §4.I/§5/§6.4).
type ServerConfig struct {
	Host string
	Port string

	MaxConnections  int
	AcceptRPS       float64 // smooths a burst of new connections, §5's admission control
	ReadLineTimeout time.Duration
	Handler         HandlerConfig
}

// DefaultServerConfig matches spec.md §5's documented defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections:  100,
		AcceptRPS:       200,
		ReadLineTimeout: 10 * time.Second,
		Handler:         DefaultHandlerConfig(),
	}
}

// Server is the newline-delimited JSON-RPC 2.0 TCP server (component I).
// One goroutine serves one connection; requests within a connection are
// processed and answered strictly in order (spec.md §5 "within one
// connection, requests are processed sequentially and responses are
// written in request order"). Across connections there is no ordering
// guarantee.
type Server struct {
	Config  ServerConfig
	Handler *Handler
	Log     zerolog.Logger

	connSem chan struct{}
	accept  *rate.Limiter
}

// NewServer wires a Server around an already-constructed Handler (which in
// turn wraps a *retrieval.Engine).
func NewServer(cfg ServerConfig, handler *Handler, log zerolog.Logger) *Server {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultServerConfig().MaxConnections
	}
	rps := cfg.AcceptRPS
	if rps <= 0 {
		rps = DefaultServerConfig().AcceptRPS
	}
	return &Server{
		Config:  cfg,
		Handler: handler,
		Log:     log,
		connSem: make(chan struct{}, maxConns),
		accept:  rate.NewLimiter(rate.Limit(rps), maxConns),
	}
}

// ListenAndServe runs the accept loop until ctx is cancelled or the
// listener fails. It always returns a non-nil error (context.Canceled on a
// clean shutdown).
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.Config.Host, s.Config.Port))
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.Log.Info().Str("addr", ln.Addr().String()).Msg("rpc server listening")

	for {
		if err := s.accept.Wait(ctx); err != nil {
			return err
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		select {
		case s.connSem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		}

		connID := uuid.New().String()
		go s.serveConn(ctx, conn, connID)
	}
}

// serveConn reads newline-delimited requests off conn, sequentially,
// writing one response per request in request order, until the connection
// closes, a read times out, or ctx is cancelled.
func (s *Server) serveConn(ctx context.Context, conn net.Conn, connID string) {
	defer func() {
		conn.Close()
		<-s.connSem
	}()

	connLog := s.Log.With().Str("conn_id", connID).Logger()
	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	writer := bufio.NewWriter(conn)

	timeout := s.Config.ReadLineTimeout
	if timeout <= 0 {
		timeout = DefaultServerConfig().ReadLineTimeout
	}

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		if !reader.Scan() {
			if err := reader.Err(); err != nil && !errors.Is(err, context.Canceled) {
				connLog.Debug().Err(err).Msg("connection read ended")
			}
			return
		}

		line := reader.Bytes()
		resp := s.handleLine(ctx, line)
		if err := writeResponse(writer, resp); err != nil {
			connLog.Debug().Err(err).Msg("connection write failed")
			return
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return newError(nullID, CodeParseError, "parse error", nil)
	}
	return s.Handler.handle(ctx, req)
}

func writeResponse(w *bufio.Writer, resp response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
