package mmtp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
)

// Server listens for inbound MMTP connections and hands each one to a
// Reactor, mirroring the Serve/ListenAndServe split package socks uses:
// ListenAndServe opens its own listener from Addr, Serve accepts an
// already-open one so a caller can know the bound address (port 0)
// before serving begins.
type Server struct {
	Addr      string
	TLSConfig *tls.Config
	Reactor   *Reactor
	Logger    *slog.Logger

	ln net.Listener
}

// ListenAndServe opens a TCP listener on s.Addr, wraps each accepted
// connection in TLS when s.TLSConfig is set, and runs until the listener
// is closed by Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("mmtp: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.ln = ln
	s.Logger.Info("mmtp server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("mmtp: accept: %w", err)
		}
		if s.TLSConfig != nil {
			conn = tls.Server(conn, s.TLSConfig)
		}
		s.Reactor.Accept(conn)
	}
}

// Close stops accepting new connections. In-flight connections are torn
// down separately by Reactor.Stop.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
