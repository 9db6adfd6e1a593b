// Package server implements the run-as-server mode: captured frames
// are fanned out over TCP to external client tools, byte-exact as they
// came off the wire, so a client's extractor reproduces the same frame
// sequence.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zwavetools/zwsniff/internal/frame"
)

// clientBuffer is how many frames a slow client may lag before being
// disconnected. Disconnecting beats blocking the capture path.
const clientBuffer = 100

// Server accepts TCP clients and broadcasts frames to all of them.
// It implements pipeline.FrameTap.
type Server struct {
	log zerolog.Logger

	mu       sync.Mutex
	ln       net.Listener
	clients  map[net.Conn]chan []byte
	shutdown bool
}

// New returns a Server that is not yet listening.
func New(log zerolog.Logger) *Server {
	return &Server{
		log:     log,
		clients: make(map[net.Conn]chan []byte),
	}
}

// Listen binds addr and starts accepting clients until ctx ends.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("serving capture stream")

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// OnFrame broadcasts one stored frame's raw bytes to every connected
// client. Never blocks the capture path: a client whose buffer is full
// is dropped.
func (s *Server) OnFrame(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- f.Raw:
		default:
			s.log.Warn().Str("client", conn.RemoteAddr().String()).Msg("client too slow, dropping")
			delete(s.clients, conn)
			close(ch)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops listening and disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for conn, ch := range s.clients {
		delete(s.clients, conn)
		close(ch)
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed
		}
		ch := make(chan []byte, clientBuffer)
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.clients[conn] = ch
		s.mu.Unlock()
		s.log.Info().Str("client", conn.RemoteAddr().String()).Msg("client connected")
		go s.writeLoop(conn, ch)
	}
}

func (s *Server) writeLoop(conn net.Conn, ch chan []byte) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		if existing, ok := s.clients[conn]; ok && existing == ch {
			delete(s.clients, conn)
			close(ch)
		}
		s.mu.Unlock()
	}()

	for raw := range ch {
		if _, err := conn.Write(raw); err != nil {
			s.log.Debug().Str("client", conn.RemoteAddr().String()).Err(err).Msg("client write failed")
			return
		}
	}
}
