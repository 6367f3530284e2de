// Package transport carries protocol requests over the network and the
// serial line. Each request is one line and gets one reply.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/protocol"
)

// RequestHandler answers one request line. *protocol.Handler implements it.
type RequestHandler interface {
	Handle(source, line string) string
}

// UDPServer answers one datagram with one datagram. Requests longer than
// protocol.MaxRequestLen are truncated.
type UDPServer struct {
	addr    string
	handler RequestHandler
	retry   time.Duration

	mu    sync.Mutex
	conn  net.PacketConn
	ready chan struct{}
	once  sync.Once
}

// NewUDPServer creates a server listening on addr (e.g. ":65435").
func NewUDPServer(addr string, h RequestHandler) *UDPServer {
	return &UDPServer{
		addr:    addr,
		handler: h,
		retry:   time.Second,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the first socket is bound.
func (s *UDPServer) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Ready.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve runs until ctx is cancelled. When the socket fails it is closed
// and bound again.
func (s *UDPServer) Serve(ctx context.Context) error {
	for {
		conn, err := net.ListenPacket("udp", s.addr)
		if err != nil {
			debug.Error(fmt.Errorf("udp listen %s: %w", s.addr, err))
		} else {
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			s.once.Do(func() { close(s.ready) })
			debug.Info("UDP server listening on %s", conn.LocalAddr())

			err = s.serveConn(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			debug.Error(fmt.Errorf("udp socket: %w, recreating", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry):
		}
	}
}

func (s *UDPServer) serveConn(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if stop() {
			conn.Close()
		}
	}()

	buf := make([]byte, protocol.MaxRequestLen+1)
	for {
		n, from, err := conn.ReadFrom(buf[:protocol.MaxRequestLen])
		if err != nil {
			if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		debug.Trace("UDP: %d bytes from %s", n, from)

		reply := s.handler.Handle(from.String(), string(buf[:n]))
		if _, err := conn.WriteTo([]byte(reply), from); err != nil {
			// A lost reply is not fatal, the client will retry.
			debug.Error(fmt.Errorf("udp reply to %s: %w", from, err))
		}
	}
}
