package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/transport"
)

// Server accepts TCP connections and serves each with its own Session. The
// handler is shared, so state it keeps is seen by every connection.
type Server struct {
	protocol protocol.Protocol
	handler  Handler
	opts     Options

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	handled int
}

// NewServer creates a server for p. Start binds it.
func NewServer(p protocol.Protocol, h Handler, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = p.Name() + "-emulator"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		protocol: p,
		handler:  syncHandler(h),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// syncHandler serialises calls so handlers need no locking of their own.
func syncHandler(h Handler) Handler {
	var mu sync.Mutex
	return func(req *packet.Packet) (packet.Fields, error) {
		mu.Lock()
		defer mu.Unlock()
		return h(req)
	}
}

// Start listens on address and accepts connections in the background.
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen TCP: %w", err)
	}
	s.listener = ln
	s.opts.Logger.Info("%s listening on %s", s.opts.Name, ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Connections returns the number of connections accepted so far.
func (s *Server) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.handled
}

// Stop closes the listener and every open connection and waits for their
// sessions to end.
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.opts.Logger.Info("%s stopped", s.opts.Name)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.opts.Logger.Error("Accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.handled++
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.opts.Logger.Info("New connection from %s", remote)

	opts := s.opts
	opts.Name = s.opts.Name + "@" + remote
	session := NewSession(s.protocol, s.handler, opts)
	t := transport.NewTCPConn(conn, transport.Options{Timeout: time.Second})
	if err := session.Serve(s.ctx, t); err != nil {
		s.opts.Logger.Verbose("Connection %s ended: %v", remote, err)
	}
	s.opts.Logger.Info("Connection from %s closed after %d requests", remote, session.Served())
}
