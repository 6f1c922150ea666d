// Package protocol serves the Redis wire protocol: the data commands backed
// by the typed layer, and the cluster admin surface that drives slot
// migration.
package protocol

import (
	"net"
	"sync"

	"github.com/tidwall/redcon"
	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/metrics"
)

// Server accepts client connections and dispatches commands to the handler.
type Server struct {
	addr    string
	handler *Handler
	logger  *zap.Logger

	mu       sync.RWMutex
	server   *redcon.Server
	listener net.Listener
	clients  map[redcon.Conn]*Client
}

// Client is the per-connection state.
type Client struct {
	conn          redcon.Conn
	authenticated bool
}

// NewServer binds a server to the handler.
func NewServer(addr string, handler *Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
		clients: make(map[redcon.Conn]*Client),
	}
}

// Start listens and serves until Stop. It blocks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := redcon.NewServer(s.addr,
		s.handleCommand,
		s.handleAccept,
		s.handleClose,
	)

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	return srv.Serve(ln)
}

// Stop closes the listener and every connection.
func (s *Server) Stop() error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		return ln.Addr().String()
	}
	return s.addr
}

func (s *Server) handleAccept(conn redcon.Conn) bool {
	s.mu.Lock()
	s.clients[conn] = &Client{conn: conn}
	s.mu.Unlock()
	metrics.ConnectionsTotal.Inc()
	return true
}

func (s *Server) handleClose(conn redcon.Conn, err error) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	metrics.ConnectionsTotal.Dec()
}

func (s *Server) client(conn redcon.Conn) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[conn]
}

func (s *Server) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}
	client := s.client(conn)
	if client == nil {
		client = &Client{conn: conn}
	}
	s.handler.Execute(client, conn, cmd.Args)

	for _, p := range conn.ReadPipeline() {
		if len(p.Args) == 0 {
			continue
		}
		s.handler.Execute(client, conn, p.Args)
	}
}
