package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/db"
)

// Server is a TCP SQL server exposing one memodb engine. Clients send one
// statement per line; each line is answered with one JSON response.
type Server struct {
	listener net.Listener
	engine   *db.Engine
	auth     *AuthConfig
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewServer wraps an engine with the line protocol.
func NewServer(engine *db.Engine, auth *AuthConfig) *Server {
	return &Server{
		engine: engine,
		auth:   auth,
		done:   make(chan struct{}),
	}
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	log.WithField("addr", listener.Addr().String()).Info("SQL server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.WithError(err).Warn("accept error")
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	log.WithField("remote", conn.RemoteAddr().String()).Debug("client connected")

	state := &ConnectionState{}
	reader := bufio.NewReader(conn)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("read error")
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if lower := strings.ToLower(line); lower == "quit" || lower == "exit" {
			return
		}

		response := s.handleLine(state, line)
		data, err := EncodeResponse(response)
		if err != nil {
			log.WithError(err).Warn("failed to encode response")
			continue
		}
		if _, err := conn.Write(data); err != nil {
			log.WithError(err).Debug("write error")
			return
		}
	}
}

func (s *Server) handleLine(state *ConnectionState, line string) Response {
	// AUTH <token> authenticates the connection.
	if strings.HasPrefix(strings.ToUpper(line), "AUTH ") {
		result := validateJWT(s.auth, strings.TrimSpace(line[5:]))
		if result.err != nil {
			return Response{Success: false, Error: result.err.Error()}
		}
		state.subject = result.subject
		state.authenticated = true
		state.tokenExpiry = result.expiresAt
		return Response{Success: true}
	}

	if s.auth != nil && s.auth.Enabled && !state.IsAuthenticated() {
		return Response{Success: false, Error: "authentication required"}
	}

	req, err := DecodeRequest([]byte(line))
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("bad request: %v", err)}
	}
	return s.executeQuery(req.Query)
}

func (s *Server) executeQuery(query string) Response {
	started := time.Now()
	result, err := s.engine.Execute(context.Background(), query)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}

	payload := QueryResponse{
		Columns:      result.Columns,
		Data:         result.Strings(),
		AffectedRows: result.AffectedRows,
		TimeMs:       float64(time.Since(started).Microseconds()) / 1000,
	}
	data, _ := json.Marshal(payload)
	return Response{Success: true, Result: data}
}
