// Package api exposes the train service over HTTP: JSON endpoints for every
// fleet operation plus Server-Sent Events and WebSocket streams of train updates.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lowaak/train-control/internal/go_func_utils"
	"github.com/lowaak/train-control/internal/train"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	streamBufferSize        = 64
)

// TrainService is the part of train.Service the API depends on.
type TrainService interface {
	TrainList() []train.Train
	Train(address string) (train.Train, error)
	UpdateTrain(requested train.Train) (train.Train, error)
	UpdatePort(requested train.Port) error
	IsDiscovering() bool
	ToggleDiscovery() (bool, error)
	Connect(address string) error
	Disconnect(address string) error
	ConnectAll() error
	DisconnectAll()
	Remove(address string) error
	StopAll()
	ListenToTrains(ch chan<- train.Train) func()
}

var _ TrainService = (*train.Service)(nil)

// Server is the HTTP front end of the train service.
type Server struct {
	listen  string
	service TrainService
	logger  *log.Logger
	hub     *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopHub  func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server for listen, e.g. ":8080". Nothing is started before Start.
func New(listen string, service TrainService, logger *log.Logger) *Server {
	if service == nil {
		panic("API: service cannot be nil")
	}
	if logger == nil {
		panic("API: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listen:  listen,
		service: service,
		logger:  logger,
		hub:     NewHub(logger),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("API: already started")
	}

	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listen, err)
	}
	s.listener = listener
	s.stopHub = s.forwardToHub()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := s.server
	go_func_utils.SafeGoWG(&s.wg, s.logger, func() {
		s.logger.Printf("API: listening on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("API: server error: %v", err)
		}
	})
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// forwardToHub relays every train update to the WebSocket clients.
func (s *Server) forwardToHub() func() {
	updates := make(chan train.Train, streamBufferSize)
	unregister := s.service.ListenToTrains(updates)
	go_func_utils.SafeGoWG(&s.wg, s.logger, func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case t := <-updates:
				s.hub.Broadcast(wsTypeTrain, t)
			}
		}
	})
	return unregister
}

// Close stops accepting requests, ends every open stream and waits for in-flight
// requests up to a timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	server := s.server
	stopHub := s.stopHub
	s.mu.Unlock()

	s.cancel()
	s.hub.CloseAll()
	if stopHub != nil {
		stopHub()
	}
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Println("API: Shutdown complete")
	return nil
}
