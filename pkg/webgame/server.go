package webgame

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Server drives the HTTP listener, the session hub, and any background
// workers (the image pipeline) under one lifecycle. A SIGINT/SIGTERM drains
// the HTTP server, tears down live websockets, and cancels the workers.
type Server struct {
	httpSrv *http.Server
	hub     *SessionHub
	workers []func(ctx context.Context) error
	closers []func() error
}

func NewServer(addr string, router *Router, hub *SessionHub) *Server {
	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           router.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub: hub,
	}
}

// AddWorker registers a background loop run for the server's lifetime, such
// as the image pipeline worker.
func (s *Server) AddWorker(run func(ctx context.Context) error) {
	if s == nil || run == nil {
		return
	}
	s.workers = append(s.workers, run)
}

// AddCloser registers a resource closed during shutdown, after the HTTP
// server has drained.
func (s *Server) AddCloser(close func() error) {
	if s == nil || close == nil {
		return
	}
	s.closers = append(s.closers, close)
}

func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	for _, run := range s.workers {
		run := run
		eg.Go(func() error { return run(srvCtx) })
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownBase := context.WithoutCancel(ctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownBase, 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if s.hub != nil {
			s.hub.CloseAll()
		}
		for _, close := range s.closers {
			if err := close(); err != nil {
				log.Error().Err(err).Msg("resource close error")
			}
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		defer srvCancel()
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting session engine server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}
