// Package server exposes the generation pipeline over HTTP: a JSON API for
// runs and balances plus a websocket progress stream.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server serves the API over cleartext HTTP/2 so streaming clients can
// multiplex without TLS termination in front.
type Server struct {
	inner *http.Server
}

func New(addr string, handler http.Handler) *Server {
	h2s := &http2.Server{}
	return &Server{
		inner: &http.Server{
			Addr:    addr,
			Handler: h2c.NewHandler(handler, h2s),
		},
	}
}

// Start blocks serving requests until Shutdown is called or the listener
// fails. A clean shutdown is not an error.
func (s *Server) Start() error {
	log.Printf("flowsmith API listening on %s", s.inner.Addr)
	err := s.inner.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("API server draining connections")
	return s.inner.Shutdown(ctx)
}
