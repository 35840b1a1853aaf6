package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cli/browser"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"clashkit/utils"
)

// Opener opens url in the operator's browser.
type Opener func(url string) error

// Option customizes a Server.
type Option func(*Server)

// WithOpener replaces the browser launcher; a nil opener disables it.
func WithOpener(open Opener) Option {
	return func(s *Server) {
		s.open = open
	}
}

// Server serves the dashboard directory over HTTP.
type Server struct {
	// static file endpoints exposed via this http server
	http *http.Server
	// cached config
	config *utils.DashboardConfig
	// directory being served
	root http.FileSystem
	// browser launcher, nil when disabled
	open Opener

	mu       sync.Mutex
	addr     net.Addr
	ready    chan struct{}
	listened bool
}

func NewServer(conf *utils.Config, opts ...Option) (*Server, error) {
	dc := &conf.Dashboard

	info, err := os.Stat(dc.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to access dashboard directory %s", dc.Dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("dashboard path %s is not a directory", dc.Dir)
	}

	s := &Server{
		config: dc,
		root:   http.Dir(dc.Dir),
		ready:  make(chan struct{}),
	}
	if dc.OpenBrowser == nil || *dc.OpenBrowser {
		s.open = browser.OpenURL
	}
	for _, opt := range opts {
		opt(s)
	}

	router := mux.NewRouter()
	router.Methods(http.MethodGet, http.MethodHead).PathPrefix("/").Handler(s.fileHandler())

	s.http = &http.Server{
		Addr:              net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)),
		Handler:           LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// fileHandler delegates to http.FileServer for listings, index resolution, content types and
// path cleaning. A direct request for an index.html page is answered with the file itself
// instead of FileServer's redirect to the directory.
func (s *Server) fileHandler() http.Handler {
	files := http.FileServer(s.root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/index.html") {
			name := path.Clean("/" + r.URL.Path)
			if f, err := s.root.Open(name); err == nil {
				defer f.Close()
				if info, err := f.Stat(); err == nil && !info.IsDir() {
					http.ServeContent(w, r, info.Name(), info.ModTime(), f)
					return
				}
			}
		}
		files.ServeHTTP(w, r)
	})
}

// Ready is closed once the server is bound and accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address, nil before Run has bound the socket.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL is the browser address of the dashboard page.
func (s *Server) URL() string {
	port := s.config.Port
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return fmt.Sprintf("http://localhost:%d/%s", port, strings.TrimPrefix(s.config.Page, "/"))
}

// Run binds the socket, opens the browser and serves until ctx is cancelled. A bind failure is
// returned as is. Cancellation shuts the server down, releases the port and returns nil.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.listened {
		s.mu.Unlock()
		return errors.New("dashboard server already started")
	}
	s.listened = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.Wrapf(err, "unable to bind %s", s.http.Addr)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)

	port := ln.Addr().(*net.TCPAddr).Port
	log.Info().Str("dir", s.config.Dir).Msgf("Starting local server at http://localhost:%d", port)
	log.Info().Msg("Press Ctrl+C to stop the server")

	if s.open != nil {
		if err := s.open(s.URL()); err != nil {
			log.Warn().Err(err).Str("url", s.URL()).Msg("unable to open the browser")
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.http.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "dashboard server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down the dashboard server")
	}
	<-serveErr

	log.Info().Msg("Server stopped.")
	return nil
}
