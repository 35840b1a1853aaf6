// Package gateway serves the Clash of Clans API to the dashboard: cached, keyed with the
// configured API tokens and CORS enabled. An optional relay forwards calls for callers whose
// address is not allowed by their own key.
package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"clashkit/httpclient"
	"clashkit/keystore"
	"clashkit/server"
	"clashkit/utils"
)

type Option func(*Gateway)

// WithCache replaces the configured cache backend.
func WithCache(c Cache) Option {
	return func(g *Gateway) {
		g.cache = c
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

type Gateway struct {
	// API endpoints exposed via this http server
	http *http.Server
	// cached config
	config *utils.Config
	// the API keystore, nil when no key is configured
	apiKeyStore keystore.Store
	// Clash API client, nil when no key is configured
	upstream *upstream

	cache    Cache
	group    singleflight.Group
	clock    clockwork.Clock
	registry *prometheus.Registry
	metrics  *metrics

	done chan struct{}
}

func NewGateway(conf *utils.Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config:   conf,
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	g.metrics = newMetrics(g.registry)
	g.registry.MustRegister(collectors.NewGoCollector())

	if g.cache == nil {
		cache, err := NewCache(&conf.Gateway.Cache, g.clock)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create the gateway cache")
		}
		g.cache = cache
	}

	store, err := keystore.NewInMemoryKeyStore(conf.Gateway.Keys)
	switch {
	case errors.Is(err, keystore.ErrEmptyKeyStore):
		log.Warn().Msg("no clash api key configured, api routes will answer with an error")
	case err != nil:
		return nil, errors.Wrap(err, "failed to create an api keystore")
	default:
		g.apiKeyStore = store
		g.upstream = &upstream{
			baseUrl: conf.Gateway.BaseUrl,
			timeout: time.Duration(conf.HttpRequestTimeout) * time.Second,
			client:  httpclient.New(*conf.Gateway.UpstreamRetries, time.Duration(conf.HttpRequestTimeout)*time.Second),
			keys:    store,
			metrics: g.metrics,
		}
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.Use(g.metricsMiddleware)

	router.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if conf.Gateway.Relay.Secret != "" {
		router.Handle("/relay", newRelay(conf, g.metrics))
	}
	g.routes(router)

	gc := conf.Gateway
	g.http = &http.Server{
		Addr:         net.JoinHostPort(gc.Host, strconv.Itoa(gc.Port)),
		Handler:      server.LoggingMiddleware(corsMiddleware(router)),
		ReadTimeout:  time.Duration(gc.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(gc.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(gc.IdleTimeout) * time.Second,
	}
	return g, nil
}

// Handler is the full gateway handler, middlewares included.
func (g *Gateway) Handler() http.Handler {
	return g.http.Handler
}

// Done is closed once the gateway has shut down after its context ended.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// RunAsync serves in the background. Serving errors are delivered on the returned channel;
// cancelling ctx shuts the server down gracefully and closes Done.
func (g *Gateway) RunAsync(ctx context.Context) chan error {
	firstErr := make(chan error, 2)

	ln, err := net.Listen("tcp", g.http.Addr)
	if err != nil {
		firstErr <- errors.Wrapf(err, "unable to bind %s", g.http.Addr)
		close(g.done)
		return firstErr
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("gateway listening")

	// run the http server
	go func() {
		if err := g.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			firstErr <- err
		}
	}()

	go func() {
		defer close(g.done)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(g.config.Gateway.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := g.http.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shut down the gateway")
		}
		if closer, ok := g.cache.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close the gateway cache")
			}
		}
		log.Info().Msg("gateway stopped")
	}()

	return firstErr
}
