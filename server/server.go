// Package server exposes job plans, data sources and the execution queue
// over HTTP/JSON, plus a websocket stream of queue job updates.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/plan"
	"github.com/chorus/jobs/pulse/async"
	"github.com/chorus/jobs/pulse/schedule"
	"github.com/chorus/jobs/target"
)

// HTTP server timeouts
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Deps are the services the API serves. Plans is required; the rest may
// be nil, in which case their routes answer 503.
type Deps struct {
	Plans      *plan.Service
	Sources    *target.Service
	Queue      *async.Queue
	Dispatcher *dispatch.Dispatcher
	Ticker     *schedule.Ticker
	Pool       *async.WorkerPool

	// AllowedOrigins are origin prefixes accepted for CORS and websockets.
	// Requests without an Origin header are always accepted.
	AllowedOrigins []string

	Logger *zap.SugaredLogger
}

// Server is the HTTP API.
type Server struct {
	plans      *plan.Service
	sources    *target.Service
	queue      *async.Queue
	dispatcher *dispatch.Dispatcher
	ticker     *schedule.Ticker
	pool       *async.WorkerPool

	allowedOrigins []string
	logger         *zap.SugaredLogger
	now            func() time.Time

	mux        *http.ServeMux
	httpServer *http.Server

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	clients map[*queueClient]bool
}

// New builds the server and its routes.
func New(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		plans:          d.Plans,
		sources:        d.Sources,
		queue:          d.Queue,
		dispatcher:     d.Dispatcher,
		ticker:         d.Ticker,
		pool:           d.Pool,
		allowedOrigins: d.AllowedOrigins,
		logger:         log.Named("server"),
		now:            time.Now,
		mux:            http.NewServeMux(),
		ctx:            ctx,
		cancel:         cancel,
		clients:        make(map[*queueClient]bool),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ClientCount is the number of connected queue websocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
