// Package server exposes a running model over HTTP: liveness, Prometheus
// metrics, and the fields registered in its ModelVecs.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/icectl/internal/model"
	"github.com/danmuck/icectl/internal/observability"
)

const version = "0.1.0"

// Snapshot is the registry state last published by the run.
type Snapshot struct {
	Locked  bool              `json:"locked"`
	Updated time.Time         `json:"updated"`
	Fields  []model.EntryInfo `json:"fields"`
}

// Admin serves a copy of the registry. Ranks publish snapshots into it; the
// handlers never touch a live ModelVecs.
type Admin struct {
	ID      string
	Addr    string
	Started time.Time

	mu       sync.RWMutex
	snapshot Snapshot

	router *gin.Engine
	srv    *http.Server
}

func New(id, addr string) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminMiddleware(id, log.Logger))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		router:  r,
	}
	a.RegisterRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

// Publish replaces the served snapshot with vecs' current entries.
func (a *Admin) Publish(vecs *model.ModelVecs) {
	snap := Snapshot{
		Locked:  vecs.Locked(),
		Updated: time.Now().UTC(),
		Fields:  vecs.Describe(),
	}
	a.mu.Lock()
	a.snapshot = snap
	a.mu.Unlock()
}

func (a *Admin) current() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := a.snapshot
	snap.Fields = slices.Clone(snap.Fields)
	return snap
}

// Start listens on Addr and serves in the background. It returns the bound
// address, which differs from Addr when Addr asks for port 0.
func (a *Admin) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return nil, err
	}
	a.srv = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("admin", a.ID).Msg("admin server stopped")
		}
	}()
	log.Info().Str("admin", a.ID).Str("addr", ln.Addr().String()).Msg("admin server listening")
	return ln.Addr(), nil
}

func (a *Admin) Shutdown(ctx context.Context) error {
	if a.srv == nil {
		return nil
	}
	return a.srv.Shutdown(ctx)
}
