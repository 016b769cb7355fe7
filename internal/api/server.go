// Package api is the HTTP surface over the sync core: run passes, drive the
// background runner, read lots and run history, and stream events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	syncv1 "github.com/bidwatch/lotkeeper/api/sync/v1"
	"github.com/bidwatch/lotkeeper/internal/events"
	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
	"github.com/bidwatch/lotkeeper/internal/serverutil"
	lksync "github.com/bidwatch/lotkeeper/internal/sync"
)

type (
	// Server handles requests to trigger syncs, control the runner, and
	// read back what the passes have persisted.
	Server struct {
		*http.Server

		repo   lotkeeper.Repository
		orch   *lksync.Orchestrator
		runner *lksync.Runner
		bus    *events.Bus

		lotRespCache *lru.Cache[string, syncv1.Lot]
		upgrader     websocket.Upgrader

		// baseCtx outlives any one request; the runner loop is tied to it,
		// not to the request that happened to start it.
		baseCtx context.Context
	}

	ServerConfig struct {
		Port       int
		CorsHeader string
	}
)

func NewServer(ctx context.Context, config ServerConfig, repo lotkeeper.Repository, orch *lksync.Orchestrator, runner *lksync.Runner, bus *events.Bus) *Server {
	var (
		r        = serverutil.ErrRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[string, syncv1.Lot](1024)
	)

	srvr := Server{
		repo:         repo,
		orch:         orch,
		runner:       runner,
		bus:          bus,
		lotRespCache: cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		baseCtx: ctx,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 0, // the event stream holds its connection open
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsHeader}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything

	// One-shot passes and their history
	r.HandleFuncE("/v1/sync/runs", srvr.postSyncRun).Methods(http.MethodPost)
	r.HandleFuncE("/v1/sync/runs", srvr.getSyncRuns).Methods(http.MethodGet)

	// Runner control
	r.HandleFuncE("/v1/runner/start", srvr.postRunnerStart).Methods(http.MethodPost)
	r.HandleFuncE("/v1/runner/pause", srvr.postRunnerPause).Methods(http.MethodPost)
	r.HandleFuncE("/v1/runner/stop", srvr.postRunnerStop).Methods(http.MethodPost)
	r.HandleFuncE("/v1/runner/status", srvr.getRunnerStatus).Methods(http.MethodGet)

	// Reading back what syncs persisted
	r.HandleFuncE("/v1/lots", srvr.getLots).Methods(http.MethodGet)
	r.HandleFuncE("/v1/lots/{code}", srvr.getLot).Methods(http.MethodGet)

	// Live event stream
	r.HandleFuncE("/v1/events", srvr.getEvents).Methods(http.MethodGet)

	go srvr.evictOnUpdate(ctx)

	return &srvr
}

// evictOnUpdate drops cached lot responses as syncs rewrite them, so reads
// after an update never serve the previous pass's data.
func (s *Server) evictOnUpdate(ctx context.Context) {
	id, ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	for {
		select {
		case e := <-ch:
			if e.Type != events.TypeLotUpdated {
				continue
			}
			if p, ok := e.Payload.(events.LotUpdatedPayload); ok {
				s.lotRespCache.Remove(p.Code)
			}
		case <-ctx.Done():
			return
		}
	}
}
