package api

import (
	"errors"
	"net/http"
	"time"

	syncv1 "github.com/bidwatch/lotkeeper/api/sync/v1"
	lkerrs "github.com/bidwatch/lotkeeper/internal/errors"
	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
	"github.com/bidwatch/lotkeeper/internal/serverutil"
	lksync "github.com/bidwatch/lotkeeper/internal/sync"
)

// postRunnerStart starts the background runner, or resumes it if paused.
// Starting an already running runner is a no-op that reports current state.
func (s *Server) postRunnerStart(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[syncv1.StartRunnerRequest](r.Body)
	if err != nil {
		return lkerrs.E(http.StatusBadRequest, err)
	}

	target := lotkeeper.Target{Code: req.TargetCode, BaseURL: req.BaseURL}
	status, err := s.runner.Start(s.baseCtx, target, time.Duration(req.IntervalSeconds)*time.Second, lksync.Options{
		MaxPages: req.MaxPages,
		DryRun:   req.DryRun,
	})
	if errors.Is(err, lksync.ErrNoInterval) {
		return lkerrs.E(http.StatusBadRequest, err)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) postRunnerPause(w http.ResponseWriter, r *http.Request) error {
	status, err := s.runner.Pause()
	if errors.Is(err, lksync.ErrNotRunning) {
		return lkerrs.E(http.StatusConflict, err)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) postRunnerStop(w http.ResponseWriter, r *http.Request) error {
	status, err := s.runner.Stop()
	if errors.Is(err, lksync.ErrNotActive) {
		return lkerrs.E(http.StatusConflict, err)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) getRunnerStatus(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, s.runner.Status())
}
