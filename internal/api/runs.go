package api

import (
	"net/http"

	syncv1 "github.com/bidwatch/lotkeeper/api/sync/v1"
	lkerrs "github.com/bidwatch/lotkeeper/internal/errors"
	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
	"github.com/bidwatch/lotkeeper/internal/serverutil"
	lksync "github.com/bidwatch/lotkeeper/internal/sync"
)

// postSyncRun executes a single pass inline and returns its summary. The
// request blocks until the pass finishes.
func (s *Server) postSyncRun(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[syncv1.RunSyncRequest](r.Body)
	if err != nil {
		return lkerrs.E(http.StatusBadRequest, err)
	}

	target := lotkeeper.Target{Code: req.TargetCode, BaseURL: req.BaseURL}
	summary, err := s.orch.RunOnce(r.Context(), target, lksync.Options{
		MaxPages: req.MaxPages,
		DryRun:   req.DryRun,
	})
	if err != nil {
		// The pass never got going; the summary still tells the caller what
		// was attempted.
		return lkerrs.E(http.StatusBadGateway, err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, toRunSummary(summary))
}

func (s *Server) getSyncRuns(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	limit, _ := parsePaginationParams(r, 20, 100)

	runs, err := s.repo.SyncRuns(r.Context(), query.Get("target"), limit)
	if err != nil {
		return err
	}

	resp := syncv1.ListRunsResponse{Runs: make([]syncv1.RunSummary, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunSummary(run))
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

func toRunSummary(s lotkeeper.SyncRunSummary) syncv1.RunSummary {
	return syncv1.RunSummary{
		ID:           s.ID,
		TargetCode:   s.TargetCode,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Status:       string(s.Status),
		PagesScanned: s.PagesScanned,
		ItemsScanned: s.ItemsScanned,
		ItemsUpdated: s.ItemsUpdated,
		ErrorCount:   s.ErrorCount,
		MaxPages:     s.MaxPages,
		DryRun:       s.DryRun,
	}
}
