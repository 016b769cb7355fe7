package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	syncv1 "github.com/bidwatch/lotkeeper/api/sync/v1"
	lkerrs "github.com/bidwatch/lotkeeper/internal/errors"
	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
	"github.com/bidwatch/lotkeeper/internal/serverutil"
)

func (s *Server) getLots(w http.ResponseWriter, r *http.Request) error {
	limit, _ := parsePaginationParams(r, 50, 200)

	lots, err := s.repo.Lots(r.Context(), r.URL.Query().Get("target"), limit)
	if err != nil {
		return err
	}

	resp := syncv1.ListLotsResponse{Lots: make([]syncv1.Lot, 0, len(lots))}
	for _, lot := range lots {
		resp.Lots = append(resp.Lots, toLot(lot))
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) getLot(w http.ResponseWriter, r *http.Request) error {
	code := mux.Vars(r)["code"]

	if cached, ok := s.lotRespCache.Get(code); ok {
		return serverutil.WriteJSON(w, http.StatusOK, cached)
	}

	lot, err := s.repo.LotByCode(r.Context(), code)
	if errors.Is(err, lotkeeper.ErrNotFound) {
		return lkerrs.E(http.StatusNotFound, "lot not found")
	}
	if err != nil {
		return err
	}

	resp := toLot(lot)
	s.lotRespCache.Add(code, resp)

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

func toLot(l lotkeeper.Lot) syncv1.Lot {
	return syncv1.Lot{
		ID:            l.ID,
		TargetCode:    l.TargetCode,
		Code:          l.Code,
		Title:         l.Title,
		State:         string(l.State),
		BidCount:      l.BidCount,
		CurrentAmount: float64(l.CurrentAmountCents) / 100,
		OpeningAmount: float64(l.OpeningAmountCents) / 100,
		Currency:      l.Currency,
		OpensAt:       l.OpensAt,
		ClosesAt:      l.ClosesAt,
		Location:      l.Location,
		BuyerFeePct:   l.BuyerFeePct,
		SellerNotes:   l.SellerNotes,
		Brand:         l.Brand,
		UpdatedAt:     l.UpdatedAt,
	}
}
