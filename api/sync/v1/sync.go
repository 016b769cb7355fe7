package v1

import (
	"net/url"
	"time"

	"github.com/bidwatch/lotkeeper/api"
)

type RunSyncRequest struct {
	TargetCode string `json:"target_code"`
	BaseURL    string `json:"base_url"`
	MaxPages   int    `json:"max_pages"`
	DryRun     bool   `json:"dry_run"`
}

// Validate checks that the body (minus logic checks) is valid.
//
// Returns an api.Error if the request is invalid.
func (r RunSyncRequest) Validate() error {
	errs := targetDetails(r.TargetCode, r.BaseURL)
	if r.MaxPages < 0 {
		errs = append(errs, api.ErrorDetail{
			Field: "max_pages",
			Error: "max_pages cannot be negative",
		})
	}
	if len(errs) > 0 {
		return invalid(errs)
	}

	return nil
}

type StartRunnerRequest struct {
	TargetCode      string `json:"target_code"`
	BaseURL         string `json:"base_url"`
	IntervalSeconds int    `json:"interval_seconds"`
	MaxPages        int    `json:"max_pages"`
	DryRun          bool   `json:"dry_run"`
}

func (r StartRunnerRequest) Validate() error {
	errs := targetDetails(r.TargetCode, r.BaseURL)
	if r.IntervalSeconds <= 0 {
		errs = append(errs, api.ErrorDetail{
			Field: "interval_seconds",
			Error: "interval_seconds must be positive",
		})
	}
	if r.MaxPages < 0 {
		errs = append(errs, api.ErrorDetail{
			Field: "max_pages",
			Error: "max_pages cannot be negative",
		})
	}
	if len(errs) > 0 {
		return invalid(errs)
	}

	return nil
}

// RunSummary is the wire form of one recorded pass.
type RunSummary struct {
	ID           string    `json:"id"`
	TargetCode   string    `json:"target_code"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Status       string    `json:"status"`
	PagesScanned int       `json:"pages_scanned"`
	ItemsScanned int       `json:"items_scanned"`
	ItemsUpdated int       `json:"items_updated"`
	ErrorCount   int       `json:"error_count"`
	MaxPages     int       `json:"max_pages,omitempty"`
	DryRun       bool      `json:"dry_run,omitempty"`
}

type ListRunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// Lot is the wire form of a tracked lot.
type Lot struct {
	ID            string     `json:"id"`
	TargetCode    string     `json:"target_code"`
	Code          string     `json:"code"`
	Title         string     `json:"title"`
	State         string     `json:"state"`
	BidCount      int        `json:"bid_count"`
	CurrentAmount float64    `json:"current_amount"`
	OpeningAmount float64    `json:"opening_amount"`
	Currency      string     `json:"currency"`
	OpensAt       *time.Time `json:"opens_at,omitempty"`
	ClosesAt      *time.Time `json:"closes_at,omitempty"`
	Location      string     `json:"location,omitempty"`
	BuyerFeePct   float64    `json:"buyer_fee_pct,omitempty"`
	SellerNotes   string     `json:"seller_notes,omitempty"`
	Brand         string     `json:"brand,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ListLotsResponse struct {
	Lots []Lot `json:"lots"`
}

func targetDetails(code, baseURL string) []api.ErrorDetail {
	errs := []api.ErrorDetail{}
	if code == "" {
		errs = append(errs, api.ErrorDetail{
			Field: "target_code",
			Error: "target_code is required",
		})
	}
	if baseURL == "" {
		errs = append(errs, api.ErrorDetail{
			Field: "base_url",
			Error: "base_url is required",
		})
	} else if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, api.ErrorDetail{
			Field: "base_url",
			Error: "base_url must be an absolute http(s) url",
		})
	}

	return errs
}

func invalid(errs []api.ErrorDetail) error {
	return api.Error{
		Reason:  "invalid_request",
		Message: "request was invalid",
		Details: errs,
	}
}
