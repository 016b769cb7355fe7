// Package lotkeeper holds the core domain types for tracking auction lots.
package lotkeeper

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

// LotState is the lifecycle state of a lot as shown on the listing site.
type LotState string

const (
	LotStateScheduled LotState = "scheduled"
	LotStateRunning   LotState = "running"
	LotStateClosed    LotState = "closed"
)

type (
	// Target is an external paginated listing source being synchronized.
	Target struct {
		Code    string `json:"code"`
		BaseURL string `json:"base_url"`
	}

	// ListingRecord is one lot as it appears on a listing page. It carries
	// only the cheap fields; everything else requires a detail fetch.
	ListingRecord struct {
		Code          string
		Title         string
		State         LotState
		BidCount      int
		CurrentAmount float64
		OpeningAmount float64
		Currency      string
		OpensAt       *time.Time
		ClosesAt      *time.Time

		// DetailURL is the href the listing card points at.
		DetailURL string
	}

	// DetailRecord is the enriched representation fetched from a lot's own page.
	DetailRecord struct {
		ListingRecord

		Location    string
		BuyerFeePct float64
		SellerNotes string
		Brand       string
	}

	// Lot is the persisted row for a tracked lot.
	Lot struct {
		ID                 string     `db:"id"`
		TargetCode         string     `db:"target_code"`
		Code               string     `db:"code"`
		Title              string     `db:"title"`
		State              LotState   `db:"state"`
		BidCount           int        `db:"bid_count"`
		CurrentAmountCents int64      `db:"current_amount_cents"`
		OpeningAmountCents int64      `db:"opening_amount_cents"`
		Currency           string     `db:"currency"`
		OpensAt            *time.Time `db:"opens_at"`
		ClosesAt           *time.Time `db:"closes_at"`
		Location           string     `db:"location"`
		BuyerFeePct        float64    `db:"buyer_fee_pct"`
		SellerNotes        string     `db:"seller_notes"`
		Brand              string     `db:"brand"`
		CreatedAt          time.Time  `db:"created_at"`
		UpdatedAt          time.Time  `db:"updated_at"`
	}

	// ItemSyncState is the per-lot bookkeeping that makes passes cheap:
	// the fingerprints last persisted and when each side was last observed.
	ItemSyncState struct {
		Code               string     `db:"code"`
		ListingFingerprint *string    `db:"listing_fingerprint"`
		DetailFingerprint  *string    `db:"detail_fingerprint"`
		ListingSeenAt      *time.Time `db:"listing_seen_at"`
		DetailSeenAt       *time.Time `db:"detail_seen_at"`
	}

	// SyncRunSummary records one complete pass against a target. It is
	// appended to the run history and never mutated afterwards.
	SyncRunSummary struct {
		ID           string    `db:"id"`
		TargetCode   string    `db:"target_code"`
		StartedAt    time.Time `db:"started_at"`
		FinishedAt   time.Time `db:"finished_at"`
		Status       RunStatus `db:"status"`
		PagesScanned int       `db:"pages_scanned"`
		ItemsScanned int       `db:"items_scanned"`
		ItemsUpdated int       `db:"items_updated"`
		ErrorCount   int       `db:"error_count"`
		MaxPages     int       `db:"max_pages"`
		DryRun       bool      `db:"dry_run"`
	}

	// Repository is the persistence surface the sync core writes through.
	//
	// Upserts are at-least-once safe: re-upserting identical data is harmless.
	Repository interface {
		Lot(ctx context.Context, id string) (Lot, error)
		LotByCode(ctx context.Context, code string) (Lot, error)
		Lots(ctx context.Context, targetCode string, limit int) ([]Lot, error)
		UpsertLot(ctx context.Context, lot Lot) error
		ItemSyncState(ctx context.Context, code string) (ItemSyncState, error)
		PutItemSyncState(ctx context.Context, state ItemSyncState) error
		RecordSyncRun(ctx context.Context, summary SyncRunSummary) error
		SyncRuns(ctx context.Context, targetCode string, limit int) ([]SyncRunSummary, error)
	}
)

// RunStatus is the outcome of a single pass.
type RunStatus string

const (
	// RunStatusSuccess means every page and item was processed cleanly.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial means at least one page succeeded but some items hit
	// fetch or parse errors. This is the expected outcome of a pass that ran
	// into a handful of bad pages, not an alarm.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed means the target was not reachable at all this pass.
	RunStatusFailed RunStatus = "failed"
)
