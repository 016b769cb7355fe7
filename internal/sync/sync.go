// Package sync drives synchronization passes against a remote listing
// target: discover pages, fetch listing cards, diff fingerprints, fetch
// details for what changed, persist, summarize.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bidwatch/lotkeeper/internal/diff"
	"github.com/bidwatch/lotkeeper/internal/events"
	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
	"github.com/bidwatch/lotkeeper/internal/parse"
	"github.com/bidwatch/lotkeeper/logger"
)

const runNamespace = "-run"

// Fetcher retrieves raw page bytes for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options bound a single pass.
type Options struct {
	// MaxPages caps how many listing pages one pass will scan. Zero means
	// no cap.
	MaxPages int

	// DryRun walks the full fetch-and-diff flow but skips every repository
	// write. The summary still reports what would have changed.
	DryRun bool
}

// Orchestrator executes complete passes. It owns no long-running state; the
// Runner wraps it for that.
type Orchestrator struct {
	fetcher     Fetcher
	repo        lotkeeper.Repository
	bus         *events.Bus
	concurrency int
}

// NewOrchestrator wires a pass executor. Concurrency bounds how many detail
// and page fetches one pass has in flight at once.
func NewOrchestrator(f Fetcher, repo lotkeeper.Repository, bus *events.Bus, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{
		fetcher:     f,
		repo:        repo,
		bus:         bus,
		concurrency: concurrency,
	}
}

// RunOnce executes one complete, bounded pass against the target.
//
// A failure to fetch or parse the target's first page fails the whole pass.
// Every other fetch/parse error is counted, the item skipped, and the pass
// carries on. The returned summary is always populated; err is non-nil only
// for those fatal setup failures.
func (o *Orchestrator) RunOnce(ctx context.Context, target lotkeeper.Target, opts Options) (lotkeeper.SyncRunSummary, error) {
	summary := lotkeeper.SyncRunSummary{
		ID:         fmt.Sprintf("%s%s", uuid.NewString(), runNamespace),
		TargetCode: target.Code,
		StartedAt:  time.Now().UTC(),
		MaxPages:   opts.MaxPages,
		DryRun:     opts.DryRun,
	}
	ctx = logger.Ctx(ctx, slog.String("run_id", summary.ID))

	o.bus.Publish(events.New(events.TypeSyncStarted, events.SyncStartedPayload{
		TargetCode: target.Code,
		MaxPages:   opts.MaxPages,
		DryRun:     opts.DryRun,
	}))

	base, err := url.Parse(target.BaseURL)
	if err != nil {
		return o.failRun(ctx, summary, fmt.Errorf("bad target url: %w", err))
	}

	// The first page is the root of everything: losing it means there is
	// nothing to scan, so it fails the pass outright.
	firstBody, err := o.fetcher.Fetch(ctx, target.BaseURL)
	if err != nil {
		return o.failRun(ctx, summary, fmt.Errorf("fetching first page: %w", err))
	}
	first, err := parse.ParseListingPage(firstBody)
	if err != nil {
		return o.failRun(ctx, summary, fmt.Errorf("parsing first page: %w", err))
	}

	var (
		mu       stdsync.Mutex
		records  = first.Records
		pagesOK  = 1
		errCount = len(first.CardErrors)
	)

	pageURLs := resolveAll(base, first.NextPageURLs)
	if opts.MaxPages > 0 && len(pageURLs) > opts.MaxPages-1 {
		pageURLs = pageURLs[:opts.MaxPages-1]
	}

	// Remaining pages, fetched under the concurrency cap. A bad page costs
	// an error count, never the pass.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, pageURL := range pageURLs {
		pageURL := pageURL
		g.Go(func() error {
			body, err := o.fetcher.Fetch(gctx, pageURL)
			if err != nil {
				slog.WarnContext(gctx, "listing page fetch failed", "target", target.Code, "url", pageURL, "error", err)
				mu.Lock()
				errCount++
				mu.Unlock()
				return nil
			}
			page, err := parse.ParseListingPage(body)
			if err != nil {
				slog.WarnContext(gctx, "listing page parse failed", "target", target.Code, "url", pageURL, "error", err)
				mu.Lock()
				errCount++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			records = append(records, page.Records...)
			errCount += len(page.CardErrors)
			pagesOK++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers only report via the counters

	// The same lot can appear on two pages while the site shuffles ordering
	// under us; process each code exactly once per pass.
	records = dedupe(records)

	summary.PagesScanned = pagesOK
	summary.ItemsScanned = len(records)

	// Per-item diff, detail fetch, and persist.
	var updated int
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			changed, err := o.syncItem(gctx, base, target, rec, opts)
			mu.Lock()
			if err != nil {
				slog.WarnContext(gctx, "item sync failed", "target", target.Code, "lot", rec.Code, "error", err)
				errCount++
			}
			if changed {
				updated++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.ItemsUpdated = updated
	summary.ErrorCount = errCount
	summary.FinishedAt = time.Now().UTC()
	summary.Status = lotkeeper.RunStatusSuccess
	if errCount > 0 {
		summary.Status = lotkeeper.RunStatusPartial
	}

	o.recordRun(ctx, summary)
	o.bus.Publish(events.New(events.TypeSyncCompleted, events.SyncCompletedPayload{Summary: summary}))

	return summary, nil
}

// syncItem carries one listing record from fingerprint comparison through
// upsert. Returns whether anything material changed. All errors returned
// here are per-item: the caller counts them and keeps going.
func (o *Orchestrator) syncItem(ctx context.Context, base *url.URL, target lotkeeper.Target, rec lotkeeper.ListingRecord, opts Options) (bool, error) {
	state, err := o.repo.ItemSyncState(ctx, rec.Code)
	isNew := errors.Is(err, lotkeeper.ErrNotFound)
	if err != nil && !isNew {
		return false, fmt.Errorf("reading sync state for %s: %w", rec.Code, err)
	}
	if isNew {
		state = lotkeeper.ItemSyncState{Code: rec.Code}
	}

	listingFP := diff.Listing(rec)
	listingChanged := diff.Changed(listingFP, state.ListingFingerprint)

	// The detail fetch is the expensive part; skip it whenever the cheap
	// listing fingerprint already tells us nothing moved.
	needDetail := listingChanged || state.DetailFingerprint == nil

	var (
		detail        *lotkeeper.DetailRecord
		detailFP      diff.Fingerprint
		detailChanged bool
	)
	if needDetail && rec.DetailURL != "" {
		body, err := o.fetcher.Fetch(ctx, resolve(base, rec.DetailURL))
		if err != nil {
			// Skip the item wholesale: its previous persisted state stays
			// untouched rather than risking a half-observed write.
			return false, fmt.Errorf("fetching detail for %s: %w", rec.Code, err)
		}
		d, err := parse.ParseDetailPage(body)
		if err != nil {
			return false, fmt.Errorf("parsing detail for %s: %w", rec.Code, err)
		}
		detail = &d
		detailFP = diff.Detail(d)
		detailChanged = diff.Changed(detailFP, state.DetailFingerprint)
	}

	changed := listingChanged || detailChanged
	if opts.DryRun {
		return changed, nil
	}

	now := time.Now().UTC()
	if changed {
		if err := o.repo.UpsertLot(ctx, buildLot(target, rec, detail)); err != nil {
			return false, fmt.Errorf("upserting lot %s: %w", rec.Code, err)
		}
	}

	// Sync state is written even when nothing changed so the last-seen
	// timestamps stay current.
	fp := string(listingFP)
	state.ListingFingerprint = &fp
	state.ListingSeenAt = &now
	if detail != nil {
		dfp := string(detailFP)
		state.DetailFingerprint = &dfp
		state.DetailSeenAt = &now
	}
	if err := o.repo.PutItemSyncState(ctx, state); err != nil {
		return changed, fmt.Errorf("writing sync state for %s: %w", rec.Code, err)
	}

	if changed {
		o.bus.Publish(events.New(events.TypeLotUpdated, events.LotUpdatedPayload{
			Code:          rec.Code,
			Title:         rec.Title,
			State:         rec.State,
			BidCount:      rec.BidCount,
			CurrentAmount: rec.CurrentAmount,
			Currency:      rec.Currency,
		}))
	}

	return changed, nil
}

// failRun finalizes a pass that never got off the ground.
func (o *Orchestrator) failRun(ctx context.Context, summary lotkeeper.SyncRunSummary, cause error) (lotkeeper.SyncRunSummary, error) {
	summary.FinishedAt = time.Now().UTC()
	summary.Status = lotkeeper.RunStatusFailed
	summary.ErrorCount = 1

	o.recordRun(ctx, summary)
	o.bus.Publish(events.New(events.TypeSyncError, events.SyncErrorPayload{
		TargetCode: summary.TargetCode,
		Error:      cause.Error(),
	}))

	return summary, cause
}

func (o *Orchestrator) recordRun(ctx context.Context, summary lotkeeper.SyncRunSummary) {
	if summary.DryRun {
		// Dry runs are read-only simulations all the way down, history
		// included.
		return
	}
	if err := o.repo.RecordSyncRun(ctx, summary); err != nil {
		slog.ErrorContext(ctx, "error recording sync run", "run_id", summary.ID, "error", err)
	}
}

func buildLot(target lotkeeper.Target, rec lotkeeper.ListingRecord, detail *lotkeeper.DetailRecord) lotkeeper.Lot {
	lot := lotkeeper.Lot{
		TargetCode:         target.Code,
		Code:               rec.Code,
		Title:              rec.Title,
		State:              rec.State,
		BidCount:           rec.BidCount,
		CurrentAmountCents: minorUnits(rec.CurrentAmount),
		OpeningAmountCents: minorUnits(rec.OpeningAmount),
		Currency:           rec.Currency,
		OpensAt:            rec.OpensAt,
		ClosesAt:           rec.ClosesAt,
	}
	if detail != nil {
		lot.Title = detail.Title
		lot.State = detail.State
		lot.BidCount = detail.BidCount
		lot.CurrentAmountCents = minorUnits(detail.CurrentAmount)
		lot.OpeningAmountCents = minorUnits(detail.OpeningAmount)
		lot.Location = detail.Location
		lot.BuyerFeePct = detail.BuyerFeePct
		lot.SellerNotes = detail.SellerNotes
		lot.Brand = detail.Brand
	}

	return lot
}

func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// resolve turns a possibly-relative href into an absolute URL.
func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func resolveAll(base *url.URL, hrefs []string) []string {
	seen := map[string]struct{}{base.String(): {}}
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		abs := resolve(base, href)
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}

	return out
}

func dedupe(records []lotkeeper.ListingRecord) []lotkeeper.ListingRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		if _, ok := seen[rec.Code]; ok {
			continue
		}
		seen[rec.Code] = struct{}{}
		out = append(out, rec)
	}

	return out
}
