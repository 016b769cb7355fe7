package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

const lotNamespace = "-lot"

func (r Repo) Lot(ctx context.Context, id string) (lotkeeper.Lot, error) {
	const q = `SELECT * FROM lots WHERE id = ?;`

	var lot lotkeeper.Lot
	err := r.db.GetContext(ctx, &lot, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return lotkeeper.Lot{}, lotkeeper.ErrNotFound
	}
	if err != nil {
		return lotkeeper.Lot{}, fmt.Errorf("error fetching lot: %s", err)
	}

	return lot, nil
}

func (r Repo) LotByCode(ctx context.Context, code string) (lotkeeper.Lot, error) {
	const q = `SELECT * FROM lots WHERE code = ?;`

	var lot lotkeeper.Lot
	err := r.db.GetContext(ctx, &lot, q, code)
	if errors.Is(err, sql.ErrNoRows) {
		return lotkeeper.Lot{}, lotkeeper.ErrNotFound
	}
	if err != nil {
		return lotkeeper.Lot{}, fmt.Errorf("error fetching lot: %s", err)
	}

	return lot, nil
}

// Lots returns lots for a target, most recently updated first.
func (r Repo) Lots(ctx context.Context, targetCode string, limit int) ([]lotkeeper.Lot, error) {
	b := sq.Select("*").From("lots").OrderBy("updated_at DESC")
	if targetCode != "" {
		b = b.Where(sq.Eq{"target_code": targetCode})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	lots := []lotkeeper.Lot{}
	if err := r.db.SelectContext(ctx, &lots, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching lots: %s", err)
	}

	return lots, nil
}

// UpsertLot inserts the lot or, when its code is already tracked, overwrites
// the mutable columns. created_at survives the overwrite.
func (r Repo) UpsertLot(ctx context.Context, lot lotkeeper.Lot) error {
	if lot.ID == "" {
		lot.ID = fmt.Sprintf("%s%s", uuid.NewString(), lotNamespace)
	}
	now := time.Now().UTC()
	lot.CreatedAt = now
	lot.UpdatedAt = now

	const q = `INSERT INTO lots (
		id, target_code, code, title, state, bid_count,
		current_amount_cents, opening_amount_cents, currency,
		opens_at, closes_at, location, buyer_fee_pct, seller_notes, brand,
		created_at, updated_at
	) VALUES (
		:id, :target_code, :code, :title, :state, :bid_count,
		:current_amount_cents, :opening_amount_cents, :currency,
		:opens_at, :closes_at, :location, :buyer_fee_pct, :seller_notes, :brand,
		:created_at, :updated_at
	)
	ON CONFLICT(code) DO UPDATE SET
		target_code = excluded.target_code,
		title = excluded.title,
		state = excluded.state,
		bid_count = excluded.bid_count,
		current_amount_cents = excluded.current_amount_cents,
		opening_amount_cents = excluded.opening_amount_cents,
		currency = excluded.currency,
		opens_at = excluded.opens_at,
		closes_at = excluded.closes_at,
		location = excluded.location,
		buyer_fee_pct = excluded.buyer_fee_pct,
		seller_notes = excluded.seller_notes,
		brand = excluded.brand,
		updated_at = excluded.updated_at;`
	if _, err := r.db.NamedExecContext(ctx, q, lot); err != nil {
		return fmt.Errorf("error upserting lot: %s", err)
	}

	return nil
}

func (r Repo) ItemSyncState(ctx context.Context, code string) (lotkeeper.ItemSyncState, error) {
	const q = `SELECT * FROM lot_sync_state WHERE code = ?;`

	var state lotkeeper.ItemSyncState
	err := r.db.GetContext(ctx, &state, q, code)
	if errors.Is(err, sql.ErrNoRows) {
		return lotkeeper.ItemSyncState{}, lotkeeper.ErrNotFound
	}
	if err != nil {
		return lotkeeper.ItemSyncState{}, fmt.Errorf("error fetching sync state: %s", err)
	}

	return state, nil
}

func (r Repo) PutItemSyncState(ctx context.Context, state lotkeeper.ItemSyncState) error {
	const q = `INSERT INTO lot_sync_state (
		code, listing_fingerprint, detail_fingerprint, listing_seen_at, detail_seen_at
	) VALUES (
		:code, :listing_fingerprint, :detail_fingerprint, :listing_seen_at, :detail_seen_at
	)
	ON CONFLICT(code) DO UPDATE SET
		listing_fingerprint = excluded.listing_fingerprint,
		detail_fingerprint = excluded.detail_fingerprint,
		listing_seen_at = excluded.listing_seen_at,
		detail_seen_at = excluded.detail_seen_at;`
	if _, err := r.db.NamedExecContext(ctx, q, state); err != nil {
		return fmt.Errorf("error writing sync state: %s", err)
	}

	return nil
}

func (r Repo) RecordSyncRun(ctx context.Context, summary lotkeeper.SyncRunSummary) error {
	const q = `INSERT INTO sync_runs (
		id, target_code, started_at, finished_at, status,
		pages_scanned, items_scanned, items_updated, error_count, max_pages, dry_run
	) VALUES (
		:id, :target_code, :started_at, :finished_at, :status,
		:pages_scanned, :items_scanned, :items_updated, :error_count, :max_pages, :dry_run
	);`
	_, err := r.db.NamedExecContext(ctx, q, summary)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return fmt.Errorf("run already recorded: %w", lotkeeper.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("error recording sync run: %s", err)
	}

	return nil
}

func (r Repo) SyncRuns(ctx context.Context, targetCode string, limit int) ([]lotkeeper.SyncRunSummary, error) {
	b := sq.Select("*").From("sync_runs").OrderBy("started_at DESC")
	if targetCode != "" {
		b = b.Where(sq.Eq{"target_code": targetCode})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	runs := []lotkeeper.SyncRunSummary{}
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching sync runs: %s", err)
	}

	return runs, nil
}
