package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
	"github.com/bidwatch/lotkeeper/internal/migrations"
)

func testRepo(t *testing.T) Repo {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// An in-memory database exists per connection; keep the pool at one so
	// every query sees the migrated schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Run(db))

	return New(db)
}

func testLot(code string) lotkeeper.Lot {
	return lotkeeper.Lot{
		TargetCode:         "vh-12",
		Code:               code,
		Title:              "1973 coupe",
		State:              lotkeeper.LotStateRunning,
		BidCount:           3,
		CurrentAmountCents: 125000,
		OpeningAmountCents: 5000,
		Currency:           "EUR",
		Location:           "Hall 1",
	}
}

func TestUpsertLot_InsertThenRead(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertLot(ctx, testLot("a1-1")))

	got, err := repo.LotByCode(ctx, "a1-1")
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "1973 coupe", got.Title)
	assert.Equal(t, int64(125000), got.CurrentAmountCents)
	assert.False(t, got.CreatedAt.IsZero())

	byID, err := repo.Lot(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Code, byID.Code)
}

func TestUpsertLot_ConflictOverwritesMutableColumns(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertLot(ctx, testLot("a1-1")))
	first, err := repo.LotByCode(ctx, "a1-1")
	require.NoError(t, err)

	updated := testLot("a1-1")
	updated.BidCount = 5
	updated.CurrentAmountCents = 140000
	require.NoError(t, repo.UpsertLot(ctx, updated))

	got, err := repo.LotByCode(ctx, "a1-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "row identity survives the upsert")
	assert.Equal(t, 5, got.BidCount)
	assert.Equal(t, int64(140000), got.CurrentAmountCents)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
}

func TestLot_NotFound(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	_, err := repo.Lot(ctx, "nope")
	assert.ErrorIs(t, err, lotkeeper.ErrNotFound)
	_, err = repo.LotByCode(ctx, "nope")
	assert.ErrorIs(t, err, lotkeeper.ErrNotFound)
}

func TestLots_FiltersAndLimits(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, code := range []string{"a1-1", "a1-2", "a1-3"} {
		require.NoError(t, repo.UpsertLot(ctx, testLot(code)))
	}
	other := testLot("z9-1")
	other.TargetCode = "vh-99"
	require.NoError(t, repo.UpsertLot(ctx, other))

	lots, err := repo.Lots(ctx, "vh-12", 0)
	require.NoError(t, err)
	assert.Len(t, lots, 3)

	lots, err = repo.Lots(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, lots, 2)
}

func TestItemSyncState_RoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	_, err := repo.ItemSyncState(ctx, "a1-1")
	assert.ErrorIs(t, err, lotkeeper.ErrNotFound)

	fp := "abc123"
	seen := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.PutItemSyncState(ctx, lotkeeper.ItemSyncState{
		Code:               "a1-1",
		ListingFingerprint: &fp,
		ListingSeenAt:      &seen,
	}))

	state, err := repo.ItemSyncState(ctx, "a1-1")
	require.NoError(t, err)
	require.NotNil(t, state.ListingFingerprint)
	assert.Equal(t, "abc123", *state.ListingFingerprint)
	assert.Nil(t, state.DetailFingerprint)

	// Second put replaces, not duplicates.
	fp2 := "def456"
	require.NoError(t, repo.PutItemSyncState(ctx, lotkeeper.ItemSyncState{
		Code:               "a1-1",
		ListingFingerprint: &fp2,
		DetailFingerprint:  &fp,
		ListingSeenAt:      &seen,
		DetailSeenAt:       &seen,
	}))

	state, err = repo.ItemSyncState(ctx, "a1-1")
	require.NoError(t, err)
	assert.Equal(t, "def456", *state.ListingFingerprint)
	require.NotNil(t, state.DetailFingerprint)
	assert.Equal(t, "abc123", *state.DetailFingerprint)
}

func TestSyncRuns_HistoryOrderAndLimit(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i, id := range []string{"r1-run", "r2-run", "r3-run"} {
		require.NoError(t, repo.RecordSyncRun(ctx, lotkeeper.SyncRunSummary{
			ID:         id,
			TargetCode: "vh-12",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Status:     lotkeeper.RunStatusSuccess,
		}))
	}

	runs, err := repo.SyncRuns(ctx, "vh-12", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3-run", runs[0].ID, "newest first")

	runs, err = repo.SyncRuns(ctx, "vh-12", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r3-run", runs[0].ID)

	runs, err = repo.SyncRuns(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecordSyncRun_DuplicateIsConflict(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	run := lotkeeper.SyncRunSummary{
		ID:         "r1-run",
		TargetCode: "vh-12",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Status:     lotkeeper.RunStatusSuccess,
	}
	require.NoError(t, repo.RecordSyncRun(ctx, run))
	assert.ErrorIs(t, repo.RecordSyncRun(ctx, run), lotkeeper.ErrConflict)
}
