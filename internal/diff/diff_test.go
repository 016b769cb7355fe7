package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

func baseListing() lotkeeper.ListingRecord {
	closes := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return lotkeeper.ListingRecord{
		Code:          "A1-1",
		Title:         "Forklift, electric",
		State:         lotkeeper.LotStateRunning,
		BidCount:      4,
		CurrentAmount: 1250.00,
		OpeningAmount: 100.00,
		Currency:      "EUR",
		ClosesAt:      &closes,
	}
}

func TestListing_Deterministic(t *testing.T) {
	r := baseListing()
	assert.Equal(t, Listing(r), Listing(r))
}

func TestListing_NormalizationCollapses(t *testing.T) {
	a := baseListing()

	b := baseListing()
	b.Code = "  a1-1  "
	b.Title = "Forklift,   electric"
	assert.Equal(t, Listing(a), Listing(b))

	// The same wall-clock instant in a different zone fingerprints the same.
	c := baseListing()
	local := c.ClosesAt.In(time.FixedZone("CET", 3600))
	c.ClosesAt = &local
	assert.Equal(t, Listing(a), Listing(c))

	// Sub-cent noise in a parsed amount rounds away.
	d := baseListing()
	d.CurrentAmount = 1250.0000001
	assert.Equal(t, Listing(a), Listing(d))
}

func TestListing_FieldChangesFingerprint(t *testing.T) {
	a := baseListing()

	b := baseListing()
	b.BidCount = 5
	assert.NotEqual(t, Listing(a), Listing(b))

	c := baseListing()
	c.CurrentAmount = 1250.01
	assert.NotEqual(t, Listing(a), Listing(c))

	d := baseListing()
	d.ClosesAt = nil
	assert.NotEqual(t, Listing(a), Listing(d))
}

func TestDetail_IndependentOfOtherRecords(t *testing.T) {
	a := lotkeeper.DetailRecord{ListingRecord: baseListing(), Location: "Hall 3", Brand: "Linde"}

	// Mutating one detail field changes the detail fingerprint but leaves an
	// unrelated record's listing fingerprint alone.
	b := a
	b.SellerNotes = "pallet included"
	assert.NotEqual(t, Detail(a), Detail(b))

	other := baseListing()
	other.Code = "B2-9"
	before := Listing(other)
	_ = Detail(b)
	assert.Equal(t, before, Listing(other))
}

func TestDetail_CoversListingFields(t *testing.T) {
	a := lotkeeper.DetailRecord{ListingRecord: baseListing()}
	b := a
	b.BidCount++
	assert.NotEqual(t, Detail(a), Detail(b))
}

func TestChanged(t *testing.T) {
	fp := Listing(baseListing())

	require.True(t, Changed(fp, nil), "first observation always counts as changed")

	same := string(fp)
	assert.False(t, Changed(fp, &same))

	other := "deadbeef"
	assert.True(t, Changed(fp, &other))
}
