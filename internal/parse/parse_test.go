package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

const testListingPage = `<!DOCTYPE html>
<html><body>
<ul class="lot-grid">
  <li class="lot-card" data-code="A1-1" data-currency="EUR">
    <a class="lot-link" href="/lots/a1-1">Forklift, <b>electric</b></a>
    <span class="lot-state">running</span>
    <span class="bid-count">4</span>
    <span class="amount current">1,250.00</span>
    <span class="amount opening">100.00</span>
    <time class="closes-at" datetime="2026-03-14T15:00:00Z"></time>
  </li>
  <li class="lot-card" data-code="A1-2" data-currency="EUR">
    <a class="lot-link" href="/lots/a1-2">Pallet racking</a>
    <span class="lot-state">scheduled</span>
    <span class="amount opening">50.00</span>
    <time class="opens-at" datetime="2026-03-10T09:00:00Z"></time>
  </li>
</ul>
<nav class="pagination">
  <a href="?page=2">2</a>
  <a href="?page=3">3</a>
</nav>
</body></html>`

const testDetailPage = `<!DOCTYPE html>
<html><body>
<div class="lot-detail" data-code="A1-1" data-currency="EUR">
  <h1 class="lot-title">Forklift, electric</h1>
  <span class="lot-state">running</span>
  <span class="bid-count">4</span>
  <span class="amount current">1,250.00</span>
  <span class="amount opening">100.00</span>
  <time class="closes-at" datetime="2026-03-14T15:00:00Z"></time>
  <dl class="lot-attributes">
    <dt>Location</dt><dd>Hall 3, Bay 12</dd>
    <dt>Brand</dt><dd>Linde</dd>
    <dt>Buyer fee</dt><dd>17.5%</dd>
    <dt>Seller notes</dt><dd>Battery replaced <i>2024</i></dd>
  </dl>
</div>
</body></html>`

func TestParseListingPage(t *testing.T) {
	page, err := ParseListingPage([]byte(testListingPage))
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.Empty(t, page.CardErrors)

	first := page.Records[0]
	assert.Equal(t, "A1-1", first.Code)
	assert.Equal(t, "Forklift, electric", first.Title, "markup stripped from title")
	assert.Equal(t, lotkeeper.LotStateRunning, first.State)
	assert.Equal(t, 4, first.BidCount)
	assert.Equal(t, 1250.00, first.CurrentAmount)
	assert.Equal(t, 100.00, first.OpeningAmount)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, "/lots/a1-1", first.DetailURL)
	require.NotNil(t, first.ClosesAt)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC), first.ClosesAt.UTC())

	second := page.Records[1]
	assert.Equal(t, lotkeeper.LotStateScheduled, second.State)
	assert.Zero(t, second.CurrentAmount, "scheduled lot has no current bid")
	require.NotNil(t, second.OpensAt)

	assert.Equal(t, []string{"?page=2", "?page=3"}, page.NextPageURLs)
}

func TestParseListingPage_BadCardIsIsolated(t *testing.T) {
	const page = `<html><body><ul>
	  <li class="lot-card" data-code="OK-1"><a class="lot-link" href="/lots/ok-1">Good</a></li>
	  <li class="lot-card"><a class="lot-link" href="/lots/x">No code</a></li>
	  <li class="lot-card" data-code="OK-2"><a class="lot-link" href="/lots/ok-2">Also good</a></li>
	</ul></body></html>`

	parsed, err := ParseListingPage([]byte(page))
	require.NoError(t, err)
	require.Len(t, parsed.Records, 2)
	require.Len(t, parsed.CardErrors, 1)
	assert.True(t, IsParseError(parsed.CardErrors[0]))
}

func TestParseListingPage_NoCards(t *testing.T) {
	_, err := ParseListingPage([]byte(`<html><body><p>maintenance</p></body></html>`))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseDetailPage(t *testing.T) {
	rec, err := ParseDetailPage([]byte(testDetailPage))
	require.NoError(t, err)

	assert.Equal(t, "A1-1", rec.Code)
	assert.Equal(t, "Forklift, electric", rec.Title)
	assert.Equal(t, lotkeeper.LotStateRunning, rec.State)
	assert.Equal(t, 4, rec.BidCount)
	assert.Equal(t, 1250.00, rec.CurrentAmount)
	assert.Equal(t, "Hall 3, Bay 12", rec.Location)
	assert.Equal(t, "Linde", rec.Brand)
	assert.Equal(t, 17.5, rec.BuyerFeePct)
	assert.Equal(t, "Battery replaced 2024", rec.SellerNotes)
}

func TestParseDetailPage_MissingBlock(t *testing.T) {
	_, err := ParseDetailPage([]byte(`<html><body></body></html>`))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseDetailPage_UnknownState(t *testing.T) {
	const page = `<html><body><div class="lot-detail" data-code="A1">
	  <span class="lot-state">vaporized</span>
	</div></body></html>`

	_, err := ParseDetailPage([]byte(page))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1,250.00", 1250.00},
		{"€ 1250", 1250},
		{"", 0},
		{"  ", 0},
		{"100.50", 100.5},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseAmount("a lot")
	require.Error(t, err)
}
