// Package diff decides whether a newly observed record differs materially
// from what was last persisted.
//
// Change detection is done with fingerprints rather than field-by-field
// comparison at call sites, so the set of fields that matter is defined
// exactly once. The listing and detail fingerprints are independent: an
// unchanged listing fingerprint lets a pass skip the expensive detail fetch
// entirely.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"strings"
	"time"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

// Fingerprint is a fixed-length digest over a normalized subset of a
// record's fields.
type Fingerprint string

// Listing computes the fingerprint over the cheap listing-page fields.
func Listing(r lotkeeper.ListingRecord) Fingerprint {
	h := sha256.New()
	writeListingFields(h, r)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Detail computes the fingerprint over the full detail-page fields.
func Detail(r lotkeeper.DetailRecord) Fingerprint {
	h := sha256.New()
	writeListingFields(h, r.ListingRecord)
	fmt.Fprintf(h, "location=%s\n", normText(r.Location))
	fmt.Fprintf(h, "buyer_fee_pct=%d\n", normMoney(r.BuyerFeePct))
	fmt.Fprintf(h, "seller_notes=%s\n", normText(r.SellerNotes))
	fmt.Fprintf(h, "brand=%s\n", normText(r.Brand))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Changed reports whether newFP differs from what was stored. A nil stored
// fingerprint always counts as changed: it's the first observation.
func Changed(newFP Fingerprint, stored *string) bool {
	if stored == nil {
		return true
	}
	return string(newFP) != *stored
}

func writeListingFields(h hash.Hash, r lotkeeper.ListingRecord) {
	fmt.Fprintf(h, "code=%s\n", normCode(r.Code))
	fmt.Fprintf(h, "title=%s\n", normText(r.Title))
	fmt.Fprintf(h, "state=%s\n", r.State)
	fmt.Fprintf(h, "bid_count=%d\n", r.BidCount)
	fmt.Fprintf(h, "current_amount=%d\n", normMoney(r.CurrentAmount))
	fmt.Fprintf(h, "opening_amount=%d\n", normMoney(r.OpeningAmount))
	fmt.Fprintf(h, "currency=%s\n", normCode(r.Currency))
	fmt.Fprintf(h, "opens_at=%s\n", normTime(r.OpensAt))
	fmt.Fprintf(h, "closes_at=%s\n", normTime(r.ClosesAt))
}

// normCode trims and lower-cases identifying codes so "  A1-1  " and "a1-1"
// fingerprint identically.
func normCode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normText trims and collapses interior whitespace runs to a single space.
func normText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normMoney rounds an amount to the currency's minor unit (cents).
func normMoney(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// normTime canonicalizes a timestamp to UTC RFC3339. Nil becomes the empty
// string so "never" is distinguishable from any real time.
func normTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
