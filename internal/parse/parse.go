// Package parse turns raw listing-site markup into structured records.
//
// Parsing is pure over the page bytes: no network, no shared state. Anything
// malformed comes back as a *Error so callers can count it and move on.
package parse

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

// Error reports a page or record that could not be parsed.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// IsParseError reports whether err is a per-page parse failure.
func IsParseError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// ListingPage is the result of parsing one listing page: the lot cards on it
// plus any pagination links it carries. Links are returned as found (often
// relative); resolving them against the target is the caller's job.
//
// A card that fails to parse doesn't poison the page: it lands in CardErrors
// and the remaining cards come through, so one broken lot never costs a pass
// the rest of the page.
type ListingPage struct {
	Records      []lotkeeper.ListingRecord
	NextPageURLs []string
	CardErrors   []error
}

// ParseListingPage extracts the lot cards and pagination links from a
// listing page.
func ParseListingPage(page []byte) (ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ListingPage{}, &Error{Reason: "unreadable listing page", Err: err}
	}

	cards := doc.Find("li.lot-card")
	if cards.Length() == 0 {
		return ListingPage{}, &Error{Reason: "no lot cards found"}
	}

	var out ListingPage
	cards.Each(func(_ int, card *goquery.Selection) {
		rec, err := parseCard(card)
		if err != nil {
			out.CardErrors = append(out.CardErrors, err)
			return
		}
		out.Records = append(out.Records, rec)
	})

	doc.Find("nav.pagination a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && href != "" {
			out.NextPageURLs = append(out.NextPageURLs, href)
		}
	})

	return out, nil
}

// ParseDetailPage extracts the full record from a lot's own page.
func ParseDetailPage(page []byte) (lotkeeper.DetailRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return lotkeeper.DetailRecord{}, &Error{Reason: "unreadable detail page", Err: err}
	}

	root := doc.Find("div.lot-detail").First()
	if root.Length() == 0 {
		return lotkeeper.DetailRecord{}, &Error{Reason: "no lot detail block found"}
	}

	code := strings.TrimSpace(root.AttrOr("data-code", ""))
	if code == "" {
		return lotkeeper.DetailRecord{}, &Error{Reason: "detail block has no lot code"}
	}

	rec := lotkeeper.DetailRecord{
		ListingRecord: lotkeeper.ListingRecord{
			Code:     code,
			Title:    sanitize(root.Find("h1.lot-title").First().Text()),
			Currency: root.AttrOr("data-currency", ""),
		},
	}

	state, err := parseState(root.Find(".lot-state").First().Text())
	if err != nil {
		return lotkeeper.DetailRecord{}, err
	}
	rec.State = state

	if s := root.Find(".bid-count").First().Text(); strings.TrimSpace(s) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return lotkeeper.DetailRecord{}, &Error{Reason: "bad bid count", Err: err}
		}
		rec.BidCount = n
	}
	if rec.CurrentAmount, err = parseAmount(root.Find(".amount.current").First().Text()); err != nil {
		return lotkeeper.DetailRecord{}, err
	}
	if rec.OpeningAmount, err = parseAmount(root.Find(".amount.opening").First().Text()); err != nil {
		return lotkeeper.DetailRecord{}, err
	}
	rec.OpensAt = parseTimeAttr(root.Find("time.opens-at").First())
	rec.ClosesAt = parseTimeAttr(root.Find("time.closes-at").First())

	// Structured attributes live in a definition list.
	root.Find("dl.lot-attributes dt").Each(func(_ int, dt *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(dt.Text()))
		val := sanitize(dt.Next().Text())
		switch key {
		case "location":
			rec.Location = val
		case "brand":
			rec.Brand = val
		case "seller notes":
			rec.SellerNotes = val
		case "buyer fee":
			if pct, err := parseAmount(strings.TrimSuffix(val, "%")); err == nil {
				rec.BuyerFeePct = pct
			}
		}
	})

	return rec, nil
}

func parseCard(card *goquery.Selection) (lotkeeper.ListingRecord, error) {
	code := strings.TrimSpace(card.AttrOr("data-code", ""))
	if code == "" {
		return lotkeeper.ListingRecord{}, &Error{Reason: "lot card has no code"}
	}

	link := card.Find("a.lot-link").First()
	rec := lotkeeper.ListingRecord{
		Code:      code,
		Title:     sanitize(link.Text()),
		Currency:  card.AttrOr("data-currency", ""),
		DetailURL: link.AttrOr("href", ""),
	}

	state, err := parseState(card.Find(".lot-state").First().Text())
	if err != nil {
		return lotkeeper.ListingRecord{}, err
	}
	rec.State = state

	if s := strings.TrimSpace(card.Find(".bid-count").First().Text()); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return lotkeeper.ListingRecord{}, &Error{Reason: fmt.Sprintf("bad bid count on lot %s", code), Err: err}
		}
		rec.BidCount = n
	}
	if rec.CurrentAmount, err = parseAmount(card.Find(".amount.current").First().Text()); err != nil {
		return lotkeeper.ListingRecord{}, err
	}
	if rec.OpeningAmount, err = parseAmount(card.Find(".amount.opening").First().Text()); err != nil {
		return lotkeeper.ListingRecord{}, err
	}
	rec.OpensAt = parseTimeAttr(card.Find("time.opens-at").First())
	rec.ClosesAt = parseTimeAttr(card.Find("time.closes-at").First())

	return rec, nil
}

func parseState(s string) (lotkeeper.LotState, error) {
	switch state := lotkeeper.LotState(strings.ToLower(strings.TrimSpace(s))); state {
	case lotkeeper.LotStateScheduled, lotkeeper.LotStateRunning, lotkeeper.LotStateClosed:
		return state, nil
	case "":
		// Listing sites only mark non-running lots; running is the default.
		return lotkeeper.LotStateRunning, nil
	default:
		return "", &Error{Reason: fmt.Sprintf("unknown lot state %q", s)}
	}
}

// parseAmount reads a money value like "1,250.00" or "€ 1250". Empty input
// is zero, not an error: scheduled lots have no current bid yet.
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "€$£ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &Error{Reason: fmt.Sprintf("bad amount %q", s), Err: err}
	}

	return v, nil
}

func parseTimeAttr(sel *goquery.Selection) *time.Time {
	raw, ok := sel.Attr("datetime")
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return nil
	}

	return &t
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes markup from scraped text and clamps runaway lengths.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	if len(s) > 2048 {
		s = s[:2048]
	}

	return s
}
