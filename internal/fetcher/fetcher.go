// Package fetcher provides the page transports the scanner crawls with.
// Retrieval is deliberately dumb: no retries, no pacing — the scan
// orchestrator owns both.
package fetcher

import (
	"context"
	"fmt"
	"strings"
)

// Fetcher retrieves the raw text content of a URL. A non-success response is
// an error; the caller decides what to do about it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// URLs builds the site URLs the scanner visits.
type URLs struct {
	Base string
	City string
}

func NewURLs(base, city string) URLs {
	return URLs{Base: strings.TrimRight(base, "/"), City: city}
}

// SearchPage is a paginated category search results page.
func (u URLs) SearchPage(categorySlug string, page int) string {
	return fmt.Sprintf("%s/%s/kvartiry/%s?p=%d", u.Base, u.City, categorySlug, page)
}

// Listing resolves a stored listing URL, which may be absolute or site-relative.
func (u URLs) Listing(url string) string {
	if strings.HasPrefix(url, "http") {
		return url
	}
	return u.Base + url
}

// HousePage is a house catalog page.
func (u URLs) HousePage(slug string, addressID int) string {
	return fmt.Sprintf("%s/catalog/houses/%s/%s/%d", u.Base, u.City, slug, addressID)
}
