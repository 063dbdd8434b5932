package extractor

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"avitoscan/internal/domain"
)

// titleRe decomposes titles of the form "1-к. квартира, 37,5 м², 8/10 эт."
// into rooms, area, floor and total floors.
var titleRe = regexp.MustCompile(`(\d+)-к.*?(\d+[.,]?\d*)\s*м.*?(\d+)/(\d+)`)

// Price postfix markers the source uses for rental periods.
const (
	postfixPerMonth = "/мес"
	postfixPerDay   = "/сут"
)

// ParseSearchPage extracts listing summaries from a search results page.
// An empty result on a decodable page means end of pagination; per-item parse
// failures are logged and skipped without aborting the batch.
func (e *Extractor) ParseSearchPage(html string) []*domain.Listing {
	loader, ok := e.loader(html)
	if !ok {
		e.logger.Warn("no hydration data found on search page")
		return nil
	}

	rawItems := searchItems(loader)

	var listings []*domain.Listing
	for _, raw := range rawItems {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		listing, ok := e.parseSearchItem(item)
		if !ok {
			e.logger.Debug("failed to parse search item")
			continue
		}
		listings = append(listings, listing)
	}
	return listings
}

// searchItems finds the items collection: searchResult.items first, the flat
// items key as fallback.
func searchItems(loader map[string]any) []any {
	if sr, ok := pickMap(loader, "searchResult"); ok {
		if items, ok := asSlice(sr["items"]); ok && len(items) > 0 {
			return items
		}
	}
	items, _ := asSlice(loader["items"])
	return items
}

func (e *Extractor) parseSearchItem(item map[string]any) (*domain.Listing, bool) {
	id, ok := asFloat(item["id"])
	if !ok || id == 0 {
		return nil, false
	}

	listing := &domain.Listing{ItemID: int64(id)}

	price, postfix := parsePrice(item)
	listing.Price = price
	listing.ListingType = categoryFromPostfix(postfix)

	geo, _ := asMap(item["geo"])
	listing.Lat, listing.Lng = parseCoords(geo)

	if addr, ok := extractAddress(item, geo); ok {
		listing.Address = &addr
	}

	if title, ok := asString(item["title"]); ok {
		listing.Title = title
		listing.Rooms, listing.Area, listing.Floor, listing.TotalFloors = ParseTitle(title)
	}

	if path, ok := asString(item["urlPath"]); ok && path != "" {
		url := e.baseURL + path
		listing.URL = &url
	}

	if raw, err := json.Marshal(item); err == nil {
		listing.RawData = raw
	}
	return listing, true
}

// parsePrice reads the price field, which is either a structured object
// ({value, postfix}) or a bare number.
func parsePrice(item map[string]any) (*int, string) {
	detail, ok := pick(item, "priceDetailed", "price")
	if !ok {
		return nil, ""
	}
	switch v := detail.(type) {
	case map[string]any:
		var price *int
		if val, ok := asInt(v["value"]); ok && val != 0 {
			price = &val
		}
		postfix, _ := asString(v["postfix"])
		return price, postfix
	case float64:
		if v == 0 {
			return nil, ""
		}
		p := int(v)
		return &p, ""
	}
	return nil, ""
}

// categoryFromPostfix infers the listing category from the price postfix.
// Absent a period marker the listing is assumed to be for sale; the scanner
// may override that default for rental discovery categories.
func categoryFromPostfix(postfix string) string {
	switch {
	case strings.Contains(postfix, postfixPerMonth):
		return domain.CategoryRentLong
	case strings.Contains(postfix, postfixPerDay):
		return domain.CategoryRentShort
	default:
		return domain.CategorySale
	}
}

func parseCoords(geo map[string]any) (*float64, *float64) {
	coords, ok := pickMap(geo, "coords", "coordinates")
	if !ok {
		return nil, nil
	}
	var lat, lng *float64
	if v, ok := asFloat(coords["lat"]); ok {
		lat = &v
	}
	if v, ok := pick(coords, "lng", "lon"); ok {
		if f, ok := asFloat(v); ok {
			lng = &f
		}
	}
	return lat, lng
}

// addressStrategy is one way to read an address out of a search item. The
// strategies are tried in a fixed order; the first hit wins.
type addressStrategy func(item, geo map[string]any) (string, bool)

var addressStrategies = []addressStrategy{
	addressFromGeoReferences,
	addressFromFlatField,
	addressFromLocationName,
}

func extractAddress(item, geo map[string]any) (string, bool) {
	for _, strategy := range addressStrategies {
		if addr, ok := strategy(item, geo); ok {
			return addr, true
		}
	}
	return "", false
}

func addressFromGeoReferences(_, geo map[string]any) (string, bool) {
	refs, ok := asSlice(geo["geoReferences"])
	if !ok {
		return "", false
	}
	for _, raw := range refs {
		ref, ok := asMap(raw)
		if !ok {
			continue
		}
		if content, ok := asString(ref["content"]); ok && content != "" {
			return content, true
		}
	}
	return "", false
}

func addressFromFlatField(item, _ map[string]any) (string, bool) {
	addr, ok := asString(item["address"])
	return addr, ok && addr != ""
}

func addressFromLocationName(item, _ map[string]any) (string, bool) {
	loc, ok := asMap(item["location"])
	if !ok {
		return "", false
	}
	name, ok := asString(loc["name"])
	return name, ok && name != ""
}

// ParseTitle decomposes a listing title into rooms, area, floor and total
// floors. A title that does not match the pattern leaves all four unset.
func ParseTitle(title string) (rooms *int, area *float64, floor, totalFloors *int) {
	m := titleRe.FindStringSubmatch(title)
	if m == nil {
		return nil, nil, nil, nil
	}
	if v, err := strconv.Atoi(m[1]); err == nil {
		rooms = &v
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", "."), 64); err == nil {
		area = &v
	}
	if v, err := strconv.Atoi(m[3]); err == nil {
		floor = &v
	}
	if v, err := strconv.Atoi(m[4]); err == nil {
		totalFloors = &v
	}
	return rooms, area, floor, totalFloors
}
