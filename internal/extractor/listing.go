package extractor

import (
	"strconv"
	"strings"
)

// ListingDetail is what a single listing page yields: the identity of the
// house the listing belongs to, plus whatever address data came along.
// AddressID is zero when the house catalog URL was absent or malformed.
type ListingDetail struct {
	AddressID   int
	Slug        string
	Address     *string
	Lat         *float64
	Lng         *float64
	HouseParams map[string]string
	Rating      *float64
}

// ParseListingPage extracts the house identity from a listing page. The
// identity is encoded in the trailing two path segments of the house catalog
// page URL, as {slug}/{addressID}.
func (e *Extractor) ParseListingPage(html string) (*ListingDetail, bool) {
	loader, ok := e.loader(html)
	if !ok {
		return nil, false
	}

	buyer, ok := pickMap(loader, "buyerItem")
	if !ok {
		return nil, false
	}
	item, ok := pickMap(buyer, "item")
	if !ok {
		return nil, false
	}

	detail := &ListingDetail{HouseParams: map[string]string{}}

	if houseURL, ok := asString(item["houseCatalogPageUrl"]); ok && houseURL != "" {
		detail.AddressID, detail.Slug = parseHouseIdentity(houseURL)
	}

	if addr, ok := asString(item["address"]); ok && addr != "" {
		detail.Address = &addr
	}

	if geo, ok := asMap(item["geo"]); ok {
		detail.Lat, detail.Lng = parseCoords(geo)
	}

	if hp, ok := pickMap(item, "houseParams"); ok {
		if data, ok := pickMap(hp, "data"); ok {
			if items, ok := asSlice(data["items"]); ok {
				for _, raw := range items {
					pi, ok := asMap(raw)
					if !ok {
						continue
					}
					title, _ := asString(pi["title"])
					desc, _ := asString(pi["description"])
					if title != "" && desc != "" {
						detail.HouseParams[title] = desc
					}
				}
			}
			if preview, ok := pickMap(data, "ratingPreview"); ok {
				if score, ok := asFloat(preview["scoreValue"]); ok {
					detail.Rating = &score
				}
			}
		}
	}

	return detail, true
}

// parseHouseIdentity splits the trailing "{slug}/{addressID}" segments of a
// house catalog page URL. Malformed URLs yield a zero identity.
func parseHouseIdentity(houseURL string) (addressID int, slug string) {
	parts := strings.Split(strings.TrimRight(houseURL, "/"), "/")
	if len(parts) < 2 {
		return 0, ""
	}
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, ""
	}
	slug = parts[len(parts)-2]
	if slug == "" {
		return 0, ""
	}
	return id, slug
}
