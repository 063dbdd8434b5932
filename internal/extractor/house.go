package extractor

import "encoding/json"

// houseFieldTitles maps the source's characteristic labels to column names.
// Matching is exact; labels are in the source language.
var houseFieldTitles = map[string]string{
	"Год постройки":             "build_year",
	"Этажей":                    "floors",
	"Отопление":                 "heating",
	"Горячее водоснабжение":     "hot_water",
	"Холодное водоснабжение":    "cold_water",
	"Электроснабжение":          "electricity",
	"Газоснабжение":             "gas",
	"Канализация":               "sewerage",
	"Система вентиляции":        "ventilation",
	"Пассажирский лифт":         "passenger_lift",
	"Грузовой лифт":             "freight_lift",
	"Тип дома":                  "house_type",
	"Перекрытия":                "floor_type",
	"Фундамент":                 "foundation",
	"Класс энергоэффективности": "energy_class",
	"Детская площадка":          "playground",
	"Спортивная площадка":       "sports_ground",
	"Парковка":                  "parking",
}

// maxDeepSearchDepth bounds the last-resort recursive scan for characteristic
// pairs in unknown container shapes.
const maxDeepSearchDepth = 5

// HouseDetail carries everything a house catalog page yields.
type HouseDetail struct {
	Fields         map[string]string
	Rating         *float64
	ReviewCount    *int
	PriceMin       *int
	PriceMax       *int
	ActiveListings *int
}

// Empty reports that the page yielded nothing usable.
func (d *HouseDetail) Empty() bool {
	return len(d.Fields) == 0 && d.Rating == nil && d.ReviewCount == nil &&
		d.PriceMin == nil && d.PriceMax == nil && d.ActiveListings == nil
}

// Snapshot renders the detail as a raw JSON document for the raw_data column.
func (d *HouseDetail) Snapshot() []byte {
	snap := map[string]any{}
	for k, v := range d.Fields {
		snap[k] = v
	}
	if d.Rating != nil {
		snap["rating"] = *d.Rating
	}
	if d.ReviewCount != nil {
		snap["review_count"] = *d.ReviewCount
	}
	if d.PriceMin != nil {
		snap["price_min"] = *d.PriceMin
	}
	if d.PriceMax != nil {
		snap["price_max"] = *d.PriceMax
	}
	if d.ActiveListings != nil {
		snap["active_listings"] = *d.ActiveListings
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	return raw
}

// ParseHousePage extracts the full characteristics of a house catalog page.
// Containers are tried in order: the house info block (flat items and
// sections), the about block's sections, and finally a bounded-depth search
// over the whole payload for any recognizable {title, value} pair.
func (e *Extractor) ParseHousePage(html string) (*HouseDetail, bool) {
	loader, ok := e.loader(html)
	if !ok {
		e.logger.Warn("no hydration data on house page")
		return nil, false
	}

	detail := &HouseDetail{Fields: map[string]string{}}

	if info, ok := pickMap(loader, "houseInfo", "house", "aboutHouse"); ok {
		if items, ok := asSlice(info["items"]); ok {
			collectFieldItems(items, detail.Fields)
		}
		collectSections(info, detail.Fields)
	}

	if len(detail.Fields) == 0 {
		if about, ok := pickMap(loader, "aboutHouseBlock", "aboutHouse"); ok {
			collectSections(about, detail.Fields)
		}
	}

	if len(detail.Fields) == 0 {
		deepSearchFields(loader, 0, detail.Fields)
	}

	if rating, ok := pickMap(loader, "rating", "houseRating"); ok {
		if v, ok := pick(rating, "value", "score"); ok {
			if f, ok := asFloat(v); ok {
				detail.Rating = &f
			}
		}
		if v, ok := pick(rating, "count", "reviewCount"); ok {
			if n, ok := asInt(v); ok {
				detail.ReviewCount = &n
			}
		}
	}

	if prices, ok := pickMap(loader, "priceRange", "priceSummary"); ok {
		if v, ok := pick(prices, "min", "minPrice"); ok {
			if n, ok := asInt(v); ok {
				detail.PriceMin = &n
			}
		}
		if v, ok := pick(prices, "max", "maxPrice"); ok {
			if n, ok := asInt(v); ok {
				detail.PriceMax = &n
			}
		}
	}

	if raw, ok := pick(loader, "listings", "activeListings"); ok {
		switch v := raw.(type) {
		case map[string]any:
			if n, ok := pick(v, "total", "count"); ok {
				if c, ok := asInt(n); ok {
					detail.ActiveListings = &c
				}
			}
		case []any:
			n := len(v)
			detail.ActiveListings = &n
		}
	}

	if detail.Empty() {
		return nil, false
	}
	return detail, true
}

// collectSections walks a container's sections, each holding an items list.
func collectSections(container map[string]any, out map[string]string) {
	sections, ok := asSlice(container["sections"])
	if !ok {
		return
	}
	for _, raw := range sections {
		section, ok := asMap(raw)
		if !ok {
			continue
		}
		if items, ok := asSlice(section["items"]); ok {
			collectFieldItems(items, out)
		}
	}
}

func collectFieldItems(items []any, out map[string]string) {
	for _, raw := range items {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		recordFieldPair(item, out)
	}
}

// recordFieldPair matches one {title, value} item against the label map.
// Titles also appear as name/label and values as description/text.
func recordFieldPair(item map[string]any, out map[string]string) bool {
	title := firstString(item, "title", "name", "label")
	value := firstString(item, "value", "description", "text")
	if title == "" || value == "" {
		return false
	}
	field, ok := houseFieldTitles[title]
	if !ok {
		return false
	}
	out[field] = value
	return true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := asString(m[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

// deepSearchFields is the last-resort fallback for unknown container shapes:
// a depth-limited traversal over the decoded tree, recording every nested
// {title, value} pair whose title the label map recognizes.
func deepSearchFields(v any, depth int, out map[string]string) {
	if depth > maxDeepSearchDepth {
		return
	}
	switch node := v.(type) {
	case map[string]any:
		if recordFieldPair(node, out) {
			return
		}
		for _, child := range node {
			deepSearchFields(child, depth+1, out)
		}
	case []any:
		for _, child := range node {
			deepSearchFields(child, depth+1, out)
		}
	}
}
