package extractor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// hydrationMarker introduces the embedded state-transfer blob the site ships
// inside a script tag. Everything the scanner extracts lives under it.
const hydrationMarker = "window.__staticRouterHydrationData"

// loaderKeys are the known names of the route entry holding the page payload.
// The site has renamed this key across deployments; unknown names fall back to
// the first entry of the loaderData mapping.
var loaderKeys = []string{"catalog-or-main-or-item", "root"}

// Extractor turns raw page content into typed records. Every lookup is
// permissive: missing markers, unknown keys and malformed items degrade to
// "not found", never to an error for the caller.
type Extractor struct {
	baseURL string
	logger  *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Extractor {
	return &Extractor{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// DecodeHydration locates the hydration blob in the page and parses it.
// It prefers scanning script elements, falling back to a raw text search when
// the document does not parse as HTML.
func (e *Extractor) DecodeHydration(html string) (json.RawMessage, bool) {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		var raw json.RawMessage
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if !strings.Contains(text, hydrationMarker) {
				return true
			}
			raw, _ = decodeAfterMarker(text)
			return false
		})
		if raw != nil {
			return raw, true
		}
	}
	return decodeAfterMarker(html)
}

// decodeAfterMarker parses exactly one JSON value starting at the first brace
// after the marker. A streaming decode keeps trailing script code harmless.
func decodeAfterMarker(text string) (json.RawMessage, bool) {
	idx := strings.Index(text, hydrationMarker)
	if idx < 0 {
		return nil, false
	}
	rest := text[idx+len(hydrationMarker):]
	brace := strings.IndexByte(rest, '{')
	if brace < 0 {
		return nil, false
	}
	var raw json.RawMessage
	dec := json.NewDecoder(strings.NewReader(rest[brace:]))
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	return raw, true
}

// LoaderData resolves the route payload subtree of a hydration blob, trying
// the known key names in order and then the first entry in document order.
func (e *Extractor) LoaderData(hydration json.RawMessage) (json.RawMessage, bool) {
	var top struct {
		LoaderData json.RawMessage `json:"loaderData"`
	}
	if err := json.Unmarshal(hydration, &top); err != nil || len(top.LoaderData) == 0 {
		return nil, false
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(top.LoaderData, &entries); err != nil || len(entries) == 0 {
		return nil, false
	}

	for _, key := range loaderKeys {
		if v, ok := entries[key]; ok && !isJSONNull(v) {
			return v, true
		}
	}

	if key, ok := firstObjectKey(top.LoaderData); ok {
		if v, ok := entries[key]; ok && !isJSONNull(v) {
			return v, true
		}
	}
	return nil, false
}

// loader decodes the route payload into a generic map in one step.
func (e *Extractor) loader(html string) (map[string]any, bool) {
	hydration, ok := e.DecodeHydration(html)
	if !ok {
		return nil, false
	}
	raw, ok := e.LoaderData(hydration)
	if !ok {
		return nil, false
	}
	var loader map[string]any
	if err := json.Unmarshal(raw, &loader); err != nil {
		return nil, false
	}
	return loader, true
}

// firstObjectKey returns the first key of a JSON object in document order.
// Go maps lose ordering, so the raw bytes are token-scanned instead.
func firstObjectKey(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return "", false
	}
	tok, err = dec.Token()
	if err != nil {
		return "", false
	}
	key, ok := tok.(string)
	return key, ok
}

func isJSONNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// --- generic value helpers ---

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// pick returns the first non-nil value among the named keys.
func pick(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// pickMap is pick constrained to object values.
func pickMap(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if mm, ok := asMap(v); ok {
				return mm, true
			}
		}
	}
	return nil, false
}
