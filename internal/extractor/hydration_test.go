package extractor

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func newTestExtractor() *Extractor {
	return New("https://www.avito.ru", zap.NewNop())
}

func wrapHydration(payload string) string {
	return `<html><head></head><body>
<script>var other = 1;</script>
<script>window.__staticRouterHydrationData = ` + payload + `;
window.__other = {};</script>
</body></html>`
}

func TestDecodeHydration(t *testing.T) {
	e := newTestExtractor()

	raw, ok := e.DecodeHydration(wrapHydration(`{"loaderData":{"root":{"a":1}}}`))
	if !ok {
		t.Fatal("expected hydration data to decode")
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decoded blob is not valid JSON: %v", err)
	}
	if _, ok := got["loaderData"]; !ok {
		t.Fatal("expected loaderData key in decoded blob")
	}
}

func TestDecodeHydrationMissingMarker(t *testing.T) {
	e := newTestExtractor()
	if _, ok := e.DecodeHydration(`<html><body><script>var x = {};</script></body></html>`); ok {
		t.Fatal("expected no hydration data without the marker")
	}
}

func TestDecodeHydrationMalformedJSON(t *testing.T) {
	e := newTestExtractor()
	if _, ok := e.DecodeHydration(wrapHydration(`{"loaderData": broken`)); ok {
		t.Fatal("expected malformed JSON to decode as not found")
	}
}

func TestDecodeHydrationRawTextFallback(t *testing.T) {
	e := newTestExtractor()
	// Not an HTML document at all; the raw text search should still find it.
	raw, ok := e.DecodeHydration(`window.__staticRouterHydrationData = {"loaderData":{}};`)
	if !ok || raw == nil {
		t.Fatal("expected raw text fallback to find the blob")
	}
}

func TestLoaderDataKnownKey(t *testing.T) {
	e := newTestExtractor()
	hydration := json.RawMessage(`{"loaderData":{"catalog-or-main-or-item":{"items":[]},"noise":{}}}`)

	raw, ok := e.LoaderData(hydration)
	if !ok {
		t.Fatal("expected loader data")
	}
	var loader map[string]any
	if err := json.Unmarshal(raw, &loader); err != nil {
		t.Fatal(err)
	}
	if _, ok := loader["items"]; !ok {
		t.Fatal("resolved the wrong loader entry")
	}
}

func TestLoaderDataRootFallback(t *testing.T) {
	e := newTestExtractor()
	hydration := json.RawMessage(`{"loaderData":{"root":{"marker":true}}}`)
	raw, ok := e.LoaderData(hydration)
	if !ok {
		t.Fatal("expected loader data under root")
	}
	var loader map[string]bool
	if err := json.Unmarshal(raw, &loader); err != nil || !loader["marker"] {
		t.Fatal("resolved the wrong loader entry")
	}
}

func TestLoaderDataFirstEntryFallback(t *testing.T) {
	e := newTestExtractor()
	// Renamed route key: neither known name matches, so the first entry in
	// document order wins.
	hydration := json.RawMessage(`{"loaderData":{"renamed-route-v9":{"marker":true},"zzz":{"marker":false}}}`)
	raw, ok := e.LoaderData(hydration)
	if !ok {
		t.Fatal("expected first-entry fallback to resolve")
	}
	var loader map[string]bool
	if err := json.Unmarshal(raw, &loader); err != nil || !loader["marker"] {
		t.Fatal("fallback did not pick the first entry in document order")
	}
}

func TestLoaderDataEmpty(t *testing.T) {
	e := newTestExtractor()
	if _, ok := e.LoaderData(json.RawMessage(`{"loaderData":{}}`)); ok {
		t.Fatal("expected empty loaderData to be not found")
	}
	if _, ok := e.LoaderData(json.RawMessage(`{}`)); ok {
		t.Fatal("expected missing loaderData to be not found")
	}
}
