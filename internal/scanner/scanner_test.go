package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"avitoscan/internal/domain"
	"avitoscan/internal/extractor"
	"avitoscan/internal/fetcher"

	"go.uber.org/zap"
)

// fakeFetcher routes each URL through a caller-provided function and records
// every request.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(url string) (string, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	return f.fn(url)
}

func (f *fakeFetcher) callsTo(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// fakeStore is an in-memory Store that mimics the resumability queries.
type fakeStore struct {
	mu            sync.Mutex
	listings      map[int64]*domain.Listing
	houses        map[int]*domain.House
	missingHouse  []domain.ListingRef
	missingDetail []domain.HouseRef
	progress      []*domain.ProgressEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: map[int64]*domain.Listing{},
		houses:   map[int]*domain.House{},
	}
}

func (s *fakeStore) UpsertListing(_ context.Context, l *domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ItemID] = l
	return nil
}

func (s *fakeStore) UpsertHouse(_ context.Context, h *domain.House) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.houses[h.AddressID]; ok {
		// Field-preserving merge, like the COALESCE upsert.
		if h.BuildYear == nil {
			h.BuildYear = prev.BuildYear
		}
		if h.HouseType == nil {
			h.HouseType = prev.HouseType
		}
		if h.Address == nil {
			h.Address = prev.Address
		}
	}
	s.houses[h.AddressID] = h
	return nil
}

func (s *fakeStore) SetListingHouse(_ context.Context, itemID int64, addressID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listings[itemID]; ok {
		l.AddressID = &addressID
	}
	for i, ref := range s.missingHouse {
		if ref.ItemID == itemID {
			s.missingHouse = append(s.missingHouse[:i], s.missingHouse[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) ListingsMissingHouse(_ context.Context) ([]domain.ListingRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ListingRef(nil), s.missingHouse...), nil
}

func (s *fakeStore) HousesMissingDetail(_ context.Context) ([]domain.HouseRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HouseRef(nil), s.missingDetail...), nil
}

func (s *fakeStore) SaveScanProgress(_ context.Context, ev *domain.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, ev)
	return nil
}

func (s *fakeStore) progressWithStatus(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.progress {
		if ev.Status == status {
			n++
		}
	}
	return n
}

type nopMetrics struct{}

func (nopMetrics) IncPagesFetched(string) {}
func (nopMetrics) IncErrorsTotal(string)  {}
func (nopMetrics) IncListingsUpserted()   {}
func (nopMetrics) IncHousesEnriched()     {}
func (nopMetrics) IncScansStarted()       {}

func newTestScanner(store Store, f fetcher.Fetcher, opts ...func(*Options)) *Scanner {
	o := Options{
		Categories:           map[string]string{"sale": "prodam-x", "rent": "sdam-x"},
		CategoryOrder:        []string{"sale", "rent"},
		RentalCategories:     map[string]bool{"rent": true},
		SearchDelay:          0,
		HouseDelay:           0,
		MaxConsecutiveErrors: 3,
		NoDataTTL:            time.Hour,
	}
	for _, fn := range opts {
		fn(&o)
	}
	logger := zap.NewNop()
	urls := fetcher.NewURLs("https://example.test", "testcity")
	return New(o, urls, f, extractor.New("https://example.test", logger), store, nil, nopMetrics{}, logger)
}

func searchPageHTML(itemsJSON string) string {
	return `<html><script>window.__staticRouterHydrationData = ` +
		`{"loaderData":{"catalog-or-main-or-item":{"searchResult":{"items":` + itemsJSON + `}}}};</script></html>`
}

func emptySearchPage() string { return searchPageHTML(`[]`) }

func TestDiscoveryPaginationTermination(t *testing.T) {
	store := newFakeStore()
	f := &fakeFetcher{fn: func(url string) (string, error) {
		if strings.Contains(url, "sdam") {
			return emptySearchPage(), nil
		}
		if strings.Contains(url, "p=1") {
			return searchPageHTML(`[{"id": 1, "title": "a"}, {"id": 2, "title": "b"}]`), nil
		}
		return emptySearchPage(), nil
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseDiscovery); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(store.listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(store.listings))
	}
	st := sc.State().Snapshot()
	if st.Status != domain.ScanCompleted {
		t.Fatalf("status = %s; want completed", st.Status)
	}
	if st.Errors != 0 {
		t.Fatalf("empty pages must not consume the error budget, errors = %d", st.Errors)
	}
	if st.ListingsFound != 2 || st.DonePages != 1 {
		t.Fatalf("counters: listings=%d pages=%d; want 2/1", st.ListingsFound, st.DonePages)
	}
	// sale paginated to the empty page 2, rent stopped at page 1.
	if n := f.callsTo("prodam"); n != 2 {
		t.Fatalf("sale fetches = %d; want 2", n)
	}
	if n := f.callsTo("sdam"); n != 1 {
		t.Fatalf("rent fetches = %d; want 1", n)
	}
}

func TestDiscoveryCircuitBreaker(t *testing.T) {
	store := newFakeStore()
	f := &fakeFetcher{fn: func(url string) (string, error) {
		if strings.Contains(url, "prodam") {
			return "", errors.New("blocked")
		}
		return emptySearchPage(), nil
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseDiscovery); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Exactly threshold attempts, all against the same page.
	if n := f.callsTo("prodam"); n != 3 {
		t.Fatalf("sale fetches = %d; want exactly 3", n)
	}
	for _, call := range f.calls {
		if strings.Contains(call, "prodam") && !strings.Contains(call, "p=1") {
			t.Fatalf("failure must retry the same page, fetched %s", call)
		}
	}
	// The breaker abandons the category, not the scan.
	if n := f.callsTo("sdam"); n != 1 {
		t.Fatalf("rent fetches = %d; want 1", n)
	}
	if st := sc.State().Snapshot(); st.Status != domain.ScanCompleted {
		t.Fatalf("status = %s; want completed", st.Status)
	}
}

func TestDiscoveryErrorBudgetResetsOnSuccess(t *testing.T) {
	store := newFakeStore()
	var saleCalls int
	f := &fakeFetcher{fn: func(url string) (string, error) {
		if !strings.Contains(url, "prodam") {
			return emptySearchPage(), nil
		}
		saleCalls++
		switch saleCalls {
		case 1, 2: // two failures, one short of the threshold
			return "", errors.New("blocked")
		case 3:
			return searchPageHTML(`[{"id": 1, "title": "a"}]`), nil
		case 4, 5: // two more failures must not trip a stale counter
			return "", errors.New("blocked")
		default:
			return emptySearchPage(), nil
		}
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseDiscovery); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(store.listings) != 1 {
		t.Fatalf("expected the successful page's listing to be stored")
	}
	// 2 failures + success on p=1, 2 failures + empty on p=2: 6 calls total.
	if saleCalls != 6 {
		t.Fatalf("sale fetches = %d; want 6 (counter reset on success)", saleCalls)
	}
}

func TestRentalCategoryDefaultOverride(t *testing.T) {
	store := newFakeStore()
	f := &fakeFetcher{fn: func(url string) (string, error) {
		if strings.Contains(url, "sdam") && strings.Contains(url, "p=1") {
			return searchPageHTML(`[
				{"id": 1, "title": "no marker", "priceDetailed": {"value": 20000, "postfix": "₽"}},
				{"id": 2, "title": "daily", "priceDetailed": {"value": 1500, "postfix": "₽/сут."}}
			]`), nil
		}
		return emptySearchPage(), nil
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseDiscovery); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := store.listings[1].ListingType; got != domain.CategoryRentLong {
		t.Errorf("unmarked rental listing type = %s; want rent_long", got)
	}
	// An explicit period marker always wins over the category default.
	if got := store.listings[2].ListingType; got != domain.CategoryRentShort {
		t.Errorf("daily rental listing type = %s; want rent_short", got)
	}
}

func listingPageHTML(houseURL string) string {
	return `<html><script>window.__staticRouterHydrationData = ` +
		`{"loaderData":{"catalog-or-main-or-item":{"buyerItem":{"item":` +
		`{"id": 1, "houseCatalogPageUrl": "` + houseURL + `", "address": "ул. Тестовая, 1"}}}}};</script></html>`
}

func TestAddressResolutionPass(t *testing.T) {
	store := newFakeStore()
	store.missingHouse = []domain.ListingRef{
		{ItemID: 10, URL: "/testcity/kvartiry/item_10"},
		{ItemID: 11, URL: "/testcity/kvartiry/item_11"},
	}
	store.listings[10] = &domain.Listing{ItemID: 10}
	store.listings[11] = &domain.Listing{ItemID: 11}

	f := &fakeFetcher{fn: func(url string) (string, error) {
		switch {
		case strings.Contains(url, "item_10"):
			return listingPageHTML("/catalog/houses/testcity/lenina-10/555"), nil
		case strings.Contains(url, "item_11"):
			return listingPageHTML("/catalog/houses/testcity/gagarina-2/777"), nil
		default:
			return emptySearchPage(), nil
		}
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseDiscovery); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if store.listings[10].AddressID == nil || *store.listings[10].AddressID != 555 {
		t.Fatalf("listing 10 house ref = %v; want 555", store.listings[10].AddressID)
	}
	house := store.houses[555]
	if house == nil || house.Slug == nil || *house.Slug != "lenina-10" {
		t.Fatalf("house 555 not pre-created with slug, got %+v", house)
	}
	if house.Address == nil || *house.Address != "ул. Тестовая, 1" {
		t.Fatalf("house 555 address = %v", house.Address)
	}
	// Resolution is resumable: everything resolved, nothing left in the queue.
	if left, _ := store.ListingsMissingHouse(context.Background()); len(left) != 0 {
		t.Fatalf("expected empty resolution queue, got %d", len(left))
	}

	// A second run finds no work and fetches no listing pages.
	before := f.callsTo("item_1")
	if err := sc.Run(context.Background(), PhaseDiscovery); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if after := f.callsTo("item_1"); after != before {
		t.Fatalf("second run refetched resolved listings: %d -> %d", before, after)
	}
}

func TestAddressResolutionCircuitBreaker(t *testing.T) {
	store := newFakeStore()
	for i := int64(1); i <= 10; i++ {
		store.missingHouse = append(store.missingHouse, domain.ListingRef{
			ItemID: i, URL: fmt.Sprintf("/testcity/kvartiry/item_%d", i),
		})
	}
	f := &fakeFetcher{fn: func(url string) (string, error) {
		if strings.Contains(url, "item_") {
			return "", errors.New("blocked")
		}
		return emptySearchPage(), nil
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseDiscovery); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n := f.callsTo("item_"); n != 3 {
		t.Fatalf("resolution fetches = %d; want threshold of 3", n)
	}
	if st := sc.State().Snapshot(); st.Status != domain.ScanCompleted {
		t.Fatalf("status = %s; breaker must abandon the queue, not the scan", st.Status)
	}
}

func housePageHTML() string {
	return `<html><script>window.__staticRouterHydrationData = ` +
		`{"loaderData":{"catalog-or-main-or-item":{"houseInfo":{"items":[` +
		`{"title": "Год постройки", "value": "1985"},{"title": "Тип дома", "value": "Панельный"}]}}}};</script></html>`
}

func noDataPageHTML() string {
	return `<html><script>window.__staticRouterHydrationData = ` +
		`{"loaderData":{"catalog-or-main-or-item":{"unrelated": {}}}};</script></html>`
}

func TestEnrichment(t *testing.T) {
	store := newFakeStore()
	store.houses[555] = &domain.House{AddressID: 555}
	store.missingDetail = []domain.HouseRef{{AddressID: 555, Slug: "lenina-10"}}

	f := &fakeFetcher{fn: func(url string) (string, error) {
		return housePageHTML(), nil
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseEnrichment); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	house := store.houses[555]
	if house.BuildYear == nil || *house.BuildYear != "1985" {
		t.Fatalf("build year = %v; want 1985", house.BuildYear)
	}
	if house.HouseType == nil || *house.HouseType != "Панельный" {
		t.Fatalf("house type = %v; want Панельный", house.HouseType)
	}
	if len(house.RawData) == 0 {
		t.Fatal("expected raw snapshot of the extracted map")
	}
	st := sc.State().Snapshot()
	if st.NewHouses != 1 || st.Errors != 0 {
		t.Fatalf("counters: new=%d errors=%d; want 1/0", st.NewHouses, st.Errors)
	}
	if n := store.progressWithStatus(domain.ProgressDone); n != 1 {
		t.Fatalf("done progress events = %d; want 1", n)
	}
}

func TestEnrichmentNoDataIsNotAFetchFailure(t *testing.T) {
	store := newFakeStore()
	// More empty pages than the error threshold: extraction misses must not
	// trip the circuit breaker.
	for i := 1; i <= 5; i++ {
		store.missingDetail = append(store.missingDetail, domain.HouseRef{
			AddressID: i, Slug: fmt.Sprintf("slug-%d", i),
		})
	}
	f := &fakeFetcher{fn: func(url string) (string, error) {
		return noDataPageHTML(), nil
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseEnrichment); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if n := f.callsTo("/catalog/houses/"); n != 5 {
		t.Fatalf("house fetches = %d; want all 5 attempted", n)
	}
	st := sc.State().Snapshot()
	if st.Errors != 5 {
		t.Fatalf("errors = %d; want 5", st.Errors)
	}
	if st.Status != domain.ScanCompleted {
		t.Fatalf("status = %s; want completed", st.Status)
	}
	if n := store.progressWithStatus(domain.ProgressError); n != 5 {
		t.Fatalf("error progress events = %d; want 5", n)
	}
}

func TestEnrichmentFetchFailureCircuitBreaker(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 10; i++ {
		store.missingDetail = append(store.missingDetail, domain.HouseRef{
			AddressID: i, Slug: fmt.Sprintf("slug-%d", i),
		})
	}
	f := &fakeFetcher{fn: func(url string) (string, error) {
		return "", errors.New("blocked")
	}}
	sc := newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseEnrichment); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n := f.callsTo("/catalog/houses/"); n != 3 {
		t.Fatalf("house fetches = %d; want threshold of 3", n)
	}
}

func TestStopDuringDiscovery(t *testing.T) {
	store := newFakeStore()
	var sc *Scanner
	f := &fakeFetcher{fn: func(url string) (string, error) {
		// Stop lands mid-run; the current page still completes.
		sc.State().RequestStop()
		return searchPageHTML(`[{"id": 1, "title": "a"}]`), nil
	}}
	sc = newTestScanner(store, f)

	if err := sc.Run(context.Background(), PhaseFull); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	st := sc.State().Snapshot()
	if st.Status != domain.ScanStopped {
		t.Fatalf("status = %s; want stopped", st.Status)
	}
	// One fetch, then the boundary check short-circuits everything.
	if len(f.calls) != 1 {
		t.Fatalf("fetches after stop = %d; want 1", len(f.calls))
	}
	if len(store.listings) != 1 {
		t.Fatalf("in-flight page must still be persisted, listings = %d", len(store.listings))
	}
}

func TestStopWhileIdle(t *testing.T) {
	sc := newTestScanner(newFakeStore(), &fakeFetcher{fn: func(string) (string, error) {
		return emptySearchPage(), nil
	}})

	if sc.State().RequestStop() {
		t.Fatal("stop while idle must report nothing to stop")
	}
	st := sc.State().Snapshot()
	if st.Status != domain.ScanIdle || st.Message != "" {
		t.Fatalf("idle state mutated by stop request: %+v", st)
	}
}

func TestOnlyOneScanRuns(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	store := newFakeStore()
	var once sync.Once
	f := &fakeFetcher{fn: func(url string) (string, error) {
		once.Do(func() { close(started) })
		<-block
		return emptySearchPage(), nil
	}}
	sc := newTestScanner(store, f)

	done := make(chan error, 1)
	go func() { done <- sc.Run(context.Background(), PhaseDiscovery) }()
	<-started

	if err := sc.Run(context.Background(), PhaseDiscovery); err != ErrAlreadyRunning {
		t.Fatalf("second start = %v; want ErrAlreadyRunning", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if st := sc.State().Snapshot(); st.Status != domain.ScanCompleted {
		t.Fatalf("status = %s; want completed", st.Status)
	}
}
