// Package scanner drives the two-phase incremental scan: discovery paginates
// category search pages and resolves listing addresses, enrichment fills in
// house characteristics. One scan runs at a time, sequentially; the only
// concurrency is with status readers and the stop request.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"avitoscan/internal/domain"
	"avitoscan/internal/extractor"
	"avitoscan/internal/fetcher"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase selectors for Run.
const (
	PhaseFull       = "full"
	PhaseDiscovery  = "discovery"
	PhaseEnrichment = "enrichment"
)

// ErrAlreadyRunning is returned when a start request races a running scan.
var ErrAlreadyRunning = errors.New("scan already running")

// Store is the persistence collaborator. All writes are idempotent and keyed
// by source identifiers; the queries drive resumability.
type Store interface {
	UpsertListing(ctx context.Context, l *domain.Listing) error
	UpsertHouse(ctx context.Context, h *domain.House) error
	SetListingHouse(ctx context.Context, itemID int64, addressID int) error
	ListingsMissingHouse(ctx context.Context) ([]domain.ListingRef, error)
	HousesMissingDetail(ctx context.Context) ([]domain.HouseRef, error)
	SaveScanProgress(ctx context.Context, ev *domain.ProgressEvent) error
}

// NoDataCache remembers house pages that recently yielded nothing, so repeat
// runs skip them until the mark expires. Optional; nil disables it.
type NoDataCache interface {
	MarkNoData(ctx context.Context, addressID int, ttl time.Duration) error
	RecentlyNoData(ctx context.Context, addressID int) (bool, error)
}

// Metrics is the subset of monitoring the scanner reports to.
type Metrics interface {
	IncPagesFetched(kind string)
	IncErrorsTotal(errorType string)
	IncListingsUpserted()
	IncHousesEnriched()
	IncScansStarted()
}

// Options carries the crawl tuning knobs.
type Options struct {
	Categories           map[string]string // category name → URL path fragment
	CategoryOrder        []string
	RentalCategories     map[string]bool
	SearchDelay          time.Duration
	HouseDelay           time.Duration
	MaxConsecutiveErrors int
	NoDataTTL            time.Duration
}

// Scanner owns the scan loop and is the sole writer of its State while a
// scan is running.
type Scanner struct {
	opts    Options
	urls    fetcher.URLs
	fetch   fetcher.Fetcher
	extract *extractor.Extractor
	store   Store
	cache   NoDataCache
	metrics Metrics
	logger  *zap.Logger
	state   *State
}

func New(opts Options, urls fetcher.URLs, f fetcher.Fetcher, ex *extractor.Extractor, store Store, cache NoDataCache, m Metrics, logger *zap.Logger) *Scanner {
	return &Scanner{
		opts:    opts,
		urls:    urls,
		fetch:   f,
		extract: ex,
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger,
		state:   NewState(),
	}
}

// State exposes the scan state for the API layer.
func (s *Scanner) State() *State {
	return s.state
}

// Run executes one scan. It rejects a start while another scan is running
// and always leaves the state in a terminal status when it returns.
func (s *Scanner) Run(ctx context.Context, phase string) error {
	if !s.state.TryStart() {
		s.logger.Warn("scan already running")
		return ErrAlreadyRunning
	}
	s.metrics.IncScansStarted()

	scanID := uuid.NewString()[:8]
	s.logger.Info("scan started", zap.String("scan_id", scanID), zap.String("phase", phase))

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan panicked", zap.String("scan_id", scanID), zap.Any("panic", r))
			s.state.Finish(domain.ScanError, fmt.Sprintf("Scan error: %v", r))
		}
	}()

	if phase == PhaseFull || phase == PhaseDiscovery {
		if err := s.runDiscovery(ctx, scanID); err != nil {
			s.logger.Error("scan failed", zap.String("scan_id", scanID), zap.Error(err))
			s.state.Finish(domain.ScanError, fmt.Sprintf("Scan error: %v", err))
			return err
		}
	}

	if s.state.StopRequested() {
		s.state.Finish(domain.ScanStopped, "Scan stopped by user")
		s.logger.Info("scan stopped", zap.String("scan_id", scanID))
		return nil
	}

	if phase == PhaseFull || phase == PhaseEnrichment {
		if err := s.runEnrichment(ctx, scanID); err != nil {
			s.logger.Error("scan failed", zap.String("scan_id", scanID), zap.Error(err))
			s.state.Finish(domain.ScanError, fmt.Sprintf("Scan error: %v", err))
			return err
		}
	}

	finalStatus := domain.ScanCompleted
	if s.state.StopRequested() {
		finalStatus = domain.ScanStopped
	}
	newHouses, listingsFound := s.state.counters()
	s.state.Finish(finalStatus, fmt.Sprintf(
		"Scan %s. Houses: %d new, Listings: %d", finalStatus, newHouses, listingsFound))
	s.logger.Info("scan finished",
		zap.String("scan_id", scanID),
		zap.String("status", finalStatus),
		zap.Int("listings_found", listingsFound),
		zap.Int("new_houses", newHouses))
	return nil
}

// --- discovery ---

func (s *Scanner) runDiscovery(ctx context.Context, scanID string) error {
	s.state.setPhase("phase1_search", "Phase 1: Scanning search pages...")

	for _, category := range s.opts.CategoryOrder {
		if s.state.StopRequested() {
			return nil
		}
		slug, ok := s.opts.Categories[category]
		if !ok {
			continue
		}
		s.state.setCategory(category, fmt.Sprintf("Phase 1: Scanning %s...", category))
		s.scanCategory(ctx, scanID, category, slug)
	}

	if s.state.StopRequested() {
		return nil
	}

	s.state.setMessage("Phase 1: Resolving houses from listing pages...")
	return s.resolveAddresses(ctx, scanID)
}

// scanCategory paginates one category until the first empty page. Fetch
// failures retry the same page until the consecutive-error threshold abandons
// the category; a decodable page with zero items is the normal terminator and
// costs nothing from the error budget.
func (s *Scanner) scanCategory(ctx context.Context, scanID, category, slug string) {
	consecutiveErrors := 0
	page := 1

	for {
		if s.state.StopRequested() {
			return
		}
		s.state.setMessage(fmt.Sprintf("Phase 1: %s page %d...", category, page))

		html, err := s.fetch.Fetch(ctx, s.urls.SearchPage(slug, page))
		s.metrics.IncPagesFetched("search")
		if err != nil {
			s.logger.Warn("search page fetch failed",
				zap.String("category", category), zap.Int("page", page), zap.Error(err))
			s.metrics.IncErrorsTotal("fetch_failed")
			consecutiveErrors++
			if consecutiveErrors >= s.opts.MaxConsecutiveErrors {
				s.logger.Warn("too many errors, stopping category", zap.String("category", category))
				return
			}
			s.pause()
			continue
		}

		items := s.extract.ParseSearchPage(html)
		if len(items) == 0 {
			s.logger.Info("end of pagination",
				zap.String("category", category), zap.Int("page", page))
			return
		}
		consecutiveErrors = 0

		for _, listing := range items {
			// The rent search mixes periods; without an explicit marker a
			// rental listing defaults to rent_long rather than sale.
			if s.opts.RentalCategories[category] && listing.ListingType == domain.CategorySale {
				listing.ListingType = domain.CategoryRentLong
			}
			if err := s.store.UpsertListing(ctx, listing); err != nil {
				s.logger.Debug("failed to upsert listing",
					zap.Int64("item_id", listing.ItemID), zap.Error(err))
				s.metrics.IncErrorsTotal("db_save_failed")
				continue
			}
			s.metrics.IncListingsUpserted()
		}

		s.state.pageDone(len(items))
		s.progress(ctx, scanID, "phase1", category, page, domain.ProgressDone, len(items), "")
		s.logger.Info("search page done",
			zap.String("category", category), zap.Int("page", page), zap.Int("items", len(items)))

		s.pause()
		page++
	}
}

// resolveAddresses visits each listing page still lacking a house reference,
// extracts the house identity and pre-creates a minimal house row. The query
// naturally skips listings resolved by earlier runs.
func (s *Scanner) resolveAddresses(ctx context.Context, scanID string) error {
	refs, err := s.store.ListingsMissingHouse(ctx)
	if err != nil {
		return fmt.Errorf("query listings missing house: %w", err)
	}
	if len(refs) == 0 {
		s.logger.Info("no listings awaiting house resolution")
		return nil
	}

	total := len(refs)
	s.state.setMessage(fmt.Sprintf("Phase 1: Resolving houses for %d listings...", total))
	consecutiveErrors := 0
	resolved := 0

	for idx, ref := range refs {
		if s.state.StopRequested() {
			return nil
		}
		if idx%50 == 0 {
			s.state.setMessage(fmt.Sprintf("Phase 1: house resolution %d/%d...", idx, total))
		}

		html, err := s.fetch.Fetch(ctx, s.urls.Listing(ref.URL))
		s.metrics.IncPagesFetched("listing")
		if err != nil {
			s.logger.Warn("listing page fetch failed",
				zap.Int64("item_id", ref.ItemID), zap.Error(err))
			s.metrics.IncErrorsTotal("fetch_failed")
			consecutiveErrors++
			if consecutiveErrors >= s.opts.MaxConsecutiveErrors {
				s.logger.Warn("too many errors resolving houses, stopping pass")
				break
			}
			s.pause()
			continue
		}
		consecutiveErrors = 0

		detail, ok := s.extract.ParseListingPage(html)
		if ok && detail.AddressID != 0 {
			if err := s.store.SetListingHouse(ctx, ref.ItemID, detail.AddressID); err != nil {
				s.logger.Error("failed to attach house to listing",
					zap.Int64("item_id", ref.ItemID), zap.Error(err))
				s.metrics.IncErrorsTotal("db_save_failed")
			}
			slug := detail.Slug
			house := &domain.House{
				AddressID: detail.AddressID,
				Slug:      &slug,
				Address:   detail.Address,
				Lat:       detail.Lat,
				Lng:       detail.Lng,
			}
			if err := s.store.UpsertHouse(ctx, house); err != nil {
				s.logger.Debug("failed to pre-create house",
					zap.Int("address_id", detail.AddressID), zap.Error(err))
				s.metrics.IncErrorsTotal("db_save_failed")
			} else {
				resolved++
			}
		}

		s.pause()
	}

	s.logger.Info("house resolution pass complete", zap.Int("resolved", resolved), zap.Int("total", total))
	return nil
}

// --- enrichment ---

// runEnrichment fills in detailed characteristics for every house that still
// lacks them. Only fetch failures feed the circuit breaker; a page that
// decodes but yields nothing is recorded as an error event and skipped.
func (s *Scanner) runEnrichment(ctx context.Context, scanID string) error {
	s.state.setPhase("phase2_houses", "Phase 2: Fetching house details...")

	refs, err := s.store.HousesMissingDetail(ctx)
	if err != nil {
		return fmt.Errorf("query houses missing detail: %w", err)
	}
	if len(refs) == 0 {
		s.logger.Info("all houses already have details")
		s.state.setMessage("Phase 2: No new houses to process")
		return nil
	}

	total := len(refs)
	s.state.setTotalHouses(total)
	s.state.setMessage(fmt.Sprintf("Phase 2: %d houses to process...", total))
	consecutiveErrors := 0

	for idx, ref := range refs {
		if s.state.StopRequested() {
			return nil
		}
		s.state.setDoneHouses(idx)
		s.state.setMessage(fmt.Sprintf("Phase 2: House %d/%d (id=%d)...", idx+1, total, ref.AddressID))

		if s.skipRecentNoData(ctx, ref.AddressID) {
			continue
		}

		html, err := s.fetch.Fetch(ctx, s.urls.HousePage(ref.Slug, ref.AddressID))
		s.metrics.IncPagesFetched("house")
		if err != nil {
			s.logger.Warn("house page fetch failed",
				zap.Int("address_id", ref.AddressID), zap.Error(err))
			s.metrics.IncErrorsTotal("fetch_failed")
			s.state.errorSeen()
			consecutiveErrors++
			if consecutiveErrors >= s.opts.MaxConsecutiveErrors {
				s.logger.Warn("too many consecutive errors in phase 2, stopping")
				break
			}
			s.pauseHouse()
			continue
		}
		consecutiveErrors = 0

		detail, ok := s.extract.ParseHousePage(html)
		if !ok {
			s.logger.Warn("no data extracted for house", zap.Int("address_id", ref.AddressID))
			s.metrics.IncErrorsTotal("extract_failed")
			s.state.errorSeen()
			s.progress(ctx, scanID, "phase2", fmt.Sprintf("house_%d", ref.AddressID), 0,
				domain.ProgressError, 0, "No data extracted")
			s.markNoData(ctx, ref.AddressID)
			s.pauseHouse()
			continue
		}

		slug := ref.Slug
		house := &domain.House{AddressID: ref.AddressID, Slug: &slug}
		house.ApplyCharacteristics(detail.Fields)
		house.Rating = detail.Rating
		house.ReviewCount = detail.ReviewCount
		house.PriceMin = detail.PriceMin
		house.PriceMax = detail.PriceMax
		house.ActiveListings = detail.ActiveListings
		house.RawData = detail.Snapshot()

		if err := s.store.UpsertHouse(ctx, house); err != nil {
			s.logger.Error("failed to save house",
				zap.Int("address_id", ref.AddressID), zap.Error(err))
			s.metrics.IncErrorsTotal("db_save_failed")
			s.state.errorSeen()
		} else {
			s.state.houseEnriched()
			s.metrics.IncHousesEnriched()
			s.progress(ctx, scanID, "phase2", fmt.Sprintf("house_%d", ref.AddressID), 0,
				domain.ProgressDone, 1, "")
		}

		s.pauseHouse()
	}

	s.state.setDoneHouses(total)
	newHouses, _ := s.state.counters()
	s.logger.Info("phase 2 complete", zap.Int("enriched", newHouses), zap.Int("total", total))
	return nil
}

func (s *Scanner) skipRecentNoData(ctx context.Context, addressID int) bool {
	if s.cache == nil {
		return false
	}
	recent, err := s.cache.RecentlyNoData(ctx, addressID)
	if err != nil {
		s.logger.Debug("no-data cache lookup failed", zap.Error(err))
		return false
	}
	if recent {
		s.logger.Debug("skipping recently empty house page", zap.Int("address_id", addressID))
	}
	return recent
}

func (s *Scanner) markNoData(ctx context.Context, addressID int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkNoData(ctx, addressID, s.opts.NoDataTTL); err != nil {
		s.logger.Debug("no-data cache mark failed", zap.Error(err))
	}
}

// progress appends one ledger row; failures are logged and otherwise ignored.
func (s *Scanner) progress(ctx context.Context, scanID, phase, category string, page int, status string, items int, errText string) {
	now := time.Now().UTC()
	ev := &domain.ProgressEvent{
		ScanID:     scanID,
		Phase:      phase,
		Category:   category,
		Page:       page,
		Status:     status,
		ItemsFound: items,
		ErrorText:  errText,
		StartedAt:  now,
	}
	if status == domain.ProgressDone || status == domain.ProgressError {
		ev.FinishedAt = &now
	}
	if err := s.store.SaveScanProgress(ctx, ev); err != nil {
		s.logger.Debug("failed to save scan progress", zap.Error(err))
	}
}

// pause applies the discovery/resolution pacing delay. The delay is not
// interruptible; stop requests take effect at the next loop boundary.
func (s *Scanner) pause() {
	time.Sleep(s.opts.SearchDelay)
}

func (s *Scanner) pauseHouse() {
	time.Sleep(s.opts.HouseDelay)
}
