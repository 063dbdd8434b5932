package storage

import (
	"context"
	"fmt"

	"avitoscan/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = "avito"

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		`CREATE TABLE IF NOT EXISTS ` + schema + `.houses (
			address_id INTEGER PRIMARY KEY,
			slug TEXT,
			address TEXT,
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			build_year TEXT,
			floors TEXT,
			heating TEXT,
			hot_water TEXT,
			cold_water TEXT,
			electricity TEXT,
			gas TEXT,
			sewerage TEXT,
			ventilation TEXT,
			passenger_lift TEXT,
			freight_lift TEXT,
			house_type TEXT,
			floor_type TEXT,
			foundation TEXT,
			energy_class TEXT,
			playground TEXT,
			sports_ground TEXT,
			parking TEXT,
			rating REAL,
			review_count INTEGER,
			price_min INTEGER,
			price_max INTEGER,
			active_listings INTEGER,
			raw_data JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + schema + `.listings (
			item_id BIGINT PRIMARY KEY,
			address_id INTEGER,
			title TEXT,
			price INTEGER,
			listing_type TEXT,
			address TEXT,
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			rooms INTEGER,
			area REAL,
			floor INTEGER,
			total_floors INTEGER,
			url TEXT,
			raw_data JSONB,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_address_id ON ` + schema + `.listings(address_id)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_type ON ` + schema + `.listings(listing_type)`,
		`CREATE TABLE IF NOT EXISTS ` + schema + `.scan_progress (
			id SERIAL PRIMARY KEY,
			scan_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			category TEXT,
			page INTEGER,
			status TEXT DEFAULT 'pending',
			items_found INTEGER DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_progress_scan_id ON ` + schema + `.scan_progress(scan_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Listings ---

// UpsertListing inserts a newly discovered listing or, when the item was seen
// before, refreshes only its price and last_seen_at. first_seen_at is never
// overwritten.
func (s *PostgresStore) UpsertListing(ctx context.Context, l *domain.Listing) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+schema+`.listings (
			item_id, address_id, title, price, listing_type,
			address, lat, lng, rooms, area, floor, total_floors,
			url, raw_data, first_seen_at, last_seen_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			price = EXCLUDED.price,
			last_seen_at = NOW()`,
		l.ItemID, l.AddressID, l.Title, l.Price, l.ListingType,
		l.Address, l.Lat, l.Lng, l.Rooms, l.Area, l.Floor, l.TotalFloors,
		l.URL, rawOrNil(l.RawData),
	)
	return err
}

// SetListingHouse attaches the resolved house reference to a listing.
func (s *PostgresStore) SetListingHouse(ctx context.Context, itemID int64, addressID int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE `+schema+`.listings SET address_id = $1 WHERE item_id = $2`,
		addressID, itemID,
	)
	return err
}

// ListingsMissingHouse returns listings awaiting address resolution, in
// stable item_id order so interrupted passes resume deterministically.
func (s *PostgresStore) ListingsMissingHouse(ctx context.Context) ([]domain.ListingRef, error) {
	rows, err := s.db.Query(ctx, `
		SELECT item_id, url FROM `+schema+`.listings
		WHERE address_id IS NULL AND url IS NOT NULL
		ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.ListingRef
	for rows.Next() {
		var ref domain.ListingRef
		if err := rows.Scan(&ref.ItemID, &ref.URL); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) ListListings(ctx context.Context, limit, offset int, listingType string, addressID int) ([]*domain.Listing, error) {
	query := `SELECT item_id, address_id, title, price, listing_type, address, lat, lng,
		rooms, area, floor, total_floors, url, first_seen_at, last_seen_at
		FROM ` + schema + `.listings`
	var conds []string
	var args []any
	if listingType != "" {
		args = append(args, listingType)
		conds = append(conds, fmt.Sprintf("listing_type = $%d", len(args)))
	}
	if addressID != 0 {
		args = append(args, addressID)
		conds = append(conds, fmt.Sprintf("address_id = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY last_seen_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		var l domain.Listing
		if err := rows.Scan(&l.ItemID, &l.AddressID, &l.Title, &l.Price, &l.ListingType,
			&l.Address, &l.Lat, &l.Lng, &l.Rooms, &l.Area, &l.Floor, &l.TotalFloors,
			&l.URL, &l.FirstSeenAt, &l.LastSeenAt); err != nil {
			return nil, err
		}
		listings = append(listings, &l)
	}
	return listings, rows.Err()
}

// --- Houses ---

// UpsertHouse inserts or updates a house. Updates are field-preserving: a nil
// column never clobbers a previously stored value, so a minimal pre-created
// row and a later enrichment write merge instead of overwriting each other.
func (s *PostgresStore) UpsertHouse(ctx context.Context, h *domain.House) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+schema+`.houses (
			address_id, slug, address, lat, lng,
			build_year, floors,
			heating, hot_water, cold_water, electricity, gas, sewerage, ventilation,
			passenger_lift, freight_lift,
			house_type, floor_type, foundation, energy_class,
			playground, sports_ground, parking,
			rating, review_count, price_min, price_max, active_listings,
			raw_data, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,NOW(),NOW())
		ON CONFLICT (address_id) DO UPDATE SET
			slug = COALESCE(EXCLUDED.slug, houses.slug),
			address = COALESCE(EXCLUDED.address, houses.address),
			lat = COALESCE(EXCLUDED.lat, houses.lat),
			lng = COALESCE(EXCLUDED.lng, houses.lng),
			build_year = COALESCE(EXCLUDED.build_year, houses.build_year),
			floors = COALESCE(EXCLUDED.floors, houses.floors),
			heating = COALESCE(EXCLUDED.heating, houses.heating),
			hot_water = COALESCE(EXCLUDED.hot_water, houses.hot_water),
			cold_water = COALESCE(EXCLUDED.cold_water, houses.cold_water),
			electricity = COALESCE(EXCLUDED.electricity, houses.electricity),
			gas = COALESCE(EXCLUDED.gas, houses.gas),
			sewerage = COALESCE(EXCLUDED.sewerage, houses.sewerage),
			ventilation = COALESCE(EXCLUDED.ventilation, houses.ventilation),
			passenger_lift = COALESCE(EXCLUDED.passenger_lift, houses.passenger_lift),
			freight_lift = COALESCE(EXCLUDED.freight_lift, houses.freight_lift),
			house_type = COALESCE(EXCLUDED.house_type, houses.house_type),
			floor_type = COALESCE(EXCLUDED.floor_type, houses.floor_type),
			foundation = COALESCE(EXCLUDED.foundation, houses.foundation),
			energy_class = COALESCE(EXCLUDED.energy_class, houses.energy_class),
			playground = COALESCE(EXCLUDED.playground, houses.playground),
			sports_ground = COALESCE(EXCLUDED.sports_ground, houses.sports_ground),
			parking = COALESCE(EXCLUDED.parking, houses.parking),
			rating = COALESCE(EXCLUDED.rating, houses.rating),
			review_count = COALESCE(EXCLUDED.review_count, houses.review_count),
			price_min = COALESCE(EXCLUDED.price_min, houses.price_min),
			price_max = COALESCE(EXCLUDED.price_max, houses.price_max),
			active_listings = COALESCE(EXCLUDED.active_listings, houses.active_listings),
			raw_data = COALESCE(EXCLUDED.raw_data, houses.raw_data),
			updated_at = NOW()`,
		h.AddressID, h.Slug, h.Address, h.Lat, h.Lng,
		h.BuildYear, h.Floors,
		h.Heating, h.HotWater, h.ColdWater, h.Electricity, h.Gas, h.Sewerage, h.Ventilation,
		h.PassengerLift, h.FreightLift,
		h.HouseType, h.FloorType, h.Foundation, h.EnergyClass,
		h.Playground, h.SportsGround, h.Parking,
		h.Rating, h.ReviewCount, h.PriceMin, h.PriceMax, h.ActiveListings,
		rawOrNil(h.RawData),
	)
	return err
}

// HousesMissingDetail returns houses the enrichment phase still has to visit:
// those where the whole detail probe set (build_year, house_type) is unset.
func (s *PostgresStore) HousesMissingDetail(ctx context.Context) ([]domain.HouseRef, error) {
	rows, err := s.db.Query(ctx, `
		SELECT address_id, slug FROM `+schema+`.houses
		WHERE build_year IS NULL AND house_type IS NULL
		AND slug IS NOT NULL
		ORDER BY address_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.HouseRef
	for rows.Next() {
		var ref domain.HouseRef
		if err := rows.Scan(&ref.AddressID, &ref.Slug); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) GetHouse(ctx context.Context, addressID int) (*domain.House, error) {
	var h domain.House
	err := s.db.QueryRow(ctx, `
		SELECT address_id, slug, address, lat, lng,
			build_year, floors,
			heating, hot_water, cold_water, electricity, gas, sewerage, ventilation,
			passenger_lift, freight_lift,
			house_type, floor_type, foundation, energy_class,
			playground, sports_ground, parking,
			rating, review_count, price_min, price_max, active_listings,
			raw_data, created_at, updated_at
		FROM `+schema+`.houses WHERE address_id = $1`, addressID,
	).Scan(
		&h.AddressID, &h.Slug, &h.Address, &h.Lat, &h.Lng,
		&h.BuildYear, &h.Floors,
		&h.Heating, &h.HotWater, &h.ColdWater, &h.Electricity, &h.Gas, &h.Sewerage, &h.Ventilation,
		&h.PassengerLift, &h.FreightLift,
		&h.HouseType, &h.FloorType, &h.Foundation, &h.EnergyClass,
		&h.Playground, &h.SportsGround, &h.Parking,
		&h.Rating, &h.ReviewCount, &h.PriceMin, &h.PriceMax, &h.ActiveListings,
		&h.RawData, &h.CreatedAt, &h.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) ListHouses(ctx context.Context, limit, offset int, houseType string) ([]*domain.House, error) {
	query := houseListSelect + ` ORDER BY address LIMIT $1 OFFSET $2`
	args := []any{limit, offset}
	if houseType != "" {
		query = houseListSelect + ` WHERE house_type = $1 ORDER BY address LIMIT $2 OFFSET $3`
		args = []any{houseType, limit, offset}
	}
	return s.queryHouses(ctx, query, args...)
}

func (s *PostgresStore) SearchHouses(ctx context.Context, q string, limit int) ([]*domain.House, error) {
	query := houseListSelect + ` WHERE address ILIKE $1 ORDER BY address LIMIT $2`
	return s.queryHouses(ctx, query, "%"+q+"%", limit)
}

const houseListSelect = `
	SELECT address_id, slug, address, lat, lng,
		build_year, floors,
		heating, hot_water, cold_water, electricity, gas, sewerage, ventilation,
		passenger_lift, freight_lift,
		house_type, floor_type, foundation, energy_class,
		playground, sports_ground, parking,
		rating, review_count, price_min, price_max, active_listings,
		created_at, updated_at
	FROM ` + schema + `.houses`

func (s *PostgresStore) queryHouses(ctx context.Context, query string, args ...any) ([]*domain.House, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var houses []*domain.House
	for rows.Next() {
		var h domain.House
		if err := rows.Scan(
			&h.AddressID, &h.Slug, &h.Address, &h.Lat, &h.Lng,
			&h.BuildYear, &h.Floors,
			&h.Heating, &h.HotWater, &h.ColdWater, &h.Electricity, &h.Gas, &h.Sewerage, &h.Ventilation,
			&h.PassengerLift, &h.FreightLift,
			&h.HouseType, &h.FloorType, &h.Foundation, &h.EnergyClass,
			&h.Playground, &h.SportsGround, &h.Parking,
			&h.Rating, &h.ReviewCount, &h.PriceMin, &h.PriceMax, &h.ActiveListings,
			&h.CreatedAt, &h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		houses = append(houses, &h)
	}
	return houses, rows.Err()
}

// --- Scan progress ---

// SaveScanProgress appends one immutable row to the progress ledger.
func (s *PostgresStore) SaveScanProgress(ctx context.Context, ev *domain.ProgressEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+schema+`.scan_progress
			(scan_id, phase, category, page, status, items_found, error_message, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ScanID, ev.Phase, ev.Category, ev.Page, ev.Status, ev.ItemsFound,
		nilIfEmpty(ev.ErrorText), ev.StartedAt, ev.FinishedAt,
	)
	return err
}

// --- Stats ---

func (s *PostgresStore) Stats(ctx context.Context) (*domain.Stats, error) {
	var st domain.Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM `+schema+`.houses),
			(SELECT COUNT(*) FROM `+schema+`.listings),
			(SELECT COUNT(*) FROM `+schema+`.listings WHERE listing_type = 'sale'),
			(SELECT COUNT(*) FROM `+schema+`.listings WHERE listing_type = 'rent_long'),
			(SELECT COUNT(*) FROM `+schema+`.listings WHERE listing_type = 'rent_short'),
			(SELECT COUNT(*) FROM `+schema+`.houses WHERE build_year IS NOT NULL OR house_type IS NOT NULL),
			(SELECT MAX(updated_at) FROM `+schema+`.houses)`,
	).Scan(&st.TotalHouses, &st.TotalListings, &st.ListingsSale, &st.ListingsRentLong,
		&st.ListingsRentShort, &st.HousesWithDetails, &st.LastScan)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
