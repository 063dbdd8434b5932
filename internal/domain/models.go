package domain

import "time"

// Listing categories as stored in listings.listing_type.
const (
	CategorySale      = "sale"
	CategoryRentLong  = "rent_long"
	CategoryRentShort = "rent_short"
)

// Scan lifecycle statuses.
const (
	ScanIdle      = "idle"
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanError     = "error"
	ScanStopped   = "stopped"
)

// Listing is a single advertised unit discovered on a search results page.
// ItemID is assigned by the source and uniquely identifies the listing;
// AddressID is nil until the resolution pass visits the listing page.
type Listing struct {
	ItemID      int64     `json:"item_id"`
	AddressID   *int      `json:"address_id,omitempty"`
	Title       string    `json:"title"`
	Price       *int      `json:"price,omitempty"`
	ListingType string    `json:"listing_type"`
	Address     *string   `json:"address,omitempty"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	Rooms       *int      `json:"rooms,omitempty"`
	Area        *float64  `json:"area,omitempty"`
	Floor       *int      `json:"floor,omitempty"`
	TotalFloors *int      `json:"total_floors,omitempty"`
	URL         *string   `json:"url,omitempty"`
	RawData     []byte    `json:"raw_data"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// House is an address-level aggregate many listings reference. A house may
// exist with only identity fields (pre-created during resolution) before the
// enrichment phase fills in characteristics.
type House struct {
	AddressID int      `json:"address_id"`
	Slug      *string  `json:"slug,omitempty"`
	Address   *string  `json:"address,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`

	BuildYear *string `json:"build_year,omitempty"`
	Floors    *string `json:"floors,omitempty"`

	Heating     *string `json:"heating,omitempty"`
	HotWater    *string `json:"hot_water,omitempty"`
	ColdWater   *string `json:"cold_water,omitempty"`
	Electricity *string `json:"electricity,omitempty"`
	Gas         *string `json:"gas,omitempty"`
	Sewerage    *string `json:"sewerage,omitempty"`
	Ventilation *string `json:"ventilation,omitempty"`

	PassengerLift *string `json:"passenger_lift,omitempty"`
	FreightLift   *string `json:"freight_lift,omitempty"`

	HouseType   *string `json:"house_type,omitempty"`
	FloorType   *string `json:"floor_type,omitempty"`
	Foundation  *string `json:"foundation,omitempty"`
	EnergyClass *string `json:"energy_class,omitempty"`

	Playground   *string `json:"playground,omitempty"`
	SportsGround *string `json:"sports_ground,omitempty"`
	Parking      *string `json:"parking,omitempty"`

	Rating         *float64 `json:"rating,omitempty"`
	ReviewCount    *int     `json:"review_count,omitempty"`
	PriceMin       *int     `json:"price_min,omitempty"`
	PriceMax       *int     `json:"price_max,omitempty"`
	ActiveListings *int     `json:"active_listings,omitempty"`

	RawData   []byte    `json:"raw_data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDetail reports whether the enrichment phase already filled this house in.
// The probe set mirrors the HousesMissingDetail query: a house is undetailed
// only while both build_year and house_type are unset.
func (h *House) HasDetail() bool {
	return h.BuildYear != nil || h.HouseType != nil
}

// ApplyCharacteristics assigns extracted field→value pairs onto the house.
// Unknown keys are ignored; empty values never overwrite anything.
func (h *House) ApplyCharacteristics(fields map[string]string) {
	for key, val := range fields {
		if val == "" {
			continue
		}
		v := val
		switch key {
		case "build_year":
			h.BuildYear = &v
		case "floors":
			h.Floors = &v
		case "heating":
			h.Heating = &v
		case "hot_water":
			h.HotWater = &v
		case "cold_water":
			h.ColdWater = &v
		case "electricity":
			h.Electricity = &v
		case "gas":
			h.Gas = &v
		case "sewerage":
			h.Sewerage = &v
		case "ventilation":
			h.Ventilation = &v
		case "passenger_lift":
			h.PassengerLift = &v
		case "freight_lift":
			h.FreightLift = &v
		case "house_type":
			h.HouseType = &v
		case "floor_type":
			h.FloorType = &v
		case "foundation":
			h.Foundation = &v
		case "energy_class":
			h.EnergyClass = &v
		case "playground":
			h.Playground = &v
		case "sports_ground":
			h.SportsGround = &v
		case "parking":
			h.Parking = &v
		}
	}
}

// ListingRef is the slice of a listing the resolution pass needs.
type ListingRef struct {
	ItemID int64
	URL    string
}

// HouseRef is the slice of a house the enrichment phase needs.
type HouseRef struct {
	AddressID int
	Slug      string
}

// ScanStatus is a point-in-time snapshot of the scan state machine, safe to
// serialize for the status endpoint.
type ScanStatus struct {
	Status        string     `json:"status"`
	Phase         string     `json:"phase,omitempty"`
	Category      string     `json:"category,omitempty"`
	TotalPages    int        `json:"total_pages"`
	DonePages     int        `json:"done_pages"`
	TotalHouses   int        `json:"total_houses"`
	DoneHouses    int        `json:"done_houses"`
	NewHouses     int        `json:"new_houses"`
	ListingsFound int        `json:"listings_found"`
	Errors        int        `json:"errors"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// ProgressEvent statuses.
const (
	ProgressPending = "pending"
	ProgressDone    = "done"
	ProgressError   = "error"
)

// ProgressEvent is one append-only row of the scan progress ledger.
type ProgressEvent struct {
	ScanID     string
	Phase      string
	Category   string
	Page       int
	Status     string
	ItemsFound int
	ErrorText  string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Stats aggregates the read API's database counters.
type Stats struct {
	TotalHouses       int        `json:"total_houses"`
	TotalListings     int        `json:"total_listings"`
	ListingsSale      int        `json:"listings_sale"`
	ListingsRentLong  int        `json:"listings_rent_long"`
	ListingsRentShort int        `json:"listings_rent_short"`
	HousesWithDetails int        `json:"houses_with_details"`
	LastScan          *time.Time `json:"last_scan,omitempty"`
}
