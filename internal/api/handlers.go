package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"avitoscan/internal/domain"
	"avitoscan/internal/scanner"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "avito-scanner",
		"endpoints": []string{
			"GET /houses", "GET /houses/search?q=", "GET /houses/{addressID}",
			"GET /listings", "GET /stats", "GET /monitoring",
			"POST /scan/start", "POST /scan/stop", "GET /scan/status",
		},
	})
}

// --- Scan control ---

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	phase := scanner.PhaseFull
	switch r.URL.Query().Get("phase") {
	case "":
	case "1", "discovery":
		phase = scanner.PhaseDiscovery
	case "2", "enrichment":
		phase = scanner.PhaseEnrichment
	default:
		s.respondWithError(w, http.StatusBadRequest, "phase must be 1, 2 or empty")
		return
	}

	if s.scanner.State().Snapshot().Status == domain.ScanRunning {
		s.respondWithError(w, http.StatusConflict, "Scan already running")
		return
	}

	go func() {
		// The scan outlives the HTTP request; the state machine guard
		// resolves any start race.
		if err := s.scanner.Run(context.Background(), phase); err != nil && err != scanner.ErrAlreadyRunning {
			s.logger.Error("scan run failed", zap.Error(err))
		}
	}()

	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Scan started", "phase": phase})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if !s.scanner.State().RequestStop() {
		s.respondWithError(w, http.StatusBadRequest, "No scan running")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Stop requested"})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.scanner.State().Snapshot())
}

// --- Houses ---

func (s *Server) handleListHouses(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)
	offset := queryInt(r, "offset", 0, 0, 1<<30)
	houseType := r.URL.Query().Get("house_type")

	houses, err := s.pgStore.ListHouses(r.Context(), limit, offset, houseType)
	if err != nil {
		s.logger.Error("failed to list houses", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not list houses")
		return
	}
	if houses == nil {
		houses = []*domain.House{}
	}
	s.respondWithJSON(w, http.StatusOK, houses)
}

func (s *Server) handleSearchHouses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(q) < 2 {
		s.respondWithError(w, http.StatusBadRequest, "q must be at least 2 characters")
		return
	}
	limit := queryInt(r, "limit", 50, 1, 500)

	houses, err := s.pgStore.SearchHouses(r.Context(), q, limit)
	if err != nil {
		s.logger.Error("failed to search houses", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not search houses")
		return
	}
	if len(houses) == 0 {
		s.respondWithError(w, http.StatusNotFound, fmt.Sprintf("No houses match %q", q))
		return
	}
	s.respondWithJSON(w, http.StatusOK, houses)
}

func (s *Server) handleGetHouse(w http.ResponseWriter, r *http.Request) {
	addressID, err := strconv.Atoi(chi.URLParam(r, "addressID"))
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "addressID must be an integer")
		return
	}

	house, err := s.pgStore.GetHouse(r.Context(), addressID)
	if err != nil {
		s.logger.Error("failed to get house", zap.Int("address_id", addressID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve house")
		return
	}
	if house == nil {
		s.respondWithError(w, http.StatusNotFound, fmt.Sprintf("House %d not found", addressID))
		return
	}
	s.respondWithJSON(w, http.StatusOK, house)
}

// --- Listings ---

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)
	offset := queryInt(r, "offset", 0, 0, 1<<30)
	listingType := r.URL.Query().Get("listing_type")
	addressID := queryInt(r, "address_id", 0, 0, 1<<30)

	listings, err := s.pgStore.ListListings(r.Context(), limit, offset, listingType, addressID)
	if err != nil {
		s.logger.Error("failed to list listings", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not list listings")
		return
	}
	if listings == nil {
		listings = []*domain.Listing{}
	}
	s.respondWithJSON(w, http.StatusOK, listings)
}

// --- Stats & monitoring ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pgStore.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve stats")
		return
	}
	s.respondWithJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pgStore.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve stats")
		return
	}

	alerts := []string{}
	if stats.LastScan != nil {
		if age := time.Since(*stats.LastScan); age > 48*time.Hour {
			alerts = append(alerts, fmt.Sprintf("Data stale: last scan %dd %dh ago",
				int(age.Hours())/24, int(age.Hours())%24))
		}
	}
	if stats.TotalHouses == 0 {
		alerts = append(alerts, "No houses in database")
	}

	status := "ok"
	if len(alerts) > 0 {
		status = "warning"
	}

	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"service":        "avito-scanner",
		"total_houses":   stats.TotalHouses,
		"total_listings": stats.TotalListings,
		"last_scan":      stats.LastScan,
		"alerts":         alerts,
	})
}

// --- Health ---

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if s.redisStore != nil {
		if err := s.redisStore.Ping(ctx); err != nil {
			healthStatus["redis"] = "unhealthy"
			s.logger.Error("health check failed for redis", zap.Error(err))
		} else {
			healthStatus["redis"] = "healthy"
		}
	}

	for _, v := range healthStatus {
		if v != "healthy" {
			s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
			return
		}
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return def
	}
	return v
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
