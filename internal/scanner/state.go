package scanner

import (
	"sync"
	"time"

	"avitoscan/internal/domain"
)

// State is the process-wide scan status. The running scan is its only writer;
// the API reads snapshots and flips the stop flag concurrently. Every access
// holds the mutex, so readers never observe a torn combination of fields.
type State struct {
	mu sync.Mutex

	status        string
	phase         string
	category      string
	totalPages    int
	donePages     int
	totalHouses   int
	doneHouses    int
	newHouses     int
	listingsFound int
	errors        int
	startedAt     time.Time
	message       string
	stopRequested bool
}

func NewState() *State {
	return &State{status: domain.ScanIdle}
}

// Snapshot returns a consistent copy of the current state.
func (s *State) Snapshot() domain.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.ScanStatus{
		Status:        s.status,
		Phase:         s.phase,
		Category:      s.category,
		TotalPages:    s.totalPages,
		DonePages:     s.donePages,
		TotalHouses:   s.totalHouses,
		DoneHouses:    s.doneHouses,
		NewHouses:     s.newHouses,
		ListingsFound: s.listingsFound,
		Errors:        s.errors,
		Message:       s.message,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
	}
	return st
}

// RequestStop flips the stop flag, but only while a scan is running. It
// reports whether there was anything to stop; an idle state is not mutated.
func (s *State) RequestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.ScanRunning {
		return false
	}
	s.stopRequested = true
	s.message = "Stop requested, finishing current operation..."
	return true
}

// TryStart transitions idle (or any terminal status) into running, resetting
// all counters. It refuses when a scan is already running; that guard is the
// only thing enforcing the single-scan invariant.
func (s *State) TryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.ScanRunning {
		return false
	}
	s.status = domain.ScanRunning
	s.phase = ""
	s.category = ""
	s.totalPages = 0
	s.donePages = 0
	s.totalHouses = 0
	s.doneHouses = 0
	s.newHouses = 0
	s.listingsFound = 0
	s.errors = 0
	s.startedAt = time.Now().UTC()
	s.message = "Starting scan..."
	s.stopRequested = false
	return true
}

// Finish moves the scan into a terminal status.
func (s *State) Finish(status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.message = message
}

func (s *State) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *State) setPhase(phase, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.message = message
}

func (s *State) setCategory(category, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.category = category
	s.message = message
}

func (s *State) setMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

func (s *State) pageDone(itemsFound int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donePages++
	s.listingsFound += itemsFound
}

func (s *State) setTotalHouses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalHouses = n
}

func (s *State) setDoneHouses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doneHouses = n
}

func (s *State) houseEnriched() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newHouses++
}

func (s *State) errorSeen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

func (s *State) counters() (newHouses, listingsFound int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newHouses, s.listingsFound
}
