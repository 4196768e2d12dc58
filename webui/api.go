package webui

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/page"
)

// DefaultHistorySize is how many reports the dashboard keeps
const DefaultHistorySize = 50

// maxDetectBody caps POST /api/detect payloads
const maxDetectBody = 10 << 20

// History keeps the most recent reports
type History struct {
	mu      sync.Mutex
	size    int
	reports []detector.Report
}

// NewHistory keeps up to size reports
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add records a report, evicting the oldest when full
func (h *History) Add(r detector.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
	if over := len(h.reports) - h.size; over > 0 {
		h.reports = append([]detector.Report(nil), h.reports[over:]...)
	}
}

// List returns the reports newest first
func (h *History) List() []detector.Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]detector.Report, len(h.reports))
	for i, r := range h.reports {
		out[len(h.reports)-1-i] = r
	}
	return out
}

// Len returns the number of stored reports
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reports)
}

// DetectRequest is the body of POST /api/detect
type DetectRequest struct {
	URL     string                 `json:"url"`
	HTML    string                 `json:"html"`
	Cookies string                 `json:"cookies"`
	Globals map[string]interface{} `json:"globals"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"fingerprints": s.currentCatalog().Len(),
		"clients":      s.Hub.Clients(),
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DetectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDetectBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HTML == "" {
		writeError(w, http.StatusBadRequest, "html is required")
		return
	}

	snap, err := page.FromHTMLString(req.HTML, req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap.Cookie = req.Cookies
	if req.Globals != nil {
		snap.Globals = page.MapBag(req.Globals)
	}

	results := detector.Threshold(s.detector.Detect(s.currentCatalog(), snap), s.Threshold)
	if results, err = detector.SortBy(results, s.Sort); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report := detector.NewReport(snap, results)
	s.Publish(report)
	s.Logger.Info("Detected %d technologies on %s", len(results), displayURL(report.URL))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reports := s.History.List()
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit >= 0 && limit < len(reports) {
		reports = reports[:limit]
	}
	writeJSON(w, http.StatusOK, reports)
}

func displayURL(u string) string {
	if u == "" {
		return "posted HTML"
	}
	return u
}
