package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/event"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/zone"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Server provides an HTTP-based admin API for operational management of
// zones: inspecting tuning state, accepting pending gain proposals, and
// adjusting setpoints.
type Server struct {
	zones  *zone.Manager
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(zones *zone.Manager, logger *slog.Logger) *Server {
	return &Server{
		zones:  zones,
		logger: logger.With("component", "admin"),
		now:    time.Now,
	}
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/zones", s.handleListZones)
	mux.HandleFunc("GET /admin/v1/zones/{id}", s.handleGetZone)
	mux.HandleFunc("POST /admin/v1/zones/{id}/accept", s.handleAcceptProposal)
	mux.HandleFunc("POST /admin/v1/zones/{id}/setpoint", s.handleSetpoint)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

// requireZone resolves the {id} path segment to a zone.
// Returns nil (and writes an error response) when the zone is unknown.
func (s *Server) requireZone(w http.ResponseWriter, r *http.Request) *zone.Zone {
	id := r.PathValue("id")
	z, ok := s.zones.Get(id)
	if !ok {
		http.Error(w, `{"error":"unknown zone"}`, http.StatusNotFound)
		return nil
	}
	return z
}

type zoneSummary struct {
	ID         string             `json:"id"`
	Mode       string             `json:"mode"`
	Setpoint   float64            `json:"setpoint"`
	Gains      model.Gains        `json:"gains"`
	Confidence map[string]float64 `json:"confidence"`
	CycleCount map[string]int     `json:"cycle_count"`
	CycleState string             `json:"cycle_state"`
	Override   string             `json:"override,omitempty"`

	// IntegralBoost reports the learner recommending a stronger integral
	// term after repeated stalled recoveries.
	IntegralBoost bool `json:"integral_boost"`
}

func summarize(z *zone.Zone) zoneSummary {
	return zoneSummary{
		ID:       z.ID(),
		Mode:     z.Mode().String(),
		Setpoint: z.Setpoint(),
		Gains:    z.Gains(),
		Confidence: map[string]float64{
			"heat": z.Confidence(model.ModeHeat),
			"cool": z.Confidence(model.ModeCool),
		},
		CycleCount: map[string]int{
			"heat": z.CycleCount(model.ModeHeat),
			"cool": z.CycleCount(model.ModeCool),
		},
		CycleState:    string(z.CycleState()),
		Override:      string(z.ActiveOverride()),
		IntegralBoost: z.IntegralBoostRecommended(),
	}
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := s.zones.Zones()
	resp := make([]zoneSummary, len(zones))
	for i, z := range zones {
		resp[i] = summarize(z)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	z := s.requireZone(w, r)
	if z == nil {
		return
	}
	writeJSON(w, http.StatusOK, summarize(z))
}

type acceptResponse struct {
	Applied bool        `json:"applied"`
	Gains   model.Gains `json:"gains"`
}

func (s *Server) handleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	z := s.requireZone(w, r)
	if z == nil {
		return
	}

	applied := z.AcceptProposal(s.now())
	if !applied {
		http.Error(w, `{"error":"no pending proposal"}`, http.StatusConflict)
		return
	}

	s.logger.Info("proposal accepted via admin API", "zone", z.ID(), "gains", z.Gains())
	writeJSON(w, http.StatusOK, acceptResponse{Applied: true, Gains: z.Gains()})
}

type setpointRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	z := s.requireZone(w, r)
	if z == nil {
		return
	}

	var req setpointRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		http.Error(w, `{"error":"value is required"}`, http.StatusBadRequest)
		return
	}

	old := z.Setpoint()
	z.Post(event.SetpointChanged{At: s.now(), Old: old, New: *req.Value})

	s.logger.Info("setpoint changed via admin API", "zone", z.ID(), "old", old, "new", *req.Value)
	writeJSON(w, http.StatusAccepted, map[string]float64{"old": old, "new": *req.Value})
}
