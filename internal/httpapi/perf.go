package httpapi

import (
	"net/http"
	"strings"

	"github.com/antoniostano/streamchat/internal/policy"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

func (s *Server) handlePerfLatencyReset(w http.ResponseWriter, _ *http.Request) {
	s.metrics.ResetStages()
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

type preflightRequest struct {
	Text string `json:"text"`
}

type preflightResponse struct {
	Report       policy.Report `json:"report"`
	RedactedText string        `json:"redacted_text"`
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	var req preflightRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	report := policy.Scan(req.Text)
	for _, d := range report.Detections {
		s.metrics.PreflightWarnings.WithLabelValues(d.ID).Add(float64(d.Count))
	}
	redacted, _ := policy.Redact(req.Text)
	respondJSON(w, http.StatusOK, preflightResponse{Report: report, RedactedText: redacted})
}
