package api

import (
	"net/http"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/pkg/models"
)

// LimitsGetHandler handles GET /limits
func (s *Server) LimitsGetHandler(w http.ResponseWriter, r *http.Request) {
	l, err := s.limits.Get(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "limits": l})
}

// LimitsSetHandler handles POST /limits
func (s *Server) LimitsSetHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cap float64 `json:"cap"`
		Qty int     `json:"qty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, errclass.ErrInvalidLimits.WithMessage(err.Error()))
		return
	}

	l, err := s.limits.Set(r.Context(), req.Cap, req.Qty)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.auditor.Record(r.Context(), models.AuditEvent{
		Type:    models.EventLimitsSet,
		OK:      true,
		Payload: map[string]any{"data": l},
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "limits": l})
}
