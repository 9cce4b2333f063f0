package api

import (
	"net/http"
	"time"
)

// RootHandler handles GET /
func (s *Server) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "msg": "checkoutgate receiver alive"})
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.records.Stats(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"decisions_count":    st.DecisionCount,
		"purchases_count":    st.PurchaseCount,
		"latest_decision_ts": timestampOrNil(st.LatestDecision),
		"latest_purchase_ts": timestampOrNil(st.LatestPurchase),
	})
}

func timestampOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
