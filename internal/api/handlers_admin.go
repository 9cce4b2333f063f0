package api

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	purchasesListLimit = 200
	defaultLogLines    = 200
	maxLogLines        = 5000
)

// PurchasesHandler handles GET /purchases.json
func (s *Server) PurchasesHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.records.ListPurchases(r.Context(), purchasesListLimit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	total := 0.0
	for _, it := range items {
		total += it.AmountUSD
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "total": total, "items": items})
}

// AdminLogsHandler handles GET /admin/logs?n=&format=jsonl|txt
func (s *Server) AdminLogsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := strconv.Atoi(q.Get("n"))
	if err != nil {
		n = defaultLogLines
	}
	n = max(1, min(n, maxLogLines))

	contentType := "application/x-ndjson"
	if strings.EqualFold(q.Get("format"), "txt") {
		contentType = "text/plain; charset=utf-8"
	}

	lines, err := s.auditor.Tail(n)
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if len(lines) > 0 {
		w.Write([]byte(strings.Join(lines, "\n") + "\n")) //nolint:errcheck
	}
}
