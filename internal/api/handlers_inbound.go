package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/checkoutgate/internal/approval"
	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/pkg/models"
)

// maxInboundBytes bounds an inbound email, attachments included.
const maxInboundBytes = 10 << 20

// InboundHandler handles POST /inbound, the email relay's inbound-parse
// webhook. It always answers 200: the relay retries anything else.
func (s *Server) InboundHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.inboundAuthorized(r) {
		s.auditInbound(r, false, map[string]any{"reason": "bad_signature"})
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "invalid inbound signature"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxInboundBytes)
	if err := r.ParseMultipartForm(maxInboundBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.auditInbound(r, false, map[string]any{"reason": "bad_form"})
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "unreadable form body"})
		return
	}

	rec, err := s.ledger.Record(ctx, approval.InboundMessage{
		From:    r.FormValue("from"),
		To:      r.FormValue("to"),
		Subject: r.FormValue("subject"),
		Text:    r.FormValue("text"),
		HTML:    r.FormValue("html"),
	})
	if err != nil {
		payload := map[string]any{"reason": inboundReason(err)}
		if rec.Token != "" {
			payload["token"] = rec.Token
		}
		s.auditInbound(r, false, payload)
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": errclass.Message(err)})
		return
	}

	s.metrics.DecisionStored()
	s.auditor.Record(ctx, models.AuditEvent{
		Type:    models.EventDecisionStore,
		OK:      true,
		Payload: map[string]any{"token": rec.Token, "decision": rec.Decision},
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stored": rec})
}

func (s *Server) inboundAuthorized(r *http.Request) bool {
	if s.cfg.InboundSecret == "" {
		return true
	}
	got := r.URL.Query().Get("key")
	if got == "" {
		got = r.Header.Get("X-Inbound-Secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.InboundSecret)) == 1
}

func (s *Server) auditInbound(r *http.Request, ok bool, payload map[string]any) {
	s.auditor.Record(r.Context(), models.AuditEvent{Type: models.EventInbound, OK: ok, Payload: payload})
}

func inboundReason(err error) string {
	switch {
	case errors.Is(err, errclass.ErrNoTokenFound):
		return "no_token"
	case errors.Is(err, errclass.ErrNoDecisionFound):
		return "no_decision"
	case errors.Is(err, errclass.ErrDuplicateDecision):
		return "duplicate"
	default:
		return "store_error"
	}
}

// DecisionHandler handles GET /decision/{token}
func (s *Server) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ledger.Lookup(r.Context(), chi.URLParam(r, "token"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "found", "data": rec})
	case errors.Is(err, errclass.ErrApprovalNotFound):
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "status": "pending"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "status": "error", "error": errclass.Message(err)})
	}
}
