package models

import "time"

// Audit event types.
const (
	EventInbound         = "inbound"
	EventDecisionStore   = "decision_store"
	EventLimitsSet       = "limits_set"
	EventAddToCart       = "add_to_cart"
	EventAddToCartError  = "add_to_cart_error"
	EventCheckoutError   = "checkout_error"
	EventPurchaseStore   = "purchase_store"
	EventSessionAcquired = "session_acquired"
)

// AuditEvent is one line of the append-only audit log.
type AuditEvent struct {
	Timestamp time.Time
	Type      string
	OK        bool
	Payload   map[string]any
}
