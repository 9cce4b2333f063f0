package api

import (
	"net/http"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/order"
	"github.com/org/checkoutgate/pkg/models"
)

// OrderAddHandler handles POST /order/add
func (s *Server) OrderAddHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Site      string  `json:"site"`
		ProductID string  `json:"product_id"`
		SKU       string  `json:"sku"`
		Qty       *int    `json:"qty"`
		PriceUSD  float64 `json:"price_usd"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, errclass.ErrInvalidRequest.WithMessage(err.Error()))
		return
	}
	productID := req.ProductID
	if productID == "" {
		productID = req.SKU
	}
	qty := 1
	if req.Qty != nil {
		qty = *req.Qty
	}

	res, err := s.orders.AddToCart(r.Context(), order.AddToCartRequest{
		Site:      req.Site,
		ProductID: productID,
		Qty:       qty,
		PriceUSD:  req.PriceUSD,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

// OrderCheckoutHandler handles POST /order/checkout
func (s *Server) OrderCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Site          string        `json:"site"`
		DecisionToken string        `json:"decision_token"`
		CapUSD        float64       `json:"cap_usd"`
		Items         []models.Item `json:"items"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, errclass.ErrInvalidRequest.WithMessage(err.Error()))
		return
	}

	out, err := s.orders.Checkout(r.Context(), order.CheckoutRequest{
		Site:          req.Site,
		DecisionToken: req.DecisionToken,
		CapUSD:        req.CapUSD,
		Items:         req.Items,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "purchase": out.Purchase, "result": out.Result})
}
