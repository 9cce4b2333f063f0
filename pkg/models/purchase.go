package models

import "time"

// Item is one line of a checkout request.
type Item struct {
	ID       string  `json:"id"`
	Qty      int     `json:"qty"`
	PriceUSD float64 `json:"price_usd,omitempty"`
}

// PurchaseRecord is written once per successful checkout and never changed.
type PurchaseRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Site      Site      `json:"site"`
	OrderRef  string    `json:"order"`
	AmountUSD float64   `json:"amount"`
	Items     []Item    `json:"items"`
}
