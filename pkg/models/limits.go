package models

// Limits holds the spend and quantity caps. The zero value denies everything.
type Limits struct {
	CapUSD float64 `json:"cap"`
	MaxQty int     `json:"qty"`
}
