package models

import "time"

// Cookie is one persisted cookie of a merchant session.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// SiteSession is the authenticated state persisted for a site.
// It is replaced wholesale on refresh, never merged.
type SiteSession struct {
	Site      Site      `json:"site"`
	Cookies   []Cookie  `json:"cookies"`
	FetchedAt time.Time `json:"fetched_at"`
}
