package models

import (
	"strings"

	"github.com/org/checkoutgate/internal/errclass"
)

// Site identifies one supported merchant.
type Site string

const (
	SiteTarget  Site = "target"
	SiteBestBuy Site = "bestbuy"
	SiteCostco  Site = "costco"
	SiteSams    Site = "sams"
)

// Sites lists every supported merchant in a stable order.
var Sites = []Site{SiteTarget, SiteBestBuy, SiteCostco, SiteSams}

// ParseSite normalizes a site name. Unknown names fail with ErrUnsupportedSite.
func ParseSite(name string) (Site, error) {
	s := Site(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", errclass.ErrUnsupportedSite.WithMessagef("unsupported site: %s", name)
	}
	return s, nil
}

// Valid reports whether s is one of the supported merchants.
func (s Site) Valid() bool {
	switch s {
	case SiteTarget, SiteBestBuy, SiteCostco, SiteSams:
		return true
	}
	return false
}

func (s Site) String() string { return string(s) }
