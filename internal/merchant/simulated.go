package merchant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/pkg/models"
)

// Credentials are the account details for one merchant.
type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// ProbeURL, when set, is fetched with the session's cookies to check
	// that a stored session is still authenticated.
	ProbeURL string `yaml:"probe_url"`
}

type siteProfile struct {
	origin      string
	cookieName  string
	orderPrefix string
}

var profiles = map[models.Site]siteProfile{
	models.SiteTarget:  {origin: "https://www.target.com", cookieName: "accessToken", orderPrefix: "SIM-T-"},
	models.SiteBestBuy: {origin: "https://www.bestbuy.com", cookieName: "ut", orderPrefix: "SIM-BB-"},
	models.SiteCostco:  {origin: "https://www.costco.com", cookieName: "WC_AUTHENTICATION", orderPrefix: "SIM-C-"},
	models.SiteSams:    {origin: "https://www.samsclub.com", cookieName: "auth-token", orderPrefix: "SIM-S-"},
}

// SimulatedDriver stands in for real merchant automation. It logs in when
// credentials are configured and returns simulated cart and order results.
type SimulatedDriver struct {
	site    models.Site
	creds   Credentials
	profile siteProfile
	now     func() time.Time
}

// NewSimulatedDriver returns a simulated driver for site.
func NewSimulatedDriver(site models.Site, creds Credentials) (*SimulatedDriver, error) {
	p, ok := profiles[site]
	if !ok {
		return nil, errclass.ErrUnsupportedSite.WithMessagef("unsupported site: %s", site)
	}
	return &SimulatedDriver{site: site, creds: creds, profile: p, now: time.Now}, nil
}

// SimulatedDrivers builds one simulated driver per supported site.
func SimulatedDrivers(creds map[models.Site]Credentials) []Driver {
	out := make([]Driver, 0, len(models.Sites))
	for _, site := range models.Sites {
		d, _ := NewSimulatedDriver(site, creds[site])
		out = append(out, d)
	}
	return out
}

func (d *SimulatedDriver) Site() models.Site { return d.site }

func (d *SimulatedDriver) Login(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.creds.User == "" || d.creds.Password == "" {
		return errclass.ErrAuthenticationFailed.WithMessagef("%s login failed: credentials not configured", d.site)
	}
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return fmt.Errorf("generating session cookie: %w", err)
	}
	return sess.SetCookie(d.profile.origin, &http.Cookie{
		Name:   d.profile.cookieName,
		Value:  hex.EncodeToString(token),
		Path:   "/",
		Secure: true,
	})
}

// IsSessionValid fetches ProbeURL with the session's cookies; a 200 means the
// session is still authenticated. Without a ProbeURL the session is always
// reported invalid, forcing a fresh login.
func (d *SimulatedDriver) IsSessionValid(ctx context.Context, sess *Session) bool {
	if d.creds.ProbeURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.creds.ProbeURL, nil)
	if err != nil {
		return false
	}
	client := *sess.Client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		// A redirect from an account page is a bounce to the login form.
		return http.ErrUseLastResponse
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *SimulatedDriver) AddToCart(ctx context.Context, sess *Session, productID string, qty int) (CartResult, error) {
	if err := ctx.Err(); err != nil {
		return CartResult{}, err
	}
	return CartResult{OK: true, Simulated: true, Site: d.site, ProductID: productID, Qty: qty}, nil
}

func (d *SimulatedDriver) Checkout(ctx context.Context, sess *Session, capUSD float64) (CheckoutResult, error) {
	if err := ctx.Err(); err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{
		OK:        true,
		Simulated: true,
		OrderRef:  fmt.Sprintf("%s%d", d.profile.orderPrefix, d.now().Unix()),
		CapUSD:    capUSD,
	}, nil
}
