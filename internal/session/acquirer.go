package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/merchant"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Acquisition outcomes, reported to the observer.
const (
	OutcomeReused = "reused"
	OutcomeLogin  = "login"
	OutcomeFailed = "failed"
)

// Observer is notified of every acquisition outcome.
type Observer interface {
	SessionAcquired(site models.Site, outcome string)
}

// Acquirer returns usable transport sessions, reusing stored cookies when the
// driver confirms they are still valid and logging in otherwise.
type Acquirer struct {
	store    *Store
	proxyURL string
	timeout  time.Duration
	observer Observer
	now      func() time.Time
}

// NewAcquirer builds an Acquirer. proxyURL may be empty; timeout bounds every
// HTTP request a session makes.
func NewAcquirer(store *Store, proxyURL string, timeout time.Duration, observer Observer) *Acquirer {
	return &Acquirer{
		store:    store,
		proxyURL: proxyURL,
		timeout:  timeout,
		observer: observer,
		now:      time.Now,
	}
}

// Acquire returns an authenticated session for site. A failed login yields
// errclass.ErrAuthenticationFailed and leaves the store untouched.
func (a *Acquirer) Acquire(ctx context.Context, site models.Site, driver merchant.Driver) (*merchant.Session, error) {
	if driver.Site() != site {
		return nil, errclass.ErrUnsupportedSite.WithMessagef("driver for %s cannot serve %s", driver.Site(), site)
	}
	sess, err := merchant.NewSession(site, a.proxyURL, a.timeout)
	if err != nil {
		return nil, fmt.Errorf("creating transport session: %w", err)
	}

	if stored, ok := a.store.Get(site); ok {
		sess.ApplyCookies(stored.Cookies)
		if driver.IsSessionValid(ctx, sess) {
			a.observe(site, OutcomeReused)
			return sess, nil
		}
		log.Debug().Str("site", string(site)).Msg("stored session no longer valid, logging in")
		// Stale cookies must not leak into the fresh login.
		if sess, err = merchant.NewSession(site, a.proxyURL, a.timeout); err != nil {
			return nil, fmt.Errorf("creating transport session: %w", err)
		}
	}

	if err := driver.Login(ctx, sess); err != nil {
		a.observe(site, OutcomeFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, errclass.ErrAuthenticationFailed) {
			return nil, err
		}
		return nil, errclass.ErrAuthenticationFailed.WithMessagef("%s login failed: %v", site, err)
	}

	fresh := models.SiteSession{Site: site, Cookies: sess.Cookies(), FetchedAt: a.now().UTC()}
	if err := a.store.Put(site, fresh); err != nil {
		// The session is usable even if it could not be persisted.
		log.Error().Err(err).Str("site", string(site)).Msg("failed to persist session")
	}
	a.observe(site, OutcomeLogin)
	return sess, nil
}

func (a *Acquirer) observe(site models.Site, outcome string) {
	if a.observer != nil {
		a.observer.SessionAcquired(site, outcome)
	}
}
