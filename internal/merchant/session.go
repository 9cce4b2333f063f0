package merchant

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/org/checkoutgate/pkg/models"
)

// Session is a transport session for one merchant: an HTTP client whose cookie
// jar also remembers every cookie it was given, so the authenticated state can
// be extracted and persisted.
type Session struct {
	Site   models.Site
	Client *http.Client
	jar    *recordingJar
}

// NewSession builds a fresh transport session. A non-empty proxyURL routes all
// traffic of the session through that proxy.
func NewSession(site models.Site, proxyURL string, timeout time.Duration) (*Session, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	jar := &recordingJar{inner: inner}
	return &Session{
		Site: site,
		Client: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   timeout,
		},
		jar: jar,
	}, nil
}

// ApplyCookies loads persisted cookies into the session's jar.
func (s *Session) ApplyCookies(cookies []models.Cookie) {
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		domain := c.Domain
		host := domain
		for len(host) > 0 && host[0] == '.' {
			host = host[1:]
		}
		if host == "" {
			continue
		}
		u := &url.URL{Scheme: "https", Host: host, Path: path}
		s.jar.SetCookies(u, []*http.Cookie{{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   path,
		}})
	}
}

// SetCookie records a cookie for the given origin, as a Set-Cookie response would.
func (s *Session) SetCookie(origin string, c *http.Cookie) error {
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("parsing origin: %w", err)
	}
	s.jar.SetCookies(u, []*http.Cookie{c})
	return nil
}

// Cookies returns every cookie the session holds, in the order first seen.
func (s *Session) Cookies() []models.Cookie {
	return s.jar.snapshot()
}

// recordingJar delegates matching to a standard jar and keeps an ordered copy
// of every cookie set, including its domain and path.
type recordingJar struct {
	inner *cookiejar.Jar

	mu      sync.Mutex
	cookies []models.Cookie
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		rec := models.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
		if rec.Domain == "" {
			rec.Domain = u.Hostname()
		}
		if rec.Path == "" {
			rec.Path = "/"
		}
		expired := c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now()))
		j.upsertLocked(rec, expired)
	}
}

func (j *recordingJar) upsertLocked(rec models.Cookie, remove bool) {
	for i, c := range j.cookies {
		if c.Name == rec.Name && c.Domain == rec.Domain && c.Path == rec.Path {
			if remove {
				j.cookies = append(j.cookies[:i], j.cookies[i+1:]...)
			} else {
				j.cookies[i] = rec
			}
			return
		}
	}
	if !remove {
		j.cookies = append(j.cookies, rec)
	}
}

func (j *recordingJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *recordingJar) snapshot() []models.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.Cookie, len(j.cookies))
	copy(out, j.cookies)
	return out
}
