// Package session persists encrypted per-site merchant sessions and hands out
// authenticated transport sessions, re-logging in only when needed.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/org/checkoutgate/internal/fsutil"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Cipher is the encryption the store needs.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Store keeps one encrypted file per site under dir.
type Store struct {
	dir    string
	cipher Cipher
}

// NewStore creates dir if needed and returns a Store writing into it.
func NewStore(dir string, cipher Cipher) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}
	return &Store{dir: dir, cipher: cipher}, nil
}

func (s *Store) path(site models.Site) string {
	return filepath.Join(s.dir, string(site)+".bin")
}

// Put encrypts sess and atomically replaces the site's slot.
func (s *Store) Put(site models.Site, sess models.SiteSession) error {
	if !site.Valid() {
		return fmt.Errorf("put session: invalid site %q", site)
	}
	sess.Site = site
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	blob, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	if err := fsutil.AtomicWrite(s.path(site), blob, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// Get returns the stored session for site. Anything that prevents reading a
// trustworthy value (missing file, read error, wrong key, tampering, bad
// encoding) is reported as absent.
func (s *Store) Get(site models.Site) (models.SiteSession, bool) {
	if !site.Valid() {
		return models.SiteSession{}, false
	}
	blob, err := os.ReadFile(s.path(site))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Debug().Err(err).Str("site", string(site)).Msg("session file unreadable")
		}
		return models.SiteSession{}, false
	}
	plaintext, err := s.cipher.Decrypt(blob)
	if err != nil {
		log.Debug().Str("site", string(site)).Msg("session file failed to decrypt, treating as absent")
		return models.SiteSession{}, false
	}
	var sess models.SiteSession
	if err := json.Unmarshal(plaintext, &sess); err != nil || sess.Site != site {
		log.Debug().Str("site", string(site)).Msg("session file malformed, treating as absent")
		return models.SiteSession{}, false
	}
	return sess, true
}
