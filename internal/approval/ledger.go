// Package approval turns inbound approval emails into durable decision records
// and answers whether a checkout token has been approved.
package approval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/storage"
	"github.com/org/checkoutgate/pkg/models"
	"golang.org/x/text/unicode/norm"
)

var (
	tokenRe      = regexp.MustCompile(`(?i)token\s*:\s*([a-f0-9]{6,32})`)
	validTokenRe = regexp.MustCompile(`^[a-f0-9]{6,32}$`)
	lineBreaks   = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// Store is the persistence the ledger needs.
type Store interface {
	CreateDecision(ctx context.Context, rec models.DecisionRecord) error
	PutDecision(ctx context.Context, rec models.DecisionRecord) error
	GetDecision(ctx context.Context, token string) (models.DecisionRecord, error)
}

// InboundMessage is an email as delivered by the inbound-parse webhook.
type InboundMessage struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Ledger maps decision tokens to human decisions.
type Ledger struct {
	store          Store
	allowOverwrite bool
	now            func() time.Time
}

// NewLedger returns a Ledger. With allowOverwrite, a second decision for a
// token replaces the first; otherwise it is rejected.
func NewLedger(store Store, allowOverwrite bool) *Ledger {
	return &Ledger{store: store, allowOverwrite: allowOverwrite, now: time.Now}
}

// Record parses msg and persists the decision it carries.
func (l *Ledger) Record(ctx context.Context, msg InboundMessage) (models.DecisionRecord, error) {
	text := norm.NFKC.String(msg.Text)
	html := norm.NFKC.String(msg.HTML)

	token, ok := ExtractToken(text, html)
	if !ok {
		return models.DecisionRecord{}, errclass.ErrNoTokenFound.WithMessage("TOKEN not found in message body")
	}

	body := strings.TrimSpace(text)
	if body == "" {
		body = html
	}
	decision, ok := ExtractDecision(body)
	if !ok {
		return models.DecisionRecord{Token: token}, errclass.ErrNoDecisionFound.WithMessage("Decision (1/2) not found")
	}

	rec := models.DecisionRecord{
		Token:      token,
		Decision:   decision,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		ReceivedAt: l.now().UTC(),
	}
	if l.allowOverwrite {
		if err := l.store.PutDecision(ctx, rec); err != nil {
			return models.DecisionRecord{}, fmt.Errorf("storing decision: %w", err)
		}
		return rec, nil
	}
	if err := l.store.CreateDecision(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return models.DecisionRecord{}, errclass.ErrDuplicateDecision.WithMessagef("decision for token %s already recorded", token)
		}
		return models.DecisionRecord{}, fmt.Errorf("storing decision: %w", err)
	}
	return rec, nil
}

// Lookup returns the decision recorded for token, or ErrApprovalNotFound.
func (l *Ledger) Lookup(ctx context.Context, token string) (models.DecisionRecord, error) {
	token = NormalizeToken(token)
	if !validTokenRe.MatchString(token) {
		return models.DecisionRecord{}, errclass.ErrInvalidToken.WithMessage("token must be 6-32 hex characters")
	}
	rec, err := l.store.GetDecision(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.DecisionRecord{}, errclass.ErrApprovalNotFound.WithMessage("approval not found")
		}
		return models.DecisionRecord{}, err
	}
	return rec, nil
}

// IsApproved reports whether token has an approve decision on record.
func (l *Ledger) IsApproved(ctx context.Context, token string) bool {
	rec, err := l.Lookup(ctx, token)
	return err == nil && rec.Approved()
}

// NormalizeToken lowercases and trims a token so lookups match however the
// token was typed.
func NormalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// ExtractToken finds the first "token: <hex>" marker, preferring text over html.
func ExtractToken(text, html string) (string, bool) {
	for _, body := range []string{text, html} {
		if m := tokenRe.FindStringSubmatch(body); m != nil {
			return strings.ToLower(m[1]), true
		}
	}
	return "", false
}

// ExtractDecision reads the decision from body. The first line that is
// exactly "1" or "2" once trimmed wins. Otherwise a body containing only one
// of the two digits decides; anything else is no decision.
func ExtractDecision(body string) (models.Decision, bool) {
	for _, line := range strings.Split(lineBreaks.Replace(body), "\n") {
		switch strings.TrimSpace(line) {
		case "1":
			return models.DecisionApprove, true
		case "2":
			return models.DecisionDeny, true
		}
	}
	has1 := strings.Contains(body, "1")
	has2 := strings.Contains(body, "2")
	switch {
	case has1 && !has2:
		return models.DecisionApprove, true
	case has2 && !has1:
		return models.DecisionDeny, true
	}
	return "", false
}
