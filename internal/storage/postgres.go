package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/checkoutgate/pkg/models"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresBackend is a Backend backed by PostgreSQL. It lets several server
// instances share limits, decisions and purchases.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Limits ---

func (p *PostgresBackend) GetLimits(ctx context.Context) (models.Limits, error) {
	var l models.Limits
	err := p.pool.QueryRow(ctx, `SELECT cap_usd, max_qty FROM limits WHERE id = 1`).Scan(&l.CapUSD, &l.MaxQty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Limits{}, ErrNotFound
		}
		return models.Limits{}, err
	}
	return l, nil
}

func (p *PostgresBackend) PutLimits(ctx context.Context, limits models.Limits) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO limits (id, cap_usd, max_qty, updated_at)
		 VALUES (1, $1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET cap_usd = EXCLUDED.cap_usd, max_qty = EXCLUDED.max_qty, updated_at = NOW()`,
		limits.CapUSD, limits.MaxQty,
	)
	return err
}

// --- Decisions ---

func (p *PostgresBackend) CreateDecision(ctx context.Context, rec models.DecisionRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO decisions (token, decision, from_addr, to_addr, subject, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Token, string(rec.Decision), rec.From, rec.To, rec.Subject, rec.ReceivedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) PutDecision(ctx context.Context, rec models.DecisionRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO decisions (token, decision, from_addr, to_addr, subject, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (token) DO UPDATE
		 SET decision = EXCLUDED.decision,
		     from_addr = EXCLUDED.from_addr,
		     to_addr = EXCLUDED.to_addr,
		     subject = EXCLUDED.subject,
		     received_at = EXCLUDED.received_at`,
		rec.Token, string(rec.Decision), rec.From, rec.To, rec.Subject, rec.ReceivedAt,
	)
	return err
}

func (p *PostgresBackend) GetDecision(ctx context.Context, token string) (models.DecisionRecord, error) {
	var rec models.DecisionRecord
	var decision string
	err := p.pool.QueryRow(ctx,
		`SELECT token, decision, from_addr, to_addr, subject, received_at
		 FROM decisions WHERE token = $1`,
		token,
	).Scan(&rec.Token, &decision, &rec.From, &rec.To, &rec.Subject, &rec.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DecisionRecord{}, ErrNotFound
		}
		return models.DecisionRecord{}, err
	}
	rec.Decision = models.Decision(decision)
	return rec, nil
}

// --- Purchases ---

func (p *PostgresBackend) AppendPurchase(ctx context.Context, rec models.PurchaseRecord) error {
	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("encoding purchase items: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO purchases (id, created_at, site, order_ref, amount_usd, items)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Timestamp, string(rec.Site), rec.OrderRef, rec.AmountUSD, itemsJSON,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) ListPurchases(ctx context.Context, limit int) ([]models.PurchaseRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, created_at, site, order_ref, amount_usd, items
		 FROM purchases ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PurchaseRecord
	for rows.Next() {
		var rec models.PurchaseRecord
		var site string
		var itemsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &site, &rec.OrderRef, &rec.AmountUSD, &itemsJSON); err != nil {
			return nil, err
		}
		rec.Site = models.Site(site)
		json.Unmarshal(itemsJSON, &rec.Items) //nolint:errcheck
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Health ---

func (p *PostgresBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var latestDec, latestPur *time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM decisions),
		        (SELECT MAX(received_at) FROM decisions),
		        (SELECT COUNT(*) FROM purchases),
		        (SELECT MAX(created_at) FROM purchases)`,
	).Scan(&st.DecisionCount, &latestDec, &st.PurchaseCount, &latestPur)
	if err != nil {
		return Stats{}, err
	}
	if latestDec != nil {
		st.LatestDecision = latestDec.UTC()
	}
	if latestPur != nil {
		st.LatestPurchase = latestPur.UTC()
	}
	return st, nil
}
