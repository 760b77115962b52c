package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateSettlement is returned when a (payer, nonce) pair is recorded twice.
var ErrDuplicateSettlement = errors.New("settlement already recorded")

// Settlement is one accepted payment.
type Settlement struct {
	Transaction string    `json:"transaction"`
	Payer       string    `json:"payer"`
	PayTo       string    `json:"payTo"`
	Network     string    `json:"network"`
	Asset       string    `json:"asset"`
	Amount      string    `json:"amount"`
	Resource    string    `json:"resource"`
	Method      string    `json:"method"`
	Nonce       string    `json:"nonce"`
	SettledAt   time.Time `json:"settledAt"`
}

// Ledger stores accepted settlements.
type Ledger interface {
	Record(ctx context.Context, s Settlement) error
	List(ctx context.Context, limit int) ([]Settlement, error)
}

// MemoryLedger keeps settlements in process.
type MemoryLedger struct {
	mu      sync.Mutex
	records []Settlement
	seen    map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: map[string]struct{}{}}
}

func (m *MemoryLedger) Record(ctx context.Context, s Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.Payer + ":" + s.Nonce
	if _, ok := m.seen[key]; ok {
		return ErrDuplicateSettlement
	}
	m.seen[key] = struct{}{}
	m.records = append(m.records, s)
	return nil
}

// List returns the newest settlements first.
func (m *MemoryLedger) List(ctx context.Context, limit int) ([]Settlement, error) {
	m.mu.Lock()
	out := append([]Settlement(nil), m.records...)
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt.After(out[j].SettledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type ledgerDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresLedger stores settlements in the x402_settlements table.
type PostgresLedger struct {
	DB ledgerDB
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{DB: pool}
}

const settlementsSchema = `
CREATE TABLE IF NOT EXISTS x402_settlements (
	transaction TEXT PRIMARY KEY,
	payer       TEXT NOT NULL,
	pay_to      TEXT NOT NULL,
	network     TEXT NOT NULL,
	asset       TEXT NOT NULL,
	amount      TEXT NOT NULL,
	resource    TEXT NOT NULL,
	method      TEXT NOT NULL,
	nonce       TEXT NOT NULL,
	settled_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (payer, nonce)
)`

// EnsureSchema creates the settlements table if it does not exist.
func (p *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := p.DB.Exec(ctx, settlementsSchema); err != nil {
		return fmt.Errorf("create settlements table: %w", err)
	}
	return nil
}

func (p *PostgresLedger) Record(ctx context.Context, s Settlement) error {
	_, err := p.DB.Exec(ctx, `
		INSERT INTO x402_settlements
		(transaction, payer, pay_to, network, asset, amount, resource, method, nonce, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.Transaction, s.Payer, s.PayTo, s.Network, s.Asset, s.Amount, s.Resource, s.Method, s.Nonce, s.SettledAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSettlement
	}
	return err
}

func (p *PostgresLedger) List(ctx context.Context, limit int) ([]Settlement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.DB.Query(ctx, `
		SELECT transaction, payer, pay_to, network, asset, amount, resource, method, nonce, settled_at
		FROM x402_settlements ORDER BY settled_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Settlement{}
	for rows.Next() {
		var s Settlement
		if err := rows.Scan(&s.Transaction, &s.Payer, &s.PayTo, &s.Network, &s.Asset, &s.Amount, &s.Resource, &s.Method, &s.Nonce, &s.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
