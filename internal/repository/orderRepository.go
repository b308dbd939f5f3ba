package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/logger"
)

// OrderRepository stores each order as one JSONB document keyed by
// (channel, order_number). The raw payload lives in its own column so that
// it is replaced, never merged.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

const upsertSQL = `
INSERT INTO orders (channel, order_number, doc, raw, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6)
ON CONFLICT (channel, order_number) DO UPDATE
SET doc        = jsonb_merge_deep(orders.doc, $7::jsonb),
    raw        = COALESCE(EXCLUDED.raw, orders.raw),
    updated_at = $6
WHERE jsonb_merge_deep(orders.doc, $7::jsonb) IS DISTINCT FROM orders.doc
   OR (EXCLUDED.raw IS NOT NULL AND EXCLUDED.raw IS DISTINCT FROM orders.raw)
RETURNING (xmax = 0) AS inserted`

func (p *OrderRepository) Upsert(ctx context.Context, o *domain.Order) (UpsertResult, error) {
	if err := checkKey(o); err != nil {
		return UpsertResult{}, err
	}
	ord := *o
	if ord.Channel == "" {
		ord.Channel = domain.DefaultChannel
	}
	now := p.now().UTC()

	doc, err := insertDoc(&ord, now)
	if err != nil {
		return UpsertResult{}, encodeErr("upsert", err)
	}
	createdAt := ord.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	delete(doc, "raw")
	delete(doc, "updatedAt")

	patch, err := buildPatch(&ord)
	if err != nil {
		return UpsertResult{}, encodeErr("upsert", err)
	}
	delete(patch, "raw")

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return UpsertResult{}, encodeErr("upsert", err)
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return UpsertResult{}, encodeErr("upsert", err)
	}
	var raw *string
	if len(ord.Raw) > 0 {
		s := string(ord.Raw)
		raw = &s
	}

	var inserted bool
	err = p.pool.QueryRow(ctx, upsertSQL,
		ord.Channel,
		ord.OrderNumber,
		string(docJSON),
		raw,
		createdAt,
		now,
		string(patchJSON),
	).Scan(&inserted)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// conflict row left untouched: same content
		return UpsertResult{Matched: 1}, nil
	case err != nil:
		logger.Warn("order upsert failed", "key", ord.Key().String(), "err", err)
		return UpsertResult{}, storeErr("upsert", err)
	case inserted:
		return UpsertResult{Inserted: true}, nil
	default:
		return UpsertResult{Matched: 1, Modified: 1}, nil
	}
}

const selectOrder = `SELECT doc, raw, updated_at FROM orders `

func (p *OrderRepository) Get(ctx context.Context, key domain.OrderKey) (*domain.Order, error) {
	return p.one(ctx, "get",
		selectOrder+`WHERE channel = $1 AND order_number = $2`,
		key.Channel, key.OrderNumber)
}

func (p *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return p.one(ctx, "find by order number",
		selectOrder+`WHERE order_number = $1 ORDER BY created_at DESC LIMIT 1`,
		orderNumber)
}

func (p *OrderRepository) FindAllByOrderNumber(ctx context.Context, orderNumber string) ([]domain.Order, error) {
	return p.many(ctx, "find all by order number",
		selectOrder+`WHERE order_number = $1 ORDER BY created_at DESC, channel`,
		orderNumber)
}

func (p *OrderRepository) FindByReference(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	return p.one(ctx, "find by reference",
		selectOrder+`
		WHERE doc->'delivery'->>'referenceId' = $1
		   OR doc->'delivery'->>'referenceIdPlaceholder' = $1
		   OR doc->'delivery'->>'trackingNumber' = $1
		ORDER BY (doc->'delivery'->>'referenceId' = $1) DESC NULLS LAST, created_at DESC
		LIMIT 1`,
		ref)
}

func (p *OrderRepository) UpdateDelivery(ctx context.Context, key domain.OrderKey, d domain.Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return encodeErr("update delivery", err)
	}
	blockers := lo.Map(d.State.Blockers(), func(s domain.DeliveryState, _ int) string { return string(s) })
	tag, err := p.pool.Exec(ctx, `
		UPDATE orders
		SET doc = jsonb_set(doc, '{delivery}', $3::jsonb, true), updated_at = $4
		WHERE channel = $1 AND order_number = $2
		  AND COALESCE(doc->'delivery'->>'state', '') <> ALL($5::text[])`,
		key.Channel, key.OrderNumber, string(b), p.now().UTC(), blockers)
	if err != nil {
		return storeErr("update delivery", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE channel = $1 AND order_number = $2)`,
		key.Channel, key.OrderNumber).Scan(&exists)
	if err != nil {
		return storeErr("update delivery", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrDeliveryRegressed
}

func (p *OrderRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	return p.many(ctx, "list", selectOrder+`ORDER BY created_at DESC, order_number LIMIT $1`, limit)
}

func (p *OrderRepository) many(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func (p *OrderRepository) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

var postgresIndexes = []string{
	`CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS orders_reference_idx ON orders ((doc->'delivery'->>'referenceId'))`,
	`CREATE INDEX IF NOT EXISTS orders_tracking_idx ON orders ((doc->'delivery'->>'trackingNumber'))`,
}

func (p *OrderRepository) EnsureIndexes(ctx context.Context) error {
	batch := &pgx.Batch{}
	for _, stmt := range postgresIndexes {
		batch.Queue(stmt)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return storeErr("ensure indexes", err)
	}
	return nil
}

func (p *OrderRepository) one(ctx context.Context, op, query string, args ...any) (*domain.Order, error) {
	o, err := scanOrder(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		doc       []byte
		raw       []byte
		updatedAt time.Time
	)
	if err := row.Scan(&doc, &raw, &updatedAt); err != nil {
		return nil, err
	}
	var o domain.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, err
	}
	o.Raw = raw
	o.UpdatedAt = updatedAt.UTC()
	return &o, nil
}
