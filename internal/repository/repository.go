package repository

import (
	"context"

	"github.com/petportre/orders-service/internal/domain"
)

// UpsertResult mirrors the document-store vocabulary the back office is used to.
type UpsertResult struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
	Inserted bool  `json:"inserted"`
}

type OrderRepo interface {
	// Upsert inserts the order or deep-merges its non-empty fields into the
	// stored record. Modified stays 0 when nothing changed.
	Upsert(ctx context.Context, o *domain.Order) (UpsertResult, error)
	Get(ctx context.Context, key domain.OrderKey) (*domain.Order, error)
	// FindByOrderNumber returns the newest order with that number across channels.
	FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// FindAllByOrderNumber returns every channel's order with that number, newest first.
	FindAllByOrderNumber(ctx context.Context, orderNumber string) ([]domain.Order, error)
	// FindByReference matches the official reference, the placeholder or the tracking number.
	FindByReference(ctx context.Context, ref string) (*domain.Order, error)
	UpdateDelivery(ctx context.Context, key domain.OrderKey, d domain.Delivery) error
	// List returns up to limit orders, newest first.
	List(ctx context.Context, limit int) ([]domain.Order, error)
	Ping(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error
}
