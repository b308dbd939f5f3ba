package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/logger"
	"github.com/petportre/orders-service/internal/normalize"
	"github.com/petportre/orders-service/internal/repository"
)

// cached entries older than this are re-read from the store
const cacheTTL = 30 * time.Second

type cachedOrder struct {
	order    *domain.Order
	loadedAt time.Time
}

// OrdersService is the single entry point to the order store. It keeps a short
// lived read cache keyed by (channel, order number).
type OrdersService struct {
	repo   repository.OrderRepo
	events EventPublisher
	now    func() time.Time

	mu    sync.RWMutex
	byKey map[domain.OrderKey]cachedOrder
}

func NewOrdersService(r repository.OrderRepo, events EventPublisher) *OrdersService {
	if events == nil {
		events = NopPublisher{}
	}
	return &OrdersService{
		repo:   r,
		events: events,
		now:    time.Now,
		byKey:  make(map[domain.OrderKey]cachedOrder),
	}
}

type IngestResult struct {
	OrderNumber string `json:"orderNumber"`
	Channel     string `json:"channel"`
	Matched     int64  `json:"matched"`
	Modified    int64  `json:"modified"`
	Inserted    bool   `json:"inserted"`
}

// Ingest normalizes a storefront payload and upserts it. Payloads without an
// order number are rejected and archived as order.rejected events.
func (s *OrdersService) Ingest(ctx context.Context, raw []byte, opts ...normalize.Option) (IngestResult, error) {
	log := logger.FromContext(ctx)

	o, err := normalize.Normalize(raw, opts...)
	if err != nil {
		log.Warnw("order payload rejected", "err", err)
		s.publish(ctx, newEvent(EventOrderRejected, domain.OrderKey{}, raw, s.now()))
		return IngestResult{}, err
	}

	res, err := s.repo.Upsert(ctx, &o)
	if err != nil {
		log.Errorw("order upsert failed", "order", o.Key().String(), "err", err)
		return IngestResult{}, err
	}
	log.Infow("order ingested",
		"order", o.Key().String(), "inserted", res.Inserted, "matched", res.Matched, "modified", res.Modified)

	out := IngestResult{
		OrderNumber: o.OrderNumber,
		Channel:     o.Channel,
		Matched:     res.Matched,
		Modified:    res.Modified,
		Inserted:    res.Inserted,
	}
	if res.Inserted || res.Modified > 0 {
		s.forget(o.Key())
		s.publish(ctx, newEvent(EventOrderIngested, o.Key(), out, s.now()))
	}
	return out, nil
}

// Get returns the order, serving from the cache while it is fresh.
func (s *OrdersService) Get(ctx context.Context, key domain.OrderKey) (*domain.Order, error) {
	if o, ok := s.cached(key); ok {
		return o, nil
	}
	o, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.remember(o)
	return o, nil
}

// Find resolves an order by number. An empty channel searches every channel
// and returns the newest match.
func (s *OrdersService) Find(ctx context.Context, channel, orderNumber string) (*domain.Order, error) {
	if orderNumber == "" {
		return nil, domain.ErrNotFound
	}
	if channel != "" {
		return s.Get(ctx, domain.OrderKey{Channel: channel, OrderNumber: orderNumber})
	}
	return s.load(ctx, "", orderNumber)
}

// load reads the order straight from the store and refreshes the cache.
// Everything that writes delivery state starts from here.
func (s *OrdersService) load(ctx context.Context, channel, orderNumber string) (*domain.Order, error) {
	if orderNumber == "" {
		return nil, domain.ErrNotFound
	}
	var (
		o   *domain.Order
		err error
	)
	if channel != "" {
		o, err = s.repo.Get(ctx, domain.OrderKey{Channel: channel, OrderNumber: orderNumber})
	} else {
		o, err = s.repo.FindByOrderNumber(ctx, orderNumber)
	}
	if err != nil {
		return nil, err
	}
	s.remember(o)
	return o, nil
}

// FindAll returns every channel's order with that number, newest first.
func (s *OrdersService) FindAll(ctx context.Context, orderNumber string) ([]domain.Order, error) {
	if orderNumber == "" {
		return nil, nil
	}
	return s.repo.FindAllByOrderNumber(ctx, orderNumber)
}

// FindByReference matches official references, placeholders and tracking numbers.
func (s *OrdersService) FindByReference(ctx context.Context, ref string) (*domain.Order, error) {
	o, err := s.repo.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.remember(o)
	return o, nil
}

// UpdateDelivery writes the delivery block and refreshes the cache entry. The
// store refuses a write that would move the state backwards.
func (s *OrdersService) UpdateDelivery(ctx context.Context, o *domain.Order, d domain.Delivery) error {
	if err := s.repo.UpdateDelivery(ctx, o.Key(), d); err != nil {
		// another writer got further; drop the stale copy
		s.forget(o.Key())
		return err
	}
	updated := *o
	updated.Delivery = d
	s.remember(&updated)
	if deliveryMoved(o.Delivery, d) {
		s.publish(ctx, newEvent(EventDeliveryUpdated, o.Key(), d, s.now()))
	}
	return nil
}

// deliveryMoved ignores bookkeeping such as LastCheckedAt.
func deliveryMoved(before, after domain.Delivery) bool {
	return before.State != after.State ||
		before.Status != after.Status ||
		before.ReferenceID != after.ReferenceID ||
		before.TrackingNumber != after.TrackingNumber ||
		before.LabelRef != after.LabelRef ||
		(before.LabelPrintedAt == nil) != (after.LabelPrintedAt == nil)
}

func (s *OrdersService) List(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.repo.List(ctx, limit)
}

func (s *OrdersService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *OrdersService) EnsureIndexes(ctx context.Context) error {
	return s.repo.EnsureIndexes(ctx)
}

// RestoreCache warms the cache with the most recent orders.
func (s *OrdersService) RestoreCache(ctx context.Context, limit int) error {
	orders, err := s.repo.List(ctx, limit)
	if err != nil {
		return err
	}

	now := s.now()
	tmp := make(map[domain.OrderKey]cachedOrder, len(orders))
	for i := range orders {
		o := orders[i]
		tmp[o.Key()] = cachedOrder{order: &o, loadedAt: now}
	}

	s.mu.Lock()
	s.byKey = tmp
	s.mu.Unlock()
	logger.Info("order cache restored", "orders", len(tmp))
	return nil
}

func (s *OrdersService) cached(key domain.OrderKey) (*domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[key]
	if !ok || s.now().Sub(c.loadedAt) > cacheTTL {
		return nil, false
	}
	o := *c.order
	return &o, true
}

func (s *OrdersService) remember(o *domain.Order) {
	cp := *o
	s.mu.Lock()
	s.byKey[o.Key()] = cachedOrder{order: &cp, loadedAt: s.now()}
	s.mu.Unlock()
}

func (s *OrdersService) forget(key domain.OrderKey) {
	s.mu.Lock()
	delete(s.byKey, key)
	s.mu.Unlock()
}

func (s *OrdersService) publish(ctx context.Context, e Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		logger.FromContext(ctx).Warnw("event publish failed", "type", e.Type, "order", e.Order, "err", err)
	}
}

// isNotFound keeps lookups benign for callers that map misses to a state.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
