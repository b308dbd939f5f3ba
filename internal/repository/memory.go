package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petportre/orders-service/internal/domain"
)

// MemoryRepository keeps documents in process. Used for local runs and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[domain.OrderKey]map[string]any
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[domain.OrderKey]map[string]any),
		now:  time.Now,
	}
}

func (r *MemoryRepository) Upsert(ctx context.Context, o *domain.Order) (UpsertResult, error) {
	if err := checkKey(o); err != nil {
		return UpsertResult{}, err
	}
	ord := *o
	if ord.Channel == "" {
		ord.Channel = domain.DefaultChannel
	}
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ord.Key()
	doc, ok := r.docs[key]
	if !ok {
		doc, err := insertDoc(&ord, now)
		if err != nil {
			return UpsertResult{}, encodeErr("upsert", err)
		}
		r.docs[key] = doc
		return UpsertResult{Inserted: true}, nil
	}

	patch, err := buildPatch(&ord)
	if err != nil {
		return UpsertResult{}, encodeErr("upsert", err)
	}
	res := UpsertResult{Matched: 1}
	if deepMerge(doc, patch, "") {
		doc["updatedAt"] = now.Format(time.RFC3339Nano)
		res.Modified = 1
	}
	return res, nil
}

func (r *MemoryRepository) Get(ctx context.Context, key domain.OrderKey) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.decode(doc)
}

func (r *MemoryRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	orders, err := r.match(func(o *domain.Order) bool { return o.OrderNumber == orderNumber })
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrNotFound
	}
	return &orders[0], nil
}

func (r *MemoryRepository) FindAllByOrderNumber(ctx context.Context, orderNumber string) ([]domain.Order, error) {
	return r.match(func(o *domain.Order) bool { return o.OrderNumber == orderNumber })
}

func (r *MemoryRepository) FindByReference(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	orders, err := r.match(func(o *domain.Order) bool {
		d := o.Delivery
		return d.ReferenceID == ref || d.ReferenceIDPlaceholder == ref || d.TrackingNumber == ref
	})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrNotFound
	}
	return &orders[0], nil
}

func (r *MemoryRepository) UpdateDelivery(ctx context.Context, key domain.OrderKey, d domain.Delivery) error {
	dm, err := toMap(d)
	if err != nil {
		return encodeErr("update delivery", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[key]
	if !ok {
		return domain.ErrNotFound
	}
	if !d.State.Overrides(storedState(doc)) {
		return domain.ErrDeliveryRegressed
	}
	doc["delivery"] = dm
	doc["updatedAt"] = r.now().UTC().Format(time.RFC3339Nano)
	return nil
}

func storedState(doc map[string]any) domain.DeliveryState {
	d, _ := doc["delivery"].(map[string]any)
	st, _ := d["state"].(string)
	return domain.DeliveryState(st)
}

// Restore stores the orders exactly as given, skipping ingestion defaults
// and the delivery guard.
func (r *MemoryRepository) Restore(orders ...domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range orders {
		doc, err := toMap(&orders[i])
		if err != nil {
			return encodeErr("restore", err)
		}
		r.docs[orders[i].Key()] = doc
	}
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	orders, err := r.match(func(*domain.Order) bool { return true })
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

// match returns every order accepted by keep, newest first.
func (r *MemoryRepository) match(keep func(*domain.Order) bool) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Order
	for _, doc := range r.docs {
		o, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

func (r *MemoryRepository) decode(doc map[string]any) (*domain.Order, error) {
	o, err := fromMap(doc)
	if err != nil {
		return nil, storeErr("decode", err)
	}
	return o, nil
}
