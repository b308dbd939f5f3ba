package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petportre/orders-service/internal/domain"
)

// MongoRepository keeps the document layout the back office already reads:
// one document per order in a single collection.
type MongoRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoRepository(db *mongo.Database, collection string) *MongoRepository {
	return &MongoRepository{coll: db.Collection(collection), now: time.Now}
}

func keyFilter(key domain.OrderKey) bson.D {
	return bson.D{{Key: "channel", Value: key.Channel}, {Key: "orderNumber", Value: key.OrderNumber}}
}

func (r *MongoRepository) Upsert(ctx context.Context, o *domain.Order) (UpsertResult, error) {
	if err := checkKey(o); err != nil {
		return UpsertResult{}, err
	}
	ord := *o
	if ord.Channel == "" {
		ord.Channel = domain.DefaultChannel
	}
	now := r.now().UTC()

	update, err := upsertUpdate(&ord, now)
	if err != nil {
		return UpsertResult{}, encodeErr("upsert", err)
	}

	filter := keyFilter(ord.Key())
	res, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return UpsertResult{}, storeErr("upsert", err)
	}
	if res.UpsertedCount > 0 {
		return UpsertResult{Inserted: true}, nil
	}
	if res.ModifiedCount > 0 {
		_, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"updatedAt": now.Format(time.RFC3339Nano)}})
		if err != nil {
			return UpsertResult{}, storeErr("upsert", err)
		}
	}
	return UpsertResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// upsertUpdate sets the non-empty ingested fields and fills everything else
// only when the document is created.
func upsertUpdate(o *domain.Order, now time.Time) (bson.M, error) {
	doc, err := insertDoc(o, now)
	if err != nil {
		return nil, err
	}
	patch, err := buildPatch(o)
	if err != nil {
		return nil, err
	}

	set := map[string]any{}
	flatten("", patch, set)
	all := map[string]any{}
	flatten("", doc, all)
	onInsert := map[string]any{}
	for path, v := range all {
		if !conflictsAny(path, set) {
			onInsert[path] = v
		}
	}

	update := bson.M{"$set": set}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = onInsert
	}
	return update, nil
}

func conflictsAny(path string, set map[string]any) bool {
	for p := range set {
		if conflicts(path, p) {
			return true
		}
	}
	return false
}

func (r *MongoRepository) Get(ctx context.Context, key domain.OrderKey) (*domain.Order, error) {
	return r.one(ctx, "get", keyFilter(key), nil)
}

func (r *MongoRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.one(ctx, "find by order number", bson.M{"orderNumber": orderNumber}, bson.D{{Key: "createdAt", Value: -1}})
}

func (r *MongoRepository) FindAllByOrderNumber(ctx context.Context, orderNumber string) ([]domain.Order, error) {
	return r.many(ctx, "find all by order number", bson.M{"orderNumber": orderNumber}, 0)
}

func (r *MongoRepository) FindByReference(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	for _, path := range []string{"delivery.referenceId", "delivery.referenceIdPlaceholder", "delivery.trackingNumber"} {
		o, err := r.one(ctx, "find by reference", bson.M{path: ref}, bson.D{{Key: "createdAt", Value: -1}})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return o, err
	}
	return nil, domain.ErrNotFound
}

func (r *MongoRepository) UpdateDelivery(ctx context.Context, key domain.OrderKey, d domain.Delivery) error {
	dm, err := toMap(d)
	if err != nil {
		return encodeErr("update delivery", err)
	}
	filter := keyFilter(key)
	// $nin also matches documents without a state
	guarded := append(filter, bson.E{Key: "delivery.state", Value: bson.M{"$nin": d.State.Blockers()}})
	res, err := r.coll.UpdateOne(ctx, guarded, bson.M{"$set": bson.M{
		"delivery":  dm,
		"updatedAt": r.now().UTC().Format(time.RFC3339Nano),
	}})
	if err != nil {
		return storeErr("update delivery", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return storeErr("update delivery", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrDeliveryRegressed
}

func (r *MongoRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.many(ctx, "list", bson.M{}, limit)
}

func (r *MongoRepository) many(ctx context.Context, op string, filter bson.M, limit int) ([]domain.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"_id": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer cur.Close(ctx)

	var out []domain.Order
	for cur.Next(ctx) {
		o, err := decodeRaw(cur.Current)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, *o)
	}
	if err := cur.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, nil); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "orderNumber", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("channel_orderNumber_uq"),
		},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "delivery.referenceId", Value: 1}}},
		{Keys: bson.D{{Key: "delivery.trackingNumber", Value: 1}}},
	})
	if err != nil {
		return storeErr("ensure indexes", err)
	}
	return nil
}

func (r *MongoRepository) one(ctx context.Context, op string, filter any, sort bson.D) (*domain.Order, error) {
	opts := options.FindOne().SetProjection(bson.M{"_id": 0})
	if sort != nil {
		opts.SetSort(sort)
	}
	raw, err := r.coll.FindOne(ctx, filter, opts).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	o, err := decodeRaw(raw)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return o, nil
}

// decodeRaw goes through relaxed extended JSON, which renders numbers and
// strings as plain JSON.
func decodeRaw(raw bson.Raw) (*domain.Order, error) {
	b, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	var o domain.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
