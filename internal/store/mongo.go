package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores each collection as a MongoDB collection of
// {_id, tenantId, data, createdAt, updatedAt} documents.
// Transactions and change streams need a replica set.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoDoc struct {
	ID        string    `bson:"_id"`
	TenantID  string    `bson:"tenantId"`
	Data      bson.Raw  `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func NewMongo(client *mongo.Client, database string) *Mongo {
	return &Mongo{client: client, db: client.Database(database)}
}

// EnsureIndexes creates the tenant ordering index on every collection and the
// one-per-appointment unique indexes on bills and medical records.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	for _, coll := range Collections {
		models := []mongo.IndexModel{
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "createdAt", Value: 1}}},
		}
		if coll == Bills || coll == Records {
			models = append(models, mongo.IndexModel{
				Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "data.appointmentId", Value: 1}},
				Options: options.Index().
					SetName("uniq_appointment").
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "data.appointmentId", Value: bson.D{{Key: "$exists", Value: true}}}}),
			})
		}
		if _, err := m.db.Collection(string(coll)).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, coll Collection, tenantID, id string) (Document, error) {
	var doc mongoDoc
	err := m.db.Collection(string(coll)).
		FindOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "tenantId", Value: tenantID}}).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get %s: %w", coll, err)
	}
	return fromMongo(doc)
}

func (m *Mongo) Put(ctx context.Context, coll Collection, tenantID, id string, doc any) error {
	data, err := toBSON(id, doc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = m.db.Collection(string(coll)).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "tenantId", Value: tenantID}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "data", Value: data}, {Key: "updatedAt", Value: now}}},
			{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", coll, mapMongoError(err))
	}
	return nil
}

func (m *Mongo) Patch(ctx context.Context, coll Collection, tenantID, id string, fields map[string]any) error {
	patch, err := normalize(fields)
	if err != nil {
		return err
	}
	set := bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		set = append(set, bson.E{Key: "data." + k, Value: v})
	}

	res, err := m.db.Collection(string(coll)).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "tenantId", Value: tenantID}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("patch %s: %w", coll, mapMongoError(err))
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) Query(ctx context.Context, coll Collection, f Filter) ([]Document, error) {
	filter := bson.D{}
	if f.TenantID != "" {
		filter = append(filter, bson.E{Key: "tenantId", Value: f.TenantID})
	}
	if len(f.Where) > 0 {
		where, err := normalize(f.Where)
		if err != nil {
			return nil, err
		}
		for k, v := range where {
			filter = append(filter, bson.E{Key: "data." + k, Value: v})
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := m.db.Collection(string(coll)).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll, err)
	}
	defer cur.Close(ctx)

	var result []Document
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", coll, err)
		}
		d, err := fromMongo(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mongo) Add(ctx context.Context, coll Collection, tenantID string, doc any) (string, error) {
	id := uuid.NewString()
	data, err := toBSON(id, doc)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	_, err = m.db.Collection(string(coll)).InsertOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "tenantId", Value: tenantID},
		{Key: "data", Value: data},
		{Key: "createdAt", Value: now},
		{Key: "updatedAt", Value: now},
	})
	if err != nil {
		return "", fmt.Errorf("add %s: %w", coll, mapMongoError(err))
	}
	return id, nil
}

// RunInTx runs fn inside a session transaction. The Ops handed to fn is the
// store itself; the driver binds its calls to the session through ctx.
func (m *Mongo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, m)
	})
	return err
}

// Subscribe opens a change stream filtered to the tenant and re-reads the
// collection on every event.
func (m *Mongo) Subscribe(ctx context.Context, coll Collection, tenantID string) (*Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "fullDocument.tenantId", Value: tenantID}}}},
	}
	feedCtx, cancel := context.WithCancel(ctx)
	cs, err := m.db.Collection(string(coll)).Watch(feedCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", coll, err)
	}

	sub := newSubscription(cancel)
	docs, err := m.Query(ctx, coll, Filter{TenantID: tenantID})
	if err != nil {
		cancel()
		_ = cs.Close(context.Background())
		return nil, err
	}
	sub.publish(docs)

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(feedCtx) {
			docs, err := m.Query(feedCtx, coll, Filter{TenantID: tenantID})
			if err != nil {
				sub.fail(err)
				return
			}
			sub.publish(docs)
		}
		if err := cs.Err(); err != nil && feedCtx.Err() == nil {
			sub.fail(fmt.Errorf("change stream %s: %w", coll, err))
			return
		}
		sub.Close()
	}()
	return sub, nil
}

// Ping reports whether the deployment is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func toBSON(id string, doc any) (bson.D, error) {
	data, err := encode(id, doc)
	if err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON(data, false, &d); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	return d, nil
}

func fromMongo(doc mongoDoc) (Document, error) {
	data, err := bson.MarshalExtJSON(doc.Data, false, false)
	if err != nil {
		return Document{}, fmt.Errorf("convert %s: %w", doc.ID, err)
	}
	return Document{ID: doc.ID, TenantID: doc.TenantID, Data: json.RawMessage(data)}, nil
}

func mapMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
