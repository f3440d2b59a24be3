package tasks

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoRepo stores tasks in a MongoDB collection. One client is shared by
// all requests; the driver's pool handles concurrency.
type MongoRepo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo opens a client with the stable v1 server API and pings the
// primary. ctx bounds both steps.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoRepo, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1).
		SetStrict(true).
		SetDeprecationErrors(true)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoRepo{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

func (r *MongoRepo) Close(ctx context.Context) error { return r.client.Disconnect(ctx) }

func (r *MongoRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *MongoRepo) List(ctx context.Context, f Filter) ([]Task, error) {
	filter := bson.M{}
	if f.Priority != "" {
		filter[keyPriority] = f.Priority
	}

	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}

	out := make([]Task, 0, len(docs))
	for _, doc := range docs {
		out = append(out, taskFromDocument(doc))
	}
	return out, nil
}

func (r *MongoRepo) Create(ctx context.Context, t NewTask) (InsertResult, error) {
	if err := t.Validate(); err != nil {
		return InsertResult{}, err
	}

	doc := bson.D{
		{Key: keyTitle, Value: t.Title},
		{Key: keyDescription, Value: t.Description},
	}
	if t.Priority != "" {
		doc = append(doc, bson.E{Key: keyPriority, Value: t.Priority})
	}
	doc = append(doc, bson.E{Key: keyIsCompleted, Value: t.IsCompleted})

	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert task: %w", err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return InsertResult{}, fmt.Errorf("insert task: unexpected id type %T", res.InsertedID)
	}
	return InsertResult{Acknowledged: true, InsertedID: id.Hex()}, nil
}

func (r *MongoRepo) Get(ctx context.Context, id primitive.ObjectID) (Task, error) {
	var doc bson.M
	err := r.coll.FindOne(ctx, bson.M{keyID: id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("find task: %w", err)
	}
	return taskFromDocument(doc), nil
}

// Update sets exactly the supplied keys. Upsert is off, so a missing id is
// reported as ErrNotFound and nothing is inserted.
func (r *MongoRepo) Update(ctx context.Context, id primitive.ObjectID, fields map[string]any) (UpdateResult, error) {
	if err := checkUpdate(fields); err != nil {
		return UpdateResult{}, err
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.M{keyID: id},
		bson.M{"$set": bson.M(fields)},
		options.Update().SetUpsert(false),
	)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return UpdateResult{}, ErrNotFound
	}
	return UpdateResult{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
	}, nil
}

func (r *MongoRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{keyID: id})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
