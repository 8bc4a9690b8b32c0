package dbclient

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ─────────────────────────────────────────────────────────────
// Script-facing database and collection handles
// ─────────────────────────────────────────────────────────────

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Name() string { return d.db.Name() }

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

func (d *mongoDatabase) ListCollectionNames(ctx context.Context) ([]string, error) {
	return d.db.ListCollectionNames(ctx, bson.D{})
}

func (d *mongoDatabase) CreateCollection(ctx context.Context, name string) error {
	return d.db.CreateCollection(ctx, name)
}

func (d *mongoDatabase) RunCommand(ctx context.Context, cmd bson.D) (bson.D, error) {
	var out bson.D
	if err := d.db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *mongoDatabase) Drop(ctx context.Context) error {
	return d.db.Drop(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string { return c.coll.Name() }

func orEmpty(filter bson.D) bson.D {
	if filter == nil {
		return bson.D{}
	}
	return filter
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.D, o FindOptions) ([]bson.D, error) {
	opts := options.Find()
	if o.Projection != nil {
		opts.SetProjection(o.Projection)
	}
	if o.Sort != nil {
		opts.SetSort(o.Sort)
	}
	if o.Limit > 0 {
		opts.SetLimit(o.Limit)
	}
	if o.Skip > 0 {
		opts.SetSkip(o.Skip)
	}
	cursor, err := c.coll.Find(ctx, orEmpty(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	docs := []bson.D{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return docs, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter bson.D) (bson.D, error) {
	var doc bson.D
	err := c.coll.FindOne(ctx, orEmpty(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("findOne: %w", err)
	}
	return doc, nil
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc bson.D) (bson.D, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insertOne: %w", err)
	}
	return bson.D{
		{Key: "acknowledged", Value: res.Acknowledged},
		{Key: "insertedId", Value: res.InsertedID},
	}, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []bson.D) (bson.D, error) {
	res, err := c.coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("insertMany: %w", err)
	}
	return bson.D{
		{Key: "acknowledged", Value: res.Acknowledged},
		{Key: "insertedCount", Value: int64(len(res.InsertedIDs))},
		{Key: "insertedIds", Value: bson.A(res.InsertedIDs)},
	}, nil
}

func updateResult(res *mongo.UpdateResult) bson.D {
	return bson.D{
		{Key: "acknowledged", Value: res.Acknowledged},
		{Key: "matchedCount", Value: res.MatchedCount},
		{Key: "modifiedCount", Value: res.ModifiedCount},
		{Key: "upsertedCount", Value: res.UpsertedCount},
		{Key: "upsertedId", Value: res.UpsertedID},
	}
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter bson.D, update any) (bson.D, error) {
	res, err := c.coll.UpdateOne(ctx, orEmpty(filter), update)
	if err != nil {
		return nil, fmt.Errorf("updateOne: %w", err)
	}
	return updateResult(res), nil
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter bson.D, update any) (bson.D, error) {
	res, err := c.coll.UpdateMany(ctx, orEmpty(filter), update)
	if err != nil {
		return nil, fmt.Errorf("updateMany: %w", err)
	}
	return updateResult(res), nil
}

func deleteResult(res *mongo.DeleteResult) bson.D {
	return bson.D{
		{Key: "acknowledged", Value: res.Acknowledged},
		{Key: "deletedCount", Value: res.DeletedCount},
	}
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter bson.D) (bson.D, error) {
	res, err := c.coll.DeleteOne(ctx, orEmpty(filter))
	if err != nil {
		return nil, fmt.Errorf("deleteOne: %w", err)
	}
	return deleteResult(res), nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter bson.D) (bson.D, error) {
	res, err := c.coll.DeleteMany(ctx, orEmpty(filter))
	if err != nil {
		return nil, fmt.Errorf("deleteMany: %w", err)
	}
	return deleteResult(res), nil
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline bson.A) ([]bson.D, error) {
	if pipeline == nil {
		pipeline = bson.A{}
	}
	cursor, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	docs := []bson.D{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return docs, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	return c.coll.CountDocuments(ctx, orEmpty(filter))
}

func (c *mongoCollection) Distinct(ctx context.Context, field string, filter bson.D) (bson.A, error) {
	res := c.coll.Distinct(ctx, field, orEmpty(filter))
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("distinct: %w", err)
	}
	values := bson.A{}
	if err := res.Decode(&values); err != nil {
		return nil, fmt.Errorf("distinct: %w", err)
	}
	return values, nil
}

func (c *mongoCollection) Indexes(ctx context.Context) ([]bson.D, error) {
	cursor, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	specs := []bson.D{}
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return specs, nil
}

func (c *mongoCollection) CreateIndex(ctx context.Context, keys bson.D, unique bool) (string, error) {
	model := mongo.IndexModel{Keys: keys}
	if unique {
		model.Options = options.Index().SetUnique(true)
	}
	name, err := c.coll.Indexes().CreateOne(ctx, model)
	if err != nil {
		return "", fmt.Errorf("create index: %w", err)
	}
	return name, nil
}

func (c *mongoCollection) DropIndex(ctx context.Context, name string) error {
	if err := c.coll.Indexes().DropOne(ctx, name); err != nil {
		return fmt.Errorf("drop index: %w", err)
	}
	return nil
}

func (c *mongoCollection) Drop(ctx context.Context) error {
	return c.coll.Drop(ctx)
}
