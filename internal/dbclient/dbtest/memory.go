// Package dbtest provides an in-memory dbclient.Driver for tests.
//
// Filters support plain equality on top-level keys only; updates and
// aggregations are recorded but not evaluated.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"mongorunner/internal/dbclient"
	"mongorunner/internal/domain"
)

// Driver is an in-memory deployment.
type Driver struct {
	mu     sync.Mutex
	dbs    map[string]*Database
	closed bool

	// Status is returned by ServerStatus and BuildInfo.
	Status bson.D
}

var _ dbclient.Driver = (*Driver)(nil)

// NewDriver creates an empty deployment.
func NewDriver() *Driver {
	return &Driver{
		dbs:    map[string]*Database{},
		Status: bson.D{{Key: "ok", Value: 1.0}},
	}
}

// Seed appends docs to db.coll and returns the collection.
func (d *Driver) Seed(db, coll string, docs ...bson.D) *Collection {
	c := d.DB(db).Coll(coll)
	c.mu.Lock()
	c.Docs = append(c.Docs, docs...)
	c.mu.Unlock()
	return c
}

// DB returns the concrete database named name, creating it.
func (d *Driver) DB(name string) *Database {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.dbs[name]; ok {
		return db
	}
	db := &Database{name: name, colls: map[string]*Collection{}}
	d.dbs[name] = db
	return db
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) Ping(context.Context) error { return nil }

func (d *Driver) Inspect(ctx context.Context) (*domain.Topology, error) {
	d.mu.Lock()
	names := make([]string, 0, len(d.dbs))
	for n := range d.dbs {
		names = append(names, n)
	}
	d.mu.Unlock()
	sort.Strings(names)

	topo := &domain.Topology{}
	for _, n := range names {
		db := d.DB(n)
		info := domain.DatabaseInfo{Name: n}
		colls, _ := db.ListCollectionNames(ctx)
		for _, c := range colls {
			coll := db.Coll(c)
			ci := domain.CollectionInfo{Name: c}
			for _, idx := range coll.indexNames() {
				ci.Indexes = append(ci.Indexes, domain.IndexInfo{Name: idx})
			}
			info.Collections = append(info.Collections, ci)
		}
		topo.Databases = append(topo.Databases, info)
	}
	return topo, nil
}

func (d *Driver) Database(name string) dbclient.Database { return d.DB(name) }

func (d *Driver) ServerStatus(context.Context) (bson.D, error) { return d.Status, nil }

func (d *Driver) BuildInfo(context.Context) (bson.D, error) { return d.Status, nil }

func (d *Driver) CollectionAttributes(ctx context.Context, db, collection string, sampleSize int) ([]domain.FieldInfo, error) {
	docs, err := d.DB(db).Coll(collection).Find(ctx, bson.D{}, dbclient.FindOptions{Limit: int64(sampleSize)})
	if err != nil {
		return nil, err
	}
	return dbclient.SampleAttributes(docs), nil
}

func (d *Driver) Query(ctx context.Context, db, collection string, filter bson.D, limit int64) ([]bson.D, error) {
	return d.DB(db).Coll(collection).Find(ctx, filter, dbclient.FindOptions{Limit: limit})
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Database is an in-memory database.
type Database struct {
	mu      sync.Mutex
	name    string
	colls   map[string]*Collection
	Dropped bool
}

func (db *Database) Name() string { return db.name }

// Coll returns the concrete collection named name, creating it.
func (db *Database) Coll(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.colls[name]; ok {
		return c
	}
	c := &Collection{name: name, indexes: []string{"_id_"}}
	db.colls[name] = c
	return c
}

func (db *Database) Collection(name string) dbclient.Collection { return db.Coll(name) }

func (db *Database) ListCollectionNames(context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.colls))
	for n, c := range db.colls {
		if !c.dropped() {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (db *Database) CreateCollection(_ context.Context, name string) error {
	c := db.Coll(name)
	c.mu.Lock()
	c.gone = false
	c.mu.Unlock()
	return nil
}

func (db *Database) RunCommand(_ context.Context, cmd bson.D) (bson.D, error) {
	if len(cmd) > 0 && cmd[0].Key == "ping" {
		return bson.D{{Key: "ok", Value: 1.0}}, nil
	}
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}
	return nil, errors.New("no such command: " + cmd[0].Key)
}

func (db *Database) Drop(context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.colls = map[string]*Collection{}
	db.Dropped = true
	return nil
}

// Collection is an in-memory collection.
type Collection struct {
	mu      sync.Mutex
	name    string
	indexes []string
	gone    bool

	Docs     []bson.D
	LastFind dbclient.FindOptions
	// FailWith makes every read and write fail.
	FailWith error
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) dropped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gone
}

func (c *Collection) indexNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.indexes...)
}

// matches supports plain equality filters on top-level keys.
func matches(doc, filter bson.D) bool {
	for _, f := range filter {
		found := false
		for _, e := range doc {
			if e.Key == f.Key && reflect.DeepEqual(e.Value, f.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Collection) Find(_ context.Context, filter bson.D, opts dbclient.FindOptions) ([]bson.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	c.LastFind = opts
	out := []bson.D{}
	for _, d := range c.Docs {
		if matches(d, filter) {
			out = append(out, d)
		}
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(out)) {
			out = out[:0]
		} else {
			out = out[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *Collection) FindOne(ctx context.Context, filter bson.D) (bson.D, error) {
	docs, err := c.Find(ctx, filter, dbclient.FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (c *Collection) InsertOne(_ context.Context, doc bson.D) (bson.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	c.Docs = append(c.Docs, doc)
	var id any
	for _, e := range doc {
		if e.Key == "_id" {
			id = e.Value
		}
	}
	return bson.D{{Key: "acknowledged", Value: true}, {Key: "insertedId", Value: id}}, nil
}

func (c *Collection) InsertMany(_ context.Context, docs []bson.D) (bson.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	c.Docs = append(c.Docs, docs...)
	return bson.D{{Key: "acknowledged", Value: true}, {Key: "insertedCount", Value: int64(len(docs))}}, nil
}

func (c *Collection) UpdateOne(context.Context, bson.D, any) (bson.D, error) {
	return bson.D{{Key: "matchedCount", Value: int64(0)}}, c.FailWith
}

func (c *Collection) UpdateMany(context.Context, bson.D, any) (bson.D, error) {
	return bson.D{{Key: "matchedCount", Value: int64(0)}}, c.FailWith
}

func (c *Collection) DeleteOne(_ context.Context, filter bson.D) (bson.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.Docs {
		if matches(d, filter) {
			c.Docs = append(c.Docs[:i:i], c.Docs[i+1:]...)
			return bson.D{{Key: "deletedCount", Value: int64(1)}}, nil
		}
	}
	return bson.D{{Key: "deletedCount", Value: int64(0)}}, nil
}

func (c *Collection) DeleteMany(_ context.Context, filter bson.D) (bson.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.Docs[:0:0]
	for _, d := range c.Docs {
		if !matches(d, filter) {
			kept = append(kept, d)
		}
	}
	n := int64(len(c.Docs) - len(kept))
	c.Docs = kept
	return bson.D{{Key: "deletedCount", Value: n}}, nil
}

func (c *Collection) Aggregate(context.Context, bson.A) ([]bson.D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bson.D(nil), c.Docs...), c.FailWith
}

func (c *Collection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	docs, err := c.Find(ctx, filter, dbclient.FindOptions{})
	return int64(len(docs)), err
}

func (c *Collection) Distinct(_ context.Context, field string, filter bson.D) (bson.A, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := bson.A{}
	seen := map[string]bool{}
	for _, d := range c.Docs {
		if !matches(d, filter) {
			continue
		}
		for _, e := range d {
			key := fmt.Sprintf("%T:%v", e.Value, e.Value)
			if e.Key == field && !seen[key] {
				seen[key] = true
				out = append(out, e.Value)
			}
		}
	}
	return out, nil
}

func (c *Collection) Indexes(context.Context) ([]bson.D, error) {
	out := []bson.D{}
	for _, n := range c.indexNames() {
		out = append(out, bson.D{{Key: "name", Value: n}})
	}
	return out, nil
}

func (c *Collection) CreateIndex(_ context.Context, keys bson.D, _ bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWith != nil {
		return "", c.FailWith
	}
	name := ""
	for i, k := range keys {
		if i > 0 {
			name += "_"
		}
		name += k.Key + "_" + bsonNumber(k.Value)
	}
	c.indexes = append(c.indexes, name)
	return name, nil
}

func bsonNumber(v any) string {
	switch n := v.(type) {
	case int32:
		if n < 0 {
			return "-1"
		}
	case int64:
		if n < 0 {
			return "-1"
		}
	case float64:
		if n < 0 {
			return "-1"
		}
	}
	return "1"
}

func (c *Collection) DropIndex(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.indexes {
		if n == name {
			c.indexes = append(c.indexes[:i:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return errors.New("index not found with name [" + name + "]")
}

func (c *Collection) Drop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Docs = nil
	c.gone = true
	return nil
}
