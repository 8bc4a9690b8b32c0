package dbclient

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"mongorunner/internal/domain"
)

// mongoDriver implements Driver on top of the official client.
type mongoDriver struct {
	client *mongo.Client
	dbName string
}

func newMongoDriver(ctx context.Context, conn *domain.DatabaseConnection, password string) (*mongoDriver, error) {
	uri, dbName := BuildURI(conn, password)

	log.Printf("[MONGO] Connecting with URI: %s", MaskURI(uri, password))
	log.Printf("[MONGO] Database: %s", dbName)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		log.Printf("[MONGO] Connect failed: %v", err)
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	d := &mongoDriver{client: client, dbName: dbName}
	if err := d.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	log.Printf("[MONGO] Client connected")
	return d, nil
}

func (m *mongoDriver) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// DefaultDatabase is the database named by the connection (or its URI).
func (m *mongoDriver) DefaultDatabase() string { return m.dbName }

func (m *mongoDriver) Inspect(ctx context.Context) (*domain.Topology, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	names, err := m.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	sort.Strings(names)

	topo := &domain.Topology{}
	for _, dbName := range names {
		db := m.client.Database(dbName)
		collNames, err := db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			// Users without listCollections on a database still see it.
			log.Printf("[MONGO] list collections %s: %v", dbName, err)
			topo.Databases = append(topo.Databases, domain.DatabaseInfo{Name: dbName})
			continue
		}
		sort.Strings(collNames)

		info := domain.DatabaseInfo{Name: dbName}
		for _, collName := range collNames {
			indexes, err := listIndexes(ctx, db.Collection(collName))
			if err != nil {
				log.Printf("[MONGO] list indexes %s.%s: %v", dbName, collName, err)
			}
			info.Collections = append(info.Collections, domain.CollectionInfo{Name: collName, Indexes: indexes})
		}
		topo.Databases = append(topo.Databases, info)
	}
	return topo, nil
}

func listIndexes(ctx context.Context, coll *mongo.Collection) ([]domain.IndexInfo, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var specs []bson.D
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, err
	}
	out := make([]domain.IndexInfo, 0, len(specs))
	for _, spec := range specs {
		idx := domain.IndexInfo{}
		for _, elem := range spec {
			switch elem.Key {
			case "name":
				idx.Name, _ = elem.Value.(string)
			case "key":
				if raw, err := ExtJSON(elem.Value); err == nil {
					idx.Keys = string(raw)
				}
			}
		}
		out = append(out, idx)
	}
	return out, nil
}

func (m *mongoDriver) Database(name string) Database {
	if name == "" {
		name = m.dbName
	}
	return &mongoDatabase{db: m.client.Database(name)}
}

func (m *mongoDriver) ServerStatus(ctx context.Context) (bson.D, error) {
	return m.adminCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}})
}

func (m *mongoDriver) BuildInfo(ctx context.Context) (bson.D, error) {
	return m.adminCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}})
}

func (m *mongoDriver) adminCommand(ctx context.Context, cmd bson.D) (bson.D, error) {
	var out bson.D
	if err := m.client.Database("admin").RunCommand(ctx, cmd).Decode(&out); err != nil {
		return nil, fmt.Errorf("run %s: %w", cmd[0].Key, err)
	}
	return out, nil
}

func (m *mongoDriver) CollectionAttributes(ctx context.Context, db, collection string, sampleSize int) ([]domain.FieldInfo, error) {
	if sampleSize <= 0 {
		sampleSize = 20
	}
	coll := m.client.Database(db).Collection(collection)
	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(int64(sampleSize)))
	if err != nil {
		return nil, fmt.Errorf("sample %s.%s: %w", db, collection, err)
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode sample: %w", err)
	}
	return SampleAttributes(docs), nil
}

// SampleAttributes returns the union of top-level keys across docs in
// first-seen order, typed by their first occurrence.
func SampleAttributes(docs []bson.D) []domain.FieldInfo {
	seen := map[string]bool{}
	var fields []domain.FieldInfo
	for _, doc := range docs {
		for _, elem := range doc {
			if seen[elem.Key] {
				continue
			}
			seen[elem.Key] = true
			fields = append(fields, domain.FieldInfo{Name: elem.Key, Type: typeName(elem.Value)})
		}
	}
	return fields
}

func (m *mongoDriver) Query(ctx context.Context, db, collection string, filter bson.D, limit int64) ([]bson.D, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if filter == nil {
		filter = bson.D{}
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := m.client.Database(db).Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		log.Printf("[MONGO] Find error: %v", err)
		return nil, fmt.Errorf("find: %w", err)
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	log.Printf("[MONGO] Fetched %d docs from %s.%s", len(docs), db, collection)
	return docs, nil
}

func (m *mongoDriver) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
