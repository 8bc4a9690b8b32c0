package dbclient

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"mongorunner/internal/domain"
)

// FindOptions narrows a find call issued from a script.
type FindOptions struct {
	Projection bson.D
	Sort       bson.D
	Limit      int64
	Skip       int64
}

// Collection is the collection surface exposed to scripts. Documents go in and
// come out as bson.D so key order survives the round trip.
type Collection interface {
	Name() string
	Find(ctx context.Context, filter bson.D, opts FindOptions) ([]bson.D, error)
	// FindOne returns nil when nothing matches.
	FindOne(ctx context.Context, filter bson.D) (bson.D, error)
	InsertOne(ctx context.Context, doc bson.D) (bson.D, error)
	InsertMany(ctx context.Context, docs []bson.D) (bson.D, error)
	// update is a bson.D modifier document or a bson.A pipeline.
	UpdateOne(ctx context.Context, filter bson.D, update any) (bson.D, error)
	UpdateMany(ctx context.Context, filter bson.D, update any) (bson.D, error)
	DeleteOne(ctx context.Context, filter bson.D) (bson.D, error)
	DeleteMany(ctx context.Context, filter bson.D) (bson.D, error)
	Aggregate(ctx context.Context, pipeline bson.A) ([]bson.D, error)
	CountDocuments(ctx context.Context, filter bson.D) (int64, error)
	Distinct(ctx context.Context, field string, filter bson.D) (bson.A, error)
	Indexes(ctx context.Context) ([]bson.D, error)
	CreateIndex(ctx context.Context, keys bson.D, unique bool) (string, error)
	DropIndex(ctx context.Context, name string) error
	Drop(ctx context.Context) error
}

// Database is the handle bound as `db` inside scripts.
type Database interface {
	Name() string
	Collection(name string) Collection
	ListCollectionNames(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string) error
	RunCommand(ctx context.Context, cmd bson.D) (bson.D, error)
	Drop(ctx context.Context) error
}

// Driver is a live connection to one MongoDB deployment.
type Driver interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Inspect lists databases, their collections and each collection's indexes.
	Inspect(ctx context.Context) (*domain.Topology, error)

	// Database returns a handle scoped to name. It never performs I/O.
	Database(name string) Database

	ServerStatus(ctx context.Context) (bson.D, error)
	BuildInfo(ctx context.Context) (bson.D, error)

	// CollectionAttributes samples up to sampleSize documents and reports the
	// union of their top-level field names with the first type seen.
	CollectionAttributes(ctx context.Context, db, collection string, sampleSize int) ([]domain.FieldInfo, error)

	// Query runs a find with filter capped at limit documents.
	Query(ctx context.Context, db, collection string, filter bson.D, limit int64) ([]bson.D, error)

	// Close disconnects the underlying client.
	Close(ctx context.Context) error
}

// Opener creates a Driver for a stored connection. The password is supplied
// separately, from the secret store.
type Opener func(ctx context.Context, conn *domain.DatabaseConnection, password string) (Driver, error)

// Open is the default Opener backed by the official MongoDB driver.
func Open(ctx context.Context, conn *domain.DatabaseConnection, password string) (Driver, error) {
	return newMongoDriver(ctx, conn, password)
}
