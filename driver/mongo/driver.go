// Package driver provides the MongoDB adapter of the calamus ODM. It maps
// the core collection contract directly onto the official driver and
// translates unique-index violations into the core error taxonomy.
package driver

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/calamus-odm/calamus/core"
)

//region MongoDatabase

// MongoDatabase adapts a mongo.Database to the core database contract.
type MongoDatabase struct {
	db *mongo.Database
}

var _ core.Database = (*MongoDatabase)(nil)

// NewMongoDatabase connects to a MongoDB deployment and returns the named
// database as a core handle.
func NewMongoDatabase(ctx context.Context, uri string, dbName string) (*MongoDatabase, error) {
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second).SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &MongoDatabase{db: client.Database(dbName)}, nil
}

// WrapDatabase adapts an already-connected mongo.Database.
func WrapDatabase(db *mongo.Database) *MongoDatabase {
	return &MongoDatabase{db: db}
}

// Name returns the database name.
func (driver *MongoDatabase) Name() string { return driver.db.Name() }

// DriverName identifies this adapter for instance compatibility checks.
func (driver *MongoDatabase) DriverName() string { return "mongo" }

// Collection returns the core handle for the named collection.
func (driver *MongoDatabase) Collection(name string) core.Collection {
	return &mongoCollection{coll: driver.db.Collection(name)}
}

// Client exposes the underlying client for operations outside the core
// contract.
func (driver *MongoDatabase) Client() *mongo.Client { return driver.db.Client() }

//endregion

//region mongoCollection

type mongoCollection struct {
	coll *mongo.Collection
}

var _ core.Collection = (*mongoCollection)(nil)

func (collection *mongoCollection) Name() string { return collection.coll.Name() }

func (collection *mongoCollection) FindOne(ctx context.Context, filter bson.M, projection bson.M) (bson.M, error) {
	opts := mopt.FindOne()
	if projection != nil {
		opts.SetProjection(projection)
	}
	var raw bson.M
	err := collection.coll.FindOne(ctx, filter, opts).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (collection *mongoCollection) Find(ctx context.Context, filter bson.M, findOpts core.FindOptions) (core.Cursor, error) {
	opts := mopt.Find()
	if len(findOpts.Sort) > 0 {
		sortDoc := bson.D{}
		for _, sortItem := range findOpts.Sort {
			direction := 1
			if sortItem.Order < 0 {
				direction = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: sortItem.Field, Value: direction})
		}
		opts.SetSort(sortDoc)
	}
	if findOpts.Limit > 0 {
		opts.SetLimit(findOpts.Limit)
	}
	if findOpts.Skip > 0 {
		opts.SetSkip(findOpts.Skip)
	}
	if findOpts.Projection != nil {
		opts.SetProjection(findOpts.Projection)
	}
	cursor, err := collection.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cursor: cursor}, nil
}

func (collection *mongoCollection) InsertOne(ctx context.Context, doc bson.M) (any, error) {
	result, err := collection.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, translateWriteError(err)
	}
	return result.InsertedID, nil
}

func (collection *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (core.UpdateResult, error) {
	result, err := collection.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return core.UpdateResult{}, translateWriteError(err)
	}
	return core.UpdateResult{Matched: result.MatchedCount, Modified: result.ModifiedCount}, nil
}

func (collection *mongoCollection) ReplaceOne(ctx context.Context, filter bson.M, doc bson.M) (core.UpdateResult, error) {
	result, err := collection.coll.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return core.UpdateResult{}, translateWriteError(err)
	}
	return core.UpdateResult{Matched: result.MatchedCount, Modified: result.ModifiedCount}, nil
}

func (collection *mongoCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	result, err := collection.coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (collection *mongoCollection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	return collection.coll.CountDocuments(ctx, filter)
}

func (collection *mongoCollection) CreateIndex(ctx context.Context, model core.IndexModel) error {
	_, err := collection.coll.Indexes().CreateOne(ctx, toMongoIndex(model))
	return err
}

func (collection *mongoCollection) DropIndexes(ctx context.Context) error {
	_, err := collection.coll.Indexes().DropAll(ctx)
	return err
}

func (collection *mongoCollection) ListIndexes(ctx context.Context) ([]core.IndexModel, error) {
	cursor, err := collection.coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var models []core.IndexModel
	for cursor.Next(ctx) {
		var spec bson.M
		if err := cursor.Decode(&spec); err != nil {
			return nil, err
		}
		models = append(models, fromMongoIndexSpec(spec))
	}
	return models, cursor.Err()
}

//endregion

//region mongoCursor

type mongoCursor struct {
	cursor *mongo.Cursor
}

var _ core.Cursor = (*mongoCursor)(nil)

func (c *mongoCursor) Next(ctx context.Context) bool { return c.cursor.Next(ctx) }

func (c *mongoCursor) Current() (bson.M, error) {
	var raw bson.M
	if err := c.cursor.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *mongoCursor) Err() error { return c.cursor.Err() }

func (c *mongoCursor) Close(ctx context.Context) error { return c.cursor.Close(ctx) }

//endregion
