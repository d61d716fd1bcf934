// Package driver provides the PostgreSQL adapter of the calamus ODM. Each
// collection maps to a table with a text primary key and a JSONB column
// holding the record in canonical extended JSON, so the full BSON type set
// round-trips. Filters are evaluated in the driver after decoding; unique
// indexes are materialized as SQL expression indexes, so violations come
// back as real constraint errors.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/calamus-odm/calamus/core"
	"github.com/calamus-odm/calamus/internal/match"
)

//region PgDatabase

// PgDatabase adapts a pgx connection pool to the core database contract.
type PgDatabase struct {
	pool   *pgxpool.Pool
	name   string
	tables sync.Map // collection name -> struct{}
}

var _ core.Database = (*PgDatabase)(nil)

// NewPgDatabase opens a connection pool and returns it as a core handle.
// The logical database name is informational; tables live in the connected
// database's default schema.
func NewPgDatabase(ctx context.Context, connString string, name string) (*PgDatabase, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgDatabase{pool: pool, name: name}, nil
}

// Name returns the logical database name.
func (driver *PgDatabase) Name() string { return driver.name }

// DriverName identifies this adapter for instance compatibility checks.
func (driver *PgDatabase) DriverName() string { return "pgdoc" }

// Collection returns the core handle for the named collection.
func (driver *PgDatabase) Collection(name string) core.Collection {
	return &pgCollection{db: driver, name: name}
}

// Close releases the connection pool.
func (driver *PgDatabase) Close() { driver.pool.Close() }

func (driver *PgDatabase) ensureTable(ctx context.Context, name string) error {
	if _, done := driver.tables.Load(name); done {
		return nil
	}
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %q (pk TEXT PRIMARY KEY, doc JSONB NOT NULL)`, name)
	if _, err := driver.pool.Exec(ctx, ddl); err != nil {
		return err
	}
	meta := `CREATE TABLE IF NOT EXISTS calamus_indexes ` +
		`(table_name TEXT NOT NULL, index_name TEXT NOT NULL, spec JSONB NOT NULL, ` +
		`PRIMARY KEY (table_name, index_name))`
	if _, err := driver.pool.Exec(ctx, meta); err != nil {
		return err
	}
	driver.tables.Store(name, struct{}{})
	return nil
}

//endregion

//region pgCollection

type pgCollection struct {
	db   *PgDatabase
	name string
}

var _ core.Collection = (*pgCollection)(nil)

func (collection *pgCollection) Name() string { return collection.name }

// scan loads and decodes every record of the collection. The driver
// filters in memory: canonical extended JSON is opaque to SQL predicates.
func (collection *pgCollection) scan(ctx context.Context) ([]string, []bson.M, error) {
	if err := collection.db.ensureTable(ctx, collection.name); err != nil {
		return nil, nil, err
	}
	query := fmt.Sprintf(`SELECT pk, doc FROM %q ORDER BY pk`, collection.name)
	rows, err := collection.db.pool.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var pks []string
	var docs []bson.M
	for rows.Next() {
		var pk string
		var payload []byte
		if err := rows.Scan(&pk, &payload); err != nil {
			return nil, nil, err
		}
		doc, err := decodeRecord(payload)
		if err != nil {
			return nil, nil, err
		}
		pks = append(pks, pk)
		docs = append(docs, doc)
	}
	return pks, docs, rows.Err()
}

func (collection *pgCollection) FindOne(ctx context.Context, filter bson.M, projection bson.M) (bson.M, error) {
	_, docs, err := collection.scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if match.Matches(doc, filter) {
			return applyProjection(doc, projection), nil
		}
	}
	return nil, nil
}

func (collection *pgCollection) Find(ctx context.Context, filter bson.M, opts core.FindOptions) (core.Cursor, error) {
	_, docs, err := collection.scan(ctx)
	if err != nil {
		return nil, err
	}
	var matched []bson.M
	for _, doc := range docs {
		if match.Matches(doc, filter) {
			matched = append(matched, doc)
		}
	}
	matched = sortSkipLimit(matched, opts)
	if opts.Projection != nil {
		for i, doc := range matched {
			matched[i] = applyProjection(doc, opts.Projection)
		}
	}
	return &sliceCursor{docs: matched}, nil
}

func (collection *pgCollection) InsertOne(ctx context.Context, doc bson.M) (any, error) {
	if err := collection.db.ensureTable(ctx, collection.name); err != nil {
		return nil, err
	}
	pk, err := pkString(doc["_id"])
	if err != nil {
		return nil, err
	}
	payload, err := encodeRecord(doc)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`INSERT INTO %q (pk, doc) VALUES ($1, $2)`, collection.name)
	if _, err := collection.db.pool.Exec(ctx, query, pk, payload); err != nil {
		return nil, collection.translateError(err)
	}
	return doc["_id"], nil
}

func (collection *pgCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (core.UpdateResult, error) {
	pks, docs, err := collection.scan(ctx)
	if err != nil {
		return core.UpdateResult{}, err
	}
	for i, doc := range docs {
		if !match.Matches(doc, filter) {
			continue
		}
		match.ApplyUpdate(doc, update)
		if err := collection.writeBack(ctx, pks[i], doc); err != nil {
			return core.UpdateResult{}, err
		}
		return core.UpdateResult{Matched: 1, Modified: 1}, nil
	}
	return core.UpdateResult{}, nil
}

func (collection *pgCollection) ReplaceOne(ctx context.Context, filter bson.M, doc bson.M) (core.UpdateResult, error) {
	pks, docs, err := collection.scan(ctx)
	if err != nil {
		return core.UpdateResult{}, err
	}
	for i, stored := range docs {
		if !match.Matches(stored, filter) {
			continue
		}
		replacement := copyRecord(doc)
		if _, has := replacement["_id"]; !has {
			replacement["_id"] = stored["_id"]
		}
		if err := collection.writeBack(ctx, pks[i], replacement); err != nil {
			return core.UpdateResult{}, err
		}
		return core.UpdateResult{Matched: 1, Modified: 1}, nil
	}
	return core.UpdateResult{}, nil
}

func (collection *pgCollection) writeBack(ctx context.Context, pk string, doc bson.M) error {
	payload, err := encodeRecord(doc)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %q SET doc = $2 WHERE pk = $1`, collection.name)
	if _, err := collection.db.pool.Exec(ctx, query, pk, payload); err != nil {
		return collection.translateError(err)
	}
	return nil
}

func (collection *pgCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	pks, docs, err := collection.scan(ctx)
	if err != nil {
		return 0, err
	}
	for i, doc := range docs {
		if !match.Matches(doc, filter) {
			continue
		}
		query := fmt.Sprintf(`DELETE FROM %q WHERE pk = $1`, collection.name)
		tag, err := collection.db.pool.Exec(ctx, query, pks[i])
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	return 0, nil
}

func (collection *pgCollection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	_, docs, err := collection.scan(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, doc := range docs {
		if match.Matches(doc, filter) {
			count++
		}
	}
	return count, nil
}

func (collection *pgCollection) CreateIndex(ctx context.Context, model core.IndexModel) error {
	if err := collection.db.ensureTable(ctx, collection.name); err != nil {
		return err
	}
	ddl, err := indexDDL(collection.name, model)
	if err != nil {
		return err
	}
	if _, err := collection.db.pool.Exec(ctx, ddl); err != nil {
		return err
	}
	spec, err := encodeIndexSpec(model)
	if err != nil {
		return err
	}
	upsert := `INSERT INTO calamus_indexes (table_name, index_name, spec) VALUES ($1, $2, $3) ` +
		`ON CONFLICT (table_name, index_name) DO UPDATE SET spec = EXCLUDED.spec`
	_, err = collection.db.pool.Exec(ctx, upsert, collection.name, indexName(collection.name, model), spec)
	return err
}

func (collection *pgCollection) DropIndexes(ctx context.Context) error {
	if err := collection.db.ensureTable(ctx, collection.name); err != nil {
		return err
	}
	rows, err := collection.db.pool.Query(ctx,
		`SELECT index_name FROM calamus_indexes WHERE table_name = $1`, collection.name)
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := collection.db.pool.Exec(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %q`, name)); err != nil {
			return err
		}
	}
	_, err = collection.db.pool.Exec(ctx,
		`DELETE FROM calamus_indexes WHERE table_name = $1`, collection.name)
	return err
}

func (collection *pgCollection) ListIndexes(ctx context.Context) ([]core.IndexModel, error) {
	if err := collection.db.ensureTable(ctx, collection.name); err != nil {
		return nil, err
	}
	rows, err := collection.db.pool.Query(ctx,
		`SELECT spec FROM calamus_indexes WHERE table_name = $1 ORDER BY index_name`, collection.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []core.IndexModel
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		model, err := decodeIndexSpec(payload)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
	}
	return models, rows.Err()
}

// translateError maps unique constraint violations to the core error
// taxonomy. The table's own primary key maps to _id; expression indexes
// carry the core index name as the constraint name.
func (collection *pgCollection) translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	dup := &core.DuplicateKeyError{IndexName: pgErr.ConstraintName, Message: pgErr.Message}
	if pgErr.ConstraintName == collection.name+"_pkey" {
		dup.IndexName = "_id_"
		dup.Keys = []string{"_id"}
	}
	return dup
}

//endregion

//region sliceCursor

type sliceCursor struct {
	docs []bson.M
	pos  int
}

var _ core.Cursor = (*sliceCursor)(nil)

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Current() (bson.M, error) {
	if c.pos == 0 || c.pos > len(c.docs) {
		return nil, errors.New("cursor is not positioned on a document")
	}
	return c.docs[c.pos-1], nil
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close(ctx context.Context) error { return nil }

//endregion
