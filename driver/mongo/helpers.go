// Package driver provides the MongoDB adapter of the calamus ODM. This
// file contains helper functions for index model translation and write
// error classification.
package driver

import (
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/calamus-odm/calamus/core"
)

// toMongoIndex converts a core index model into the official driver's
// representation.
func toMongoIndex(model core.IndexModel) mongo.IndexModel {
	keys := bson.D{}
	for _, key := range model.Keys {
		var value any
		switch key.Kind {
		case core.IndexDescending:
			value = -1
		case core.IndexText:
			value = "text"
		case core.IndexHashed:
			value = "hashed"
		default:
			value = 1
		}
		keys = append(keys, bson.E{Key: key.Field, Value: value})
	}

	opts := mopt.Index().SetName(model.EffectiveName())
	if model.Unique {
		opts.SetUnique(true)
	}
	if model.Sparse {
		opts.SetSparse(true)
	}
	if model.ExpireAfterSeconds != nil {
		opts.SetExpireAfterSeconds(*model.ExpireAfterSeconds)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}
}

// fromMongoIndexSpec reads a listIndexes document back into a core index
// model.
func fromMongoIndexSpec(spec bson.M) core.IndexModel {
	model := core.IndexModel{}
	if name, ok := spec["name"].(string); ok {
		model.Name = name
	}
	if unique, ok := spec["unique"].(bool); ok {
		model.Unique = unique
	}
	if sparse, ok := spec["sparse"].(bool); ok {
		model.Sparse = sparse
	}
	if ttl, ok := spec["expireAfterSeconds"].(int32); ok {
		model.ExpireAfterSeconds = &ttl
	}
	if keys, ok := spec["key"].(bson.M); ok {
		for field, direction := range keys {
			model.Keys = append(model.Keys, core.IndexKey{Field: field, Kind: indexKind(direction)})
		}
	}
	return model
}

func indexKind(direction any) core.IndexKind {
	switch v := direction.(type) {
	case int32:
		if v < 0 {
			return core.IndexDescending
		}
	case int64:
		if v < 0 {
			return core.IndexDescending
		}
	case float64:
		if v < 0 {
			return core.IndexDescending
		}
	case string:
		if v == "text" {
			return core.IndexText
		}
		if v == "hashed" {
			return core.IndexHashed
		}
	}
	return core.IndexAscending
}

// dupIndexPattern extracts the violated index name from the server's
// duplicate key message ("... index: name_1 dup key: ...").
var dupIndexPattern = regexp.MustCompile(`index: ([^ ]+) dup key`)

// translateWriteError maps a duplicate-key write error to the core error
// taxonomy; any other error passes through unchanged.
func translateWriteError(err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	dup := &core.DuplicateKeyError{Message: err.Error()}
	if m := dupIndexPattern.FindStringSubmatch(err.Error()); m != nil {
		dup.IndexName = m[1]
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) && len(writeErr.WriteErrors) > 0 {
		dup.Message = writeErr.WriteErrors[0].Message
		if dup.IndexName == "" {
			if m := dupIndexPattern.FindStringSubmatch(dup.Message); m != nil {
				dup.IndexName = m[1]
			}
		}
	}
	return dup
}
