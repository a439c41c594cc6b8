package reindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoLoader loads documents from the collection named after the entity
// type. Ids that are valid ObjectID hex strings match ObjectID keys too.
// Documents are converted through relaxed extended JSON.
func MongoLoader(db *mongo.Database) Loader {
	return LoaderFunc(func(ctx context.Context, entityType string, ids []string) (map[string]any, error) {
		keys := make([]any, 0, len(ids)*2)
		for _, id := range ids {
			keys = append(keys, id)
			if oid, err := bson.ObjectIDFromHex(id); err == nil {
				keys = append(keys, oid)
			}
		}

		cur, err := db.Collection(entityType).Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s documents: %w", entityType, err)
		}
		defer func() { _ = cur.Close(ctx) }()

		docs := make(map[string]any, len(ids))
		for cur.Next(ctx) {
			id, ok := documentID(cur.Current.Lookup("_id"))
			if !ok {
				continue
			}
			ext, err := bson.MarshalExtJSON(cur.Current, false, false)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s document %s: %w", entityType, id, err)
			}
			var doc map[string]any
			if err := json.Unmarshal(ext, &doc); err != nil {
				return nil, fmt.Errorf("failed to decode %s document %s: %w", entityType, id, err)
			}
			delete(doc, "_id")
			docs[id] = doc
		}
		if err := cur.Err(); err != nil {
			return nil, fmt.Errorf("failed to load %s documents: %w", entityType, err)
		}
		return docs, nil
	})
}

func documentID(v bson.RawValue) (string, bool) {
	if s, ok := v.StringValueOK(); ok {
		return s, true
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex(), true
	}
	return "", false
}

// Querier is the subset of *pgxpool.Pool PostgresLoader uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresLoader loads rows from the table named after the entity type,
// matching the id column as text. Each row becomes a document via to_jsonb.
func PostgresLoader(db Querier) Loader {
	return LoaderFunc(func(ctx context.Context, entityType string, ids []string) (map[string]any, error) {
		sql := `SELECT t.id::text, to_jsonb(t) FROM ` + pgx.Identifier{entityType}.Sanitize() + ` AS t WHERE t.id::text = ANY($1)`
		rows, err := db.Query(ctx, sql, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s rows: %w", entityType, err)
		}
		defer rows.Close()

		docs := make(map[string]any, len(ids))
		for rows.Next() {
			var (
				id  string
				doc map[string]any
			)
			if err := rows.Scan(&id, &doc); err != nil {
				return nil, fmt.Errorf("failed to scan %s row: %w", entityType, err)
			}
			docs[id] = doc
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to load %s rows: %w", entityType, err)
		}
		return docs, nil
	})
}
