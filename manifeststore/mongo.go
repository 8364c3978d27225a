package manifeststore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	backoff "github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/toolforge/forge/manifest"
)

// MongoStore is a MongoDB implementation of Store. It persists manifests for
// durability across restarts, suitable for production deployments.
type MongoStore struct {
	collection *mongo.Collection
}

// Compile-time check that MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

// manifestDocument is the MongoDB document representation of a ToolManifest.
// The _id combines tool_id and version so (tool_id, version) uniqueness is
// enforced by the collection itself.
type manifestDocument struct {
	ID string `bson:"_id"`
	manifest.ToolManifest `bson:",inline"`
}

func docID(toolID, version string) string { return toolID + "@" + version }

// retryOnce bounds a transient MongoDB failure to a single retry with
// backoff before the error surfaces to the caller. Not-found outcomes are
// wrapped backoff.Permanent by callers so they never trigger a retry.
func retryOnce(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx)
}

// NewMongo creates a manifest store using the provided collection. The
// collection should be from a connected MongoDB client.
func NewMongo(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// Save stores or replaces m, keyed by (m.ToolID, m.Version).
func (s *MongoStore) Save(ctx context.Context, m manifest.ToolManifest) error {
	doc := manifestDocument{ID: docID(m.ToolID, m.Version), ToolManifest: m}
	opts := options.Replace().SetUpsert(true)
	err := backoff.Retry(func() error {
		_, rerr := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
		return rerr
	}, retryOnce(ctx))
	if err != nil {
		return fmt.Errorf("manifeststore: save manifest %s@%s: %w", m.ToolID, m.Version, err)
	}
	return nil
}

// Get retrieves the manifest for (toolID, version).
func (s *MongoStore) Get(ctx context.Context, toolID, version string) (manifest.ToolManifest, error) {
	var doc manifestDocument
	err := backoff.Retry(func() error {
		rerr := s.collection.FindOne(ctx, bson.M{"_id": docID(toolID, version)}).Decode(&doc)
		if errors.Is(rerr, mongo.ErrNoDocuments) {
			return backoff.Permanent(ErrNotFound)
		}
		return rerr
	}, retryOnce(ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return manifest.ToolManifest{}, ErrNotFound
		}
		return manifest.ToolManifest{}, fmt.Errorf("manifeststore: get manifest %s@%s: %w", toolID, version, err)
	}
	return doc.ToolManifest, nil
}

// Latest returns the manifest with the highest semantic version for toolID
// among active manifests, breaking ties by latest CreatedAt.
func (s *MongoStore) Latest(ctx context.Context, toolID string) (manifest.ToolManifest, error) {
	versions, err := s.Versions(ctx, toolID)
	if err != nil {
		return manifest.ToolManifest{}, err
	}
	var best manifest.ToolManifest
	var bestSemver *semver.Version
	found := false
	for _, m := range versions {
		if m.Status == manifest.StatusArchived {
			continue
		}
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			continue
		}
		switch {
		case !found:
			best, bestSemver, found = m, v, true
		case v.GreaterThan(bestSemver):
			best, bestSemver = m, v
		case v.Equal(bestSemver) && m.CreatedAt.After(best.CreatedAt):
			best, bestSemver = m, v
		}
	}
	if !found {
		return manifest.ToolManifest{}, ErrNotFound
	}
	return best, nil
}

// Versions returns every version recorded for toolID.
func (s *MongoStore) Versions(ctx context.Context, toolID string) ([]manifest.ToolManifest, error) {
	var docs []manifestDocument
	err := backoff.Retry(func() error {
		cursor, rerr := s.collection.Find(ctx, bson.M{"tool_id": toolID})
		if rerr != nil {
			return rerr
		}
		defer func() { _ = cursor.Close(ctx) }()
		docs = docs[:0]
		return cursor.All(ctx, &docs)
	}, retryOnce(ctx))
	if err != nil {
		return nil, fmt.Errorf("manifeststore: list versions of %q: %w", toolID, err)
	}
	result := make([]manifest.ToolManifest, len(docs))
	for i, doc := range docs {
		result[i] = doc.ToolManifest
	}
	return result, nil
}

// List returns every manifest matching the given tags and trust levels.
func (s *MongoStore) List(ctx context.Context, tags []string, trustLevels []manifest.TrustLevel, includeArchived bool) ([]manifest.ToolManifest, error) {
	filter := bson.M{}
	if len(tags) > 0 {
		filter["tags"] = bson.M{"$all": tags}
	}
	if len(trustLevels) > 0 {
		filter["trust.level"] = bson.M{"$in": trustLevels}
	}
	if !includeArchived {
		filter["status"] = bson.M{"$ne": manifest.StatusArchived}
	}

	var docs []manifestDocument
	err := backoff.Retry(func() error {
		cursor, rerr := s.collection.Find(ctx, filter)
		if rerr != nil {
			return rerr
		}
		defer func() { _ = cursor.Close(ctx) }()
		docs = docs[:0]
		return cursor.All(ctx, &docs)
	}, retryOnce(ctx))
	if err != nil {
		return nil, fmt.Errorf("manifeststore: list manifests: %w", err)
	}
	result := make([]manifest.ToolManifest, len(docs))
	for i, doc := range docs {
		result[i] = doc.ToolManifest
	}
	return result, nil
}

// AncestorOf returns the ancestor_tool_id recorded in toolID's lineage, if
// any.
func (s *MongoStore) AncestorOf(ctx context.Context, toolID string) (string, bool, error) {
	var doc manifestDocument
	filter := bson.M{"tool_id": toolID, "lineage.ancestor_tool_id": bson.M{"$ne": ""}}
	found := true
	err := backoff.Retry(func() error {
		rerr := s.collection.FindOne(ctx, filter).Decode(&doc)
		if errors.Is(rerr, mongo.ErrNoDocuments) {
			found = false
			return nil
		}
		return rerr
	}, retryOnce(ctx))
	if err != nil {
		return "", false, fmt.Errorf("manifeststore: ancestor of %q: %w", toolID, err)
	}
	if !found {
		return "", false, nil
	}
	return doc.Lineage.AncestorToolID, true, nil
}

// SetStatus updates a manifest's Status in place.
func (s *MongoStore) SetStatus(ctx context.Context, toolID, version string, status manifest.Status) error {
	var matched int64
	err := backoff.Retry(func() error {
		res, rerr := s.collection.UpdateOne(ctx,
			bson.M{"_id": docID(toolID, version)},
			bson.M{"$set": bson.M{"status": status}},
		)
		if rerr != nil {
			return rerr
		}
		matched = res.MatchedCount
		return nil
	}, retryOnce(ctx))
	if err != nil {
		return fmt.Errorf("manifeststore: set status of %s@%s: %w", toolID, version, err)
	}
	if matched == 0 {
		return ErrNotFound
	}
	return nil
}
