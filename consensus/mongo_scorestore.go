package consensus

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/toolforge/forge/manifest"
)

// MongoScoreStore persists ConsensusScore records as an append-only
// collection, mirroring the manifest store's MongoDB backend.
type MongoScoreStore struct {
	collection *mongo.Collection
}

// Compile-time check that MongoScoreStore implements ScoreStore.
var _ ScoreStore = (*MongoScoreStore)(nil)

// NewMongoScoreStore creates a score store using the provided collection.
func NewMongoScoreStore(collection *mongo.Collection) *MongoScoreStore {
	return &MongoScoreStore{collection: collection}
}

// Append adds score to the collection.
func (s *MongoScoreStore) Append(ctx context.Context, score manifest.ConsensusScore) error {
	if _, err := s.collection.InsertOne(ctx, score); err != nil {
		return fmt.Errorf("consensus: append score %s@%s: %w", score.ToolID, score.Version, err)
	}
	return nil
}

// History returns every score recorded for (toolID, version), oldest
// first.
func (s *MongoScoreStore) History(ctx context.Context, toolID, version string) ([]manifest.ConsensusScore, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"tool_id": toolID, "version": version}, opts)
	if err != nil {
		return nil, fmt.Errorf("consensus: history for %s@%s: %w", toolID, version, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var scores []manifest.ConsensusScore
	if err := cursor.All(ctx, &scores); err != nil {
		return nil, fmt.Errorf("consensus: decode history for %s@%s: %w", toolID, version, err)
	}
	return scores, nil
}

// Latest returns the most recently appended score for (toolID, version).
func (s *MongoScoreStore) Latest(ctx context.Context, toolID, version string) (manifest.ConsensusScore, bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var score manifest.ConsensusScore
	err := s.collection.FindOne(ctx, bson.M{"tool_id": toolID, "version": version}, opts).Decode(&score)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return manifest.ConsensusScore{}, false, nil
		}
		return manifest.ConsensusScore{}, false, fmt.Errorf("consensus: latest for %s@%s: %w", toolID, version, err)
	}
	return score, true, nil
}
