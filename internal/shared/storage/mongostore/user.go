package mongostore

import (
	"context"

	"github.com/gilkh/livret-sub003/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	return insertOne(ctx, s.col(ColUsers), user)
}

func (s *Store) DeleteUsers(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	res, err := s.col(ColUsers).DeleteMany(ctx, filter)
	if err != nil {
		return 0, wrapError(err)
	}
	return res.DeletedCount, nil
}

func (s *Store) CountSimulationUsers(ctx context.Context, runID string) (int64, error) {
	n, err := s.col(ColUsers).CountDocuments(ctx, bson.D{{Key: "simulationRunId", Value: runID}})
	return n, wrapError(err)
}
