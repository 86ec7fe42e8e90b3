package mongostore

import (
	"context"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// SimulationStore
// ============================================================================

func (s *Store) CreateSimulationRun(ctx context.Context, run *model.SimulationRun) error {
	if run.RecentActions == nil {
		run.RecentActions = []model.ActionMetric{}
	}
	return insertOne(ctx, s.col(ColSimulationRuns), run)
}

func (s *Store) GetSimulationRun(ctx context.Context, id string) (*model.SimulationRun, error) {
	return findOne[model.SimulationRun](ctx, s.col(ColSimulationRuns), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) GetRunningSimulationRun(ctx context.Context) (*model.SimulationRun, error) {
	filter := bson.D{{Key: "status", Value: model.SimulationStatusRunning}}
	opts := options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	return findOne[model.SimulationRun](ctx, s.col(ColSimulationRuns), filter, opts)
}

func (s *Store) ListSimulationRuns(ctx context.Context, limit int) ([]*model.SimulationRun, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "startedAt", Value: -1}}).
		// 历史列表不需要 recentActions
		SetProjection(bson.D{{Key: "recentActions", Value: 0}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findMany[model.SimulationRun](ctx, s.col(ColSimulationRuns), bson.D{}, opts)
}

// FinishSimulationRun 仅当 status 仍为 running 时写入终止状态和 endedAt
func (s *Store) FinishSimulationRun(ctx context.Context, id string, status model.SimulationStatus, endedAt time.Time, errMsg string) (bool, error) {
	set := bson.D{
		{Key: "status", Value: status},
		{Key: "endedAt", Value: endedAt},
	}
	if errMsg != "" {
		set = append(set, bson.E{Key: "error", Value: errMsg})
	}
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: model.SimulationStatusRunning},
	}
	res, err := s.col(ColSimulationRuns).UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return false, wrapError(err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) SetSimulationSummary(ctx context.Context, id string, summary *model.SimulationSummary) error {
	return updateFields(ctx, s.col(ColSimulationRuns), id, bson.D{{Key: "summary", Value: summary}})
}

func (s *Store) SetSimulationLastMetrics(ctx context.Context, id string, metrics *model.LiveMetrics) error {
	return updateFields(ctx, s.col(ColSimulationRuns), id, bson.D{{Key: "lastMetrics", Value: metrics}})
}

func (s *Store) SetSimulationSeed(ctx context.Context, id string, seed *model.SeedInfo) error {
	return updateFields(ctx, s.col(ColSimulationRuns), id, bson.D{{Key: "seed", Value: seed}})
}

func (s *Store) SetSimulationTemplate(ctx context.Context, id, templateID, templateName string) error {
	return updateFields(ctx, s.col(ColSimulationRuns), id, bson.D{
		{Key: "sandboxTemplateId", Value: templateID},
		{Key: "templateName", Value: templateName},
	})
}

// PushSimulationAction $push + $slice 原子截断，文档大小与负载无关
func (s *Store) PushSimulationAction(ctx context.Context, id string, action model.ActionMetric, limit int) error {
	if limit <= 0 {
		limit = model.RecentActionsLimit
	}
	update := bson.D{{Key: "$push", Value: bson.D{
		{Key: "recentActions", Value: bson.D{
			{Key: "$each", Value: bson.A{action}},
			{Key: "$slice", Value: -limit},
		}},
	}}}
	res, err := s.col(ColSimulationRuns).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetSimulationRecentActions(ctx context.Context, id string) ([]model.ActionMetric, error) {
	opts := options.FindOne().SetProjection(bson.D{{Key: "recentActions", Value: 1}})
	run, err := findOne[model.SimulationRun](ctx, s.col(ColSimulationRuns), bson.D{{Key: "_id", Value: id}}, opts)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, storage.ErrNotFound
	}
	if run.RecentActions == nil {
		return []model.ActionMetric{}, nil
	}
	return run.RecentActions, nil
}

func (s *Store) FailStaleSimulationRuns(ctx context.Context, errMsg string, endedAt time.Time) (int64, error) {
	filter := bson.D{{Key: "status", Value: model.SimulationStatusRunning}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: model.SimulationStatusFailed},
		{Key: "endedAt", Value: endedAt},
		{Key: "error", Value: errMsg},
	}}}
	res, err := s.col(ColSimulationRuns).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, wrapError(err)
	}
	return res.ModifiedCount, nil
}
