package mongostore

import (
	"context"
	"fmt"

	"github.com/gilkh/livret-sub003/internal/shared/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// SeedStore
// ============================================================================

func (s *Store) GetActiveSchoolYear(ctx context.Context) (*model.SchoolYear, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "startDate", Value: -1}})
	return findOne[model.SchoolYear](ctx, s.col(ColSchoolYears), bson.D{{Key: "active", Value: true}}, opts)
}

func (s *Store) CreateSchoolYear(ctx context.Context, year *model.SchoolYear) error {
	return insertOne(ctx, s.col(ColSchoolYears), year)
}

func (s *Store) CreateClasses(ctx context.Context, classes []*model.Class) error {
	return insertMany(ctx, s.col(ColClasses), classes)
}

func (s *Store) CreateStudents(ctx context.Context, students []*model.Student) error {
	return insertMany(ctx, s.col(ColStudents), students)
}

func (s *Store) CreateEnrollments(ctx context.Context, enrollments []*model.Enrollment) error {
	return insertMany(ctx, s.col(ColEnrollments), enrollments)
}

func (s *Store) CreateTemplateAssignments(ctx context.Context, assignments []*model.TemplateAssignment) error {
	return insertMany(ctx, s.col(ColTemplateAssignments), assignments)
}

func (s *Store) CreateGradebookTemplate(ctx context.Context, tpl *model.GradebookTemplate) error {
	return insertOne(ctx, s.col(ColGradebookTemplates), tpl)
}

func (s *Store) EnsureTeacherClassAssignment(ctx context.Context, teacherID, classID, seedTag string) error {
	filter := bson.D{{Key: "teacherId", Value: teacherID}, {Key: "classId", Value: classID}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "_id", Value: uuid.NewString()},
		{Key: "seedTag", Value: seedTag},
	}}}
	return upsert(ctx, s.col(ColTeacherClassAssignments), filter, update)
}

// EnsureRoleScope levels 以 $addToSet 合并，不覆盖已有范围
func (s *Store) EnsureRoleScope(ctx context.Context, userID string, levels []string, seedTag string) error {
	filter := bson.D{{Key: "userId", Value: userID}}
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "levels", Value: bson.D{{Key: "$each", Value: levels}}}}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "_id", Value: uuid.NewString()},
			{Key: "seedTag", Value: seedTag},
		}},
	}
	return upsert(ctx, s.col(ColRoleScopes), filter, update)
}

func (s *Store) EnsureSubAdminAssignment(ctx context.Context, subAdminID, teacherID, seedTag string) error {
	filter := bson.D{{Key: "subAdminId", Value: subAdminID}, {Key: "teacherId", Value: teacherID}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "_id", Value: uuid.NewString()},
		{Key: "seedTag", Value: seedTag},
	}}}
	return upsert(ctx, s.col(ColSubAdminAssignments), filter, update)
}

// DeleteSeedData 按 seedTag 清理所有种子集合，返回删除的文档总数
func (s *Store) DeleteSeedData(ctx context.Context, seedTag string) (int64, error) {
	if seedTag == "" {
		return 0, fmt.Errorf("mongostore: empty seed tag")
	}
	var total int64
	filter := bson.D{{Key: "seedTag", Value: seedTag}}
	for _, c := range seedCollections {
		res, err := s.col(c).DeleteMany(ctx, filter)
		if err != nil {
			return total, fmt.Errorf("delete seed data from %s: %w", c, wrapError(err))
		}
		total += res.DeletedCount
	}
	return total, nil
}
