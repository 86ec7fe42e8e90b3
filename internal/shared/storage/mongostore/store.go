// Package mongostore 实现基于 MongoDB 的 PersistentStore
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColSimulationRuns          = "simulation_runs"
	ColUsers                   = "users"
	ColSchoolYears             = "school_years"
	ColClasses                 = "classes"
	ColStudents                = "students"
	ColEnrollments             = "enrollments"
	ColTemplateAssignments     = "template_assignments"
	ColTeacherClassAssignments = "teacher_class_assignments"
	ColRoleScopes              = "role_scopes"
	ColSubAdminAssignments     = "subadmin_assignments"
	ColGradebookTemplates      = "gradebook_templates"
)

// seedCollections 带 seedTag 的集合，DeleteSeedData 按此顺序清理
var seedCollections = []string{
	ColTemplateAssignments,
	ColEnrollments,
	ColStudents,
	ColTeacherClassAssignments,
	ColSubAdminAssignments,
	ColRoleScopes,
	ColClasses,
	ColGradebookTemplates,
	ColSchoolYears,
}

// Store 实现 storage.PersistentStore 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	uri    string
	dbName string
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "livret_sandbox"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(dbName),
		uri:    uri,
		dbName: dbName,
	}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// URI 当前连接使用的 URI（含凭据，调用方负责脱敏）
func (s *Store) URI() string { return s.uri }

// DBName 当前数据库名
func (s *Store) DBName() string { return s.dbName }

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// simulation_runs
		{ColSimulationRuns, bson.D{{Key: "status", Value: 1}, {Key: "startedAt", Value: -1}}, false},
		{ColSimulationRuns, bson.D{{Key: "startedAt", Value: -1}}, false},

		// users
		{ColUsers, bson.D{{Key: "email", Value: 1}}, true},
		{ColUsers, bson.D{{Key: "simulationRunId", Value: 1}}, false},

		// school_years
		{ColSchoolYears, bson.D{{Key: "active", Value: 1}}, false},

		// 关系表唯一键，Ensure* upsert 依赖这些索引防止并发重复
		{ColTeacherClassAssignments, bson.D{{Key: "teacherId", Value: 1}, {Key: "classId", Value: 1}}, true},
		{ColSubAdminAssignments, bson.D{{Key: "subAdminId", Value: 1}, {Key: "teacherId", Value: 1}}, true},
		{ColRoleScopes, bson.D{{Key: "userId", Value: 1}}, true},

		// enrollments / template_assignments
		{ColEnrollments, bson.D{{Key: "classId", Value: 1}}, false},
		{ColTemplateAssignments, bson.D{{Key: "classId", Value: 1}, {Key: "templateId", Value: 1}}, false},
	}

	// seedTag 清理索引
	for _, c := range seedCollections {
		indexes = append(indexes, idx{c, bson.D{{Key: "seedTag", Value: 1}}, false})
	}

	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}
