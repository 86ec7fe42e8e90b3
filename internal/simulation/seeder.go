package simulation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"
)

const (
	maxSeedClasses      = 10
	studentsPerClass    = 6
	completedAssignment = 0.55
)

// seedLevels 班级年级轮换顺序
var seedLevels = []string{"PS", "MS", "GS"}

// SeedConfig 种子数据规模
type SeedConfig struct {
	RunID        string
	TemplateID   string // 为空时不创建模板分配
	TeacherCount int
}

// SeedResult 虚拟用户的工作集
type SeedResult struct {
	SchoolYearID      string
	ClassIDs          []string
	StudentIDs        []string
	AssignmentIDs     []string
	FirstAssignmentID string
	Levels            []string
}

// Info 转成持久化的种子概要
func (r *SeedResult) Info() *model.SeedInfo {
	return &model.SeedInfo{
		SchoolYearID:      r.SchoolYearID,
		ClassIDs:          r.ClassIDs,
		StudentCount:      len(r.StudentIDs),
		AssignmentCount:   len(r.AssignmentIDs),
		FirstAssignmentID: r.FirstAssignmentID,
		Levels:            r.Levels,
	}
}

// Seeder 按虚拟用户规模生成最小可用数据集
//
// 所有文档以 runId 作为 seedTag，名称中带 runId 前 8 位。
type Seeder struct {
	store storage.SeedStore
	rng   *rand.Rand
}

// NewSeeder 创建 Seeder；rng 为 nil 时使用随机种子
func NewSeeder(store storage.SeedStore, rng *rand.Rand) *Seeder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Seeder{store: store, rng: rng}
}

// classCount min(ceil(max(n,1)/2), 10)
func classCount(teachers int) int {
	n := max(teachers, 1)
	return min((n+1)/2, maxSeedClasses)
}

// Seed 生成学年、班级、学生、注册、模板分配以及用户关系
func (s *Seeder) Seed(ctx context.Context, cfg SeedConfig, teacherIDs, subAdminIDs []string) (*SeedResult, error) {
	tag := cfg.RunID
	short := shortID(cfg.RunID)
	now := time.Now()

	year, err := s.ensureSchoolYear(ctx, tag, now)
	if err != nil {
		return nil, err
	}
	result := &SeedResult{SchoolYearID: year.ID}

	// 班级
	n := classCount(cfg.TeacherCount)
	classes := make([]*model.Class, 0, n)
	for i := 0; i < n; i++ {
		level := seedLevels[i%len(seedLevels)]
		classes = append(classes, &model.Class{
			ID:           uuid.NewString(),
			Name:         fmt.Sprintf("SIM-%s-%s-%d", short, level, i+1),
			Level:        level,
			SchoolYearID: year.ID,
			SeedTag:      tag,
		})
		result.ClassIDs = append(result.ClassIDs, classes[i].ID)
		if i < len(seedLevels) {
			result.Levels = append(result.Levels, level)
		}
	}
	if err := s.store.CreateClasses(ctx, classes); err != nil {
		return nil, fmt.Errorf("seed classes: %w", err)
	}

	// 教师轮流分配到班级
	for i, teacherID := range teacherIDs {
		classID := classes[i%len(classes)].ID
		if err := s.store.EnsureTeacherClassAssignment(ctx, teacherID, classID, tag); err != nil {
			return nil, fmt.Errorf("assign teacher %s: %w", teacherID, err)
		}
	}

	// 学生、注册、模板分配
	var (
		students    []*model.Student
		enrollments []*model.Enrollment
		assignments []*model.TemplateAssignment
	)
	for ci, class := range classes {
		for si := 0; si < studentsPerClass; si++ {
			student := &model.Student{
				ID:        uuid.NewString(),
				FirstName: fmt.Sprintf("Sim%d", si+1),
				LastName:  fmt.Sprintf("%s-C%d", short, ci+1),
				BirthDate: now.AddDate(-4-ci%3, 0, -si),
				SeedTag:   tag,
			}
			students = append(students, student)
			result.StudentIDs = append(result.StudentIDs, student.ID)

			enrollments = append(enrollments, &model.Enrollment{
				ID:           uuid.NewString(),
				StudentID:    student.ID,
				ClassID:      class.ID,
				SchoolYearID: year.ID,
				Status:       model.EnrollmentStatusActive,
				SeedTag:      tag,
			})

			if cfg.TemplateID == "" {
				continue
			}
			a := &model.TemplateAssignment{
				ID:         uuid.NewString(),
				TemplateID: cfg.TemplateID,
				StudentID:  student.ID,
				ClassID:    class.ID,
				Status:     model.AssignmentStatusDraft,
				SeedTag:    tag,
				CreatedAt:  now,
			}
			if s.rng.Float64() < completedAssignment {
				a.Status = model.AssignmentStatusCompleted
				a.IsCompleted = true
			}
			assignments = append(assignments, a)
			result.AssignmentIDs = append(result.AssignmentIDs, a.ID)
		}
	}

	if err := s.store.CreateStudents(ctx, students); err != nil {
		return nil, fmt.Errorf("seed students: %w", err)
	}
	if err := s.store.CreateEnrollments(ctx, enrollments); err != nil {
		return nil, fmt.Errorf("seed enrollments: %w", err)
	}
	if len(assignments) > 0 {
		if err := s.store.CreateTemplateAssignments(ctx, assignments); err != nil {
			return nil, fmt.Errorf("seed template assignments: %w", err)
		}
		result.FirstAssignmentID = assignments[0].ID
	}

	// 副管理员：全部年级范围 + 关联全部教师
	for _, subID := range subAdminIDs {
		if err := s.store.EnsureRoleScope(ctx, subID, result.Levels, tag); err != nil {
			return nil, fmt.Errorf("grant role scope %s: %w", subID, err)
		}
		for _, teacherID := range teacherIDs {
			if err := s.store.EnsureSubAdminAssignment(ctx, subID, teacherID, tag); err != nil {
				return nil, fmt.Errorf("assign subadmin %s: %w", subID, err)
			}
		}
	}

	return result, nil
}

// ensureSchoolYear 复用 active 学年，没有时创建一个
func (s *Seeder) ensureSchoolYear(ctx context.Context, tag string, now time.Time) (*model.SchoolYear, error) {
	year, err := s.store.GetActiveSchoolYear(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active school year: %w", err)
	}
	if year != nil {
		return year, nil
	}

	start := time.Date(now.Year(), time.September, 1, 0, 0, 0, 0, time.UTC)
	if now.Month() < time.September {
		start = start.AddDate(-1, 0, 0)
	}
	year = &model.SchoolYear{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("%d-%d", start.Year(), start.Year()+1),
		Active:    true,
		StartDate: start,
		EndDate:   start.AddDate(1, 0, -1),
		SeedTag:   tag,
	}
	if err := s.store.CreateSchoolYear(ctx, year); err != nil {
		return nil, fmt.Errorf("create school year: %w", err)
	}
	return year, nil
}

// Cleanup 删除 runId 标记的全部种子数据
func (s *Seeder) Cleanup(ctx context.Context, runID string) (int64, error) {
	return s.store.DeleteSeedData(ctx, runID)
}
