// Package memstore 实现基于内存的 PersistentStore
//
// 用于单元测试和 database.driver=memory 的本地调试，语义与 mongostore 保持一致：
//   - 不存在的单条查询返回 (nil, nil)
//   - FinishSimulationRun 只在 running 时生效
//   - recentActions 按 limit 截断
//
// 所有读操作返回副本，调用方修改不影响存储内容。
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"

	"github.com/google/uuid"
)

// Store 内存存储
type Store struct {
	mu sync.RWMutex

	runs  map[string]*model.SimulationRun
	users map[string]*model.User

	schoolYears  map[string]*model.SchoolYear
	classes      map[string]*model.Class
	students     map[string]*model.Student
	enrollments  map[string]*model.Enrollment
	assignments  map[string]*model.TemplateAssignment
	templates    map[string]*model.GradebookTemplate
	teacherLinks map[string]*model.TeacherClassAssignment // key: teacherId|classId
	subLinks     map[string]*model.SubAdminAssignment     // key: subAdminId|teacherId
	scopes       map[string]*model.RoleScope              // key: userId

	uri    string
	dbName string
}

// NewStore 创建内存存储，uri/dbName 仅用于沙箱判定
func NewStore(uri, dbName string) *Store {
	return &Store{
		runs:         make(map[string]*model.SimulationRun),
		users:        make(map[string]*model.User),
		schoolYears:  make(map[string]*model.SchoolYear),
		classes:      make(map[string]*model.Class),
		students:     make(map[string]*model.Student),
		enrollments:  make(map[string]*model.Enrollment),
		assignments:  make(map[string]*model.TemplateAssignment),
		templates:    make(map[string]*model.GradebookTemplate),
		teacherLinks: make(map[string]*model.TeacherClassAssignment),
		subLinks:     make(map[string]*model.SubAdminAssignment),
		scopes:       make(map[string]*model.RoleScope),
		uri:          uri,
		dbName:       dbName,
	}
}

// Close 无操作
func (s *Store) Close() error { return nil }

// URI 返回构造时传入的 URI
func (s *Store) URI() string { return s.uri }

// DBName 返回构造时传入的数据库名
func (s *Store) DBName() string { return s.dbName }

var _ storage.PersistentStore = (*Store)(nil)

// ============================================================================
// SimulationStore
// ============================================================================

func copyRun(r *model.SimulationRun) *model.SimulationRun {
	c := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	c.RecentActions = append([]model.ActionMetric{}, r.RecentActions...)
	if r.Summary != nil {
		sum := *r.Summary
		if r.Summary.ByAction != nil {
			sum.ByAction = make(map[string]model.ActionBreakdown, len(r.Summary.ByAction))
			for k, v := range r.Summary.ByAction {
				sum.ByAction[k] = v
			}
		}
		c.Summary = &sum
	}
	if r.LastMetrics != nil {
		m := *r.LastMetrics
		c.LastMetrics = &m
	}
	if r.Seed != nil {
		seed := *r.Seed
		seed.ClassIDs = append([]string{}, r.Seed.ClassIDs...)
		seed.Levels = append([]string{}, r.Seed.Levels...)
		c.Seed = &seed
	}
	return &c
}

func (s *Store) CreateSimulationRun(ctx context.Context, run *model.SimulationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return storage.ErrDuplicate
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *Store) GetSimulationRun(ctx context.Context, id string) (*model.SimulationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return copyRun(r), nil
}

func (s *Store) GetRunningSimulationRun(ctx context.Context) (*model.SimulationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.SimulationRun
	for _, r := range s.runs {
		if r.Status != model.SimulationStatusRunning {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyRun(latest), nil
}

func (s *Store) ListSimulationRuns(ctx context.Context, limit int) ([]*model.SimulationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.SimulationRun, 0, len(s.runs))
	for _, r := range s.runs {
		c := copyRun(r)
		c.RecentActions = nil
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) FinishSimulationRun(ctx context.Context, id string, status model.SimulationStatus, endedAt time.Time, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok || r.Status != model.SimulationStatusRunning {
		return false, nil
	}
	r.Status = status
	t := endedAt
	r.EndedAt = &t
	if errMsg != "" {
		r.Error = errMsg
	}
	return true, nil
}

// update 在锁内修改 run，不存在时返回 ErrNotFound
func (s *Store) update(id string, fn func(r *model.SimulationRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(r)
	return nil
}

func (s *Store) SetSimulationSummary(ctx context.Context, id string, summary *model.SimulationSummary) error {
	return s.update(id, func(r *model.SimulationRun) {
		cp := copyRun(&model.SimulationRun{Summary: summary})
		r.Summary = cp.Summary
	})
}

func (s *Store) SetSimulationLastMetrics(ctx context.Context, id string, metrics *model.LiveMetrics) error {
	return s.update(id, func(r *model.SimulationRun) {
		m := *metrics
		r.LastMetrics = &m
	})
}

func (s *Store) SetSimulationSeed(ctx context.Context, id string, seed *model.SeedInfo) error {
	return s.update(id, func(r *model.SimulationRun) {
		cp := copyRun(&model.SimulationRun{Seed: seed})
		r.Seed = cp.Seed
	})
}

func (s *Store) SetSimulationTemplate(ctx context.Context, id, templateID, templateName string) error {
	return s.update(id, func(r *model.SimulationRun) {
		r.SandboxTemplateID = templateID
		r.TemplateName = templateName
	})
}

func (s *Store) PushSimulationAction(ctx context.Context, id string, action model.ActionMetric, limit int) error {
	if limit <= 0 {
		limit = model.RecentActionsLimit
	}
	return s.update(id, func(r *model.SimulationRun) {
		r.RecentActions = append(r.RecentActions, action)
		if over := len(r.RecentActions) - limit; over > 0 {
			r.RecentActions = append([]model.ActionMetric{}, r.RecentActions[over:]...)
		}
	})
}

func (s *Store) GetSimulationRecentActions(ctx context.Context, id string) ([]model.ActionMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]model.ActionMetric{}, r.RecentActions...), nil
}

func (s *Store) FailStaleSimulationRuns(ctx context.Context, errMsg string, endedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.runs {
		if r.Status != model.SimulationStatusRunning {
			continue
		}
		r.Status = model.SimulationStatusFailed
		t := endedAt
		r.EndedAt = &t
		r.Error = errMsg
		n++
	}
	return n, nil
}

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return storage.ErrDuplicate
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return storage.ErrDuplicate
		}
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *Store) DeleteUsers(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.users[id]; ok {
			delete(s.users, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountSimulationUsers(ctx context.Context, runID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.users {
		if u.SimulationRunID == runID {
			n++
		}
	}
	return n, nil
}

// ============================================================================
// SeedStore
// ============================================================================

func (s *Store) GetActiveSchoolYear(ctx context.Context) (*model.SchoolYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.SchoolYear
	for _, y := range s.schoolYears {
		if y.Active && (latest == nil || y.StartDate.After(latest.StartDate)) {
			latest = y
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (s *Store) CreateSchoolYear(ctx context.Context, year *model.SchoolYear) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insert(s.schoolYears, year.ID, year)
}

func (s *Store) CreateClasses(ctx context.Context, classes []*model.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range classes {
		if err := insert(s.classes, c.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateStudents(ctx context.Context, students []*model.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range students {
		if err := insert(s.students, st.ID, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateEnrollments(ctx context.Context, enrollments []*model.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range enrollments {
		if err := insert(s.enrollments, e.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateTemplateAssignments(ctx context.Context, assignments []*model.TemplateAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range assignments {
		if err := insert(s.assignments, a.ID, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateGradebookTemplate(ctx context.Context, tpl *model.GradebookTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insert(s.templates, tpl.ID, tpl)
}

func (s *Store) EnsureTeacherClassAssignment(ctx context.Context, teacherID, classID, seedTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := teacherID + "|" + classID
	if _, ok := s.teacherLinks[key]; !ok {
		s.teacherLinks[key] = &model.TeacherClassAssignment{ID: uuid.NewString(), TeacherID: teacherID, ClassID: classID, SeedTag: seedTag}
	}
	return nil
}

func (s *Store) EnsureRoleScope(ctx context.Context, userID string, levels []string, seedTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, ok := s.scopes[userID]
	if !ok {
		scope = &model.RoleScope{ID: uuid.NewString(), UserID: userID, SeedTag: seedTag}
		s.scopes[userID] = scope
	}
	for _, l := range levels {
		if !slices.Contains(scope.Levels, l) {
			scope.Levels = append(scope.Levels, l)
		}
	}
	return nil
}

func (s *Store) EnsureSubAdminAssignment(ctx context.Context, subAdminID, teacherID, seedTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subAdminID + "|" + teacherID
	if _, ok := s.subLinks[key]; !ok {
		s.subLinks[key] = &model.SubAdminAssignment{ID: uuid.NewString(), SubAdminID: subAdminID, TeacherID: teacherID, SeedTag: seedTag}
	}
	return nil
}

func (s *Store) DeleteSeedData(ctx context.Context, seedTag string) (int64, error) {
	if seedTag == "" {
		return 0, fmt.Errorf("memstore: empty seed tag")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	n += deleteTagged(s.assignments, seedTag, func(v *model.TemplateAssignment) string { return v.SeedTag })
	n += deleteTagged(s.enrollments, seedTag, func(v *model.Enrollment) string { return v.SeedTag })
	n += deleteTagged(s.students, seedTag, func(v *model.Student) string { return v.SeedTag })
	n += deleteTagged(s.teacherLinks, seedTag, func(v *model.TeacherClassAssignment) string { return v.SeedTag })
	n += deleteTagged(s.subLinks, seedTag, func(v *model.SubAdminAssignment) string { return v.SeedTag })
	n += deleteTagged(s.scopes, seedTag, func(v *model.RoleScope) string { return v.SeedTag })
	n += deleteTagged(s.classes, seedTag, func(v *model.Class) string { return v.SeedTag })
	n += deleteTagged(s.templates, seedTag, func(v *model.GradebookTemplate) string { return v.SeedTag })
	n += deleteTagged(s.schoolYears, seedTag, func(v *model.SchoolYear) string { return v.SeedTag })
	return n, nil
}

// ============================================================================
// 测试辅助
// ============================================================================

// Counts 返回各种子集合的文档数，供测试断言
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"school_years":              len(s.schoolYears),
		"classes":                   len(s.classes),
		"students":                  len(s.students),
		"enrollments":               len(s.enrollments),
		"template_assignments":      len(s.assignments),
		"teacher_class_assignments": len(s.teacherLinks),
		"subadmin_assignments":      len(s.subLinks),
		"role_scopes":               len(s.scopes),
		"gradebook_templates":       len(s.templates),
		"users":                     len(s.users),
	}
}

// TemplateAssignments 返回全部模板分配的副本
func (s *Store) TemplateAssignments() []model.TemplateAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TemplateAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, *a)
	}
	return out
}

// RoleScopeLevels 返回用户的年级范围
func (s *Store) RoleScopeLevels(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sc, ok := s.scopes[userID]; ok {
		return append([]string{}, sc.Levels...)
	}
	return nil
}

// ============================================================================
// 泛型辅助
// ============================================================================

func insert[T any](m map[string]*T, id string, v *T) error {
	if _, ok := m[id]; ok {
		return storage.ErrDuplicate
	}
	c := *v
	m[id] = &c
	return nil
}

func deleteTagged[T any](m map[string]*T, tag string, tagOf func(*T) string) int64 {
	var n int64
	for k, v := range m {
		if tagOf(v) == tag {
			delete(m, k)
			n++
		}
	}
	return n
}
