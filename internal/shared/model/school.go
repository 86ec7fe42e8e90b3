// Package model 定义核心数据模型
//
// school.go 包含模拟种子数据用到的学校管理实体。
// 这些实体的完整 schema 属于 CRUD 子系统，这里只保留模拟需要的字段。
package model

import (
	"encoding/json"
	"time"
)

// SchoolYear 学年（collection: school_years）
type SchoolYear struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Active    bool      `json:"active" bson:"active"`
	StartDate time.Time `json:"startDate" bson:"startDate"`
	EndDate   time.Time `json:"endDate" bson:"endDate"`
	SeedTag   string    `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
}

// Class 班级（collection: classes）
type Class struct {
	ID           string `json:"id" bson:"_id"`
	Name         string `json:"name" bson:"name"`
	Level        string `json:"level" bson:"level"`
	SchoolYearID string `json:"schoolYearId" bson:"schoolYearId"`
	SeedTag      string `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
}

// Student 学生（collection: students）
type Student struct {
	ID        string    `json:"id" bson:"_id"`
	FirstName string    `json:"firstName" bson:"firstName"`
	LastName  string    `json:"lastName" bson:"lastName"`
	BirthDate time.Time `json:"birthDate" bson:"birthDate"`
	SeedTag   string    `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
}

// EnrollmentStatus 注册状态
type EnrollmentStatus string

const (
	EnrollmentStatusActive EnrollmentStatus = "active"
)

// Enrollment 学生注册到班级（collection: enrollments）
type Enrollment struct {
	ID           string           `json:"id" bson:"_id"`
	StudentID    string           `json:"studentId" bson:"studentId"`
	ClassID      string           `json:"classId" bson:"classId"`
	SchoolYearID string           `json:"schoolYearId" bson:"schoolYearId"`
	Status       EnrollmentStatus `json:"status" bson:"status"`
	SeedTag      string           `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
}

// AssignmentStatus 模板分配状态
type AssignmentStatus string

const (
	AssignmentStatusDraft     AssignmentStatus = "draft"
	AssignmentStatusCompleted AssignmentStatus = "completed"
)

// TemplateAssignment 学生的成绩册实例（collection: template_assignments）
type TemplateAssignment struct {
	ID          string                     `json:"id" bson:"_id"`
	TemplateID  string                     `json:"templateId" bson:"templateId"`
	StudentID   string                     `json:"studentId" bson:"studentId"`
	ClassID     string                     `json:"classId" bson:"classId"`
	Status      AssignmentStatus           `json:"status" bson:"status"`
	IsCompleted bool                       `json:"isCompleted" bson:"isCompleted"`
	Data        map[string]json.RawMessage `json:"data,omitempty" bson:"data,omitempty"`
	SeedTag     string                     `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
	CreatedAt   time.Time                  `json:"createdAt" bson:"createdAt"`
}

// TeacherClassAssignment 教师-班级关系（collection: teacher_class_assignments）
// 唯一键：(teacherId, classId)
type TeacherClassAssignment struct {
	ID        string `json:"id" bson:"_id"`
	TeacherID string `json:"teacherId" bson:"teacherId"`
	ClassID   string `json:"classId" bson:"classId"`
	SeedTag   string `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
}

// RoleScope 副管理员的年级范围（collection: role_scopes）
// 唯一键：userId；levels 以 $addToSet 合并
type RoleScope struct {
	ID      string   `json:"id" bson:"_id"`
	UserID  string   `json:"userId" bson:"userId"`
	Levels  []string `json:"levels" bson:"levels"`
	SeedTag string   `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
}

// SubAdminAssignment 副管理员-教师关系（collection: subadmin_assignments）
// 唯一键：(subAdminId, teacherId)
type SubAdminAssignment struct {
	ID         string `json:"id" bson:"_id"`
	SubAdminID string `json:"subAdminId" bson:"subAdminId"`
	TeacherID  string `json:"teacherId" bson:"teacherId"`
	SeedTag    string `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
}

// ============================================================================
// GradebookTemplate - 成绩册模板
// ============================================================================

// 模拟关心的块类型
const (
	BlockTypeLanguageToggle   = "language_toggle"
	BlockTypeLanguageToggleV2 = "language_toggle_v2"
	BlockTypeTable            = "table"
	BlockTypeText             = "text"
)

// TemplateBlock 模板中的一个块
type TemplateBlock struct {
	Type  string         `json:"type" bson:"type"`
	Props map[string]any `json:"props,omitempty" bson:"props,omitempty"`
}

// TemplatePage 模板页
type TemplatePage struct {
	Title  string          `json:"title,omitempty" bson:"title,omitempty"`
	Blocks []TemplateBlock `json:"blocks" bson:"blocks"`
}

// GradebookTemplate 成绩册模板（collection: gradebook_templates）
type GradebookTemplate struct {
	ID        string         `json:"id" bson:"_id"`
	Name      string         `json:"name" bson:"name"`
	Pages     []TemplatePage `json:"pages" bson:"pages"`
	SeedTag   string         `json:"seedTag,omitempty" bson:"seedTag,omitempty"`
	CreatedAt time.Time      `json:"createdAt" bson:"createdAt"`
}
