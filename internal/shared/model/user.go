package model

import "time"

// UserRole 用户角色
type UserRole string

const (
	UserRoleAdmin    UserRole = "ADMIN"
	UserRoleSubAdmin UserRole = "SUBADMIN"
	UserRoleTeacher  UserRole = "TEACHER"
)

// UserStatus 用户状态
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User 用户（collection: users）
//
// 模拟创建的临时用户 SimulationRunID 非空，执行结束后统一删除。
type User struct {
	ID              string     `json:"id" bson:"_id"`
	Email           string     `json:"email" bson:"email"`
	DisplayName     string     `json:"displayName" bson:"displayName"`
	PasswordHash    string     `json:"-" bson:"passwordHash"` // never expose in JSON
	Role            UserRole   `json:"role" bson:"role"`
	Status          UserStatus `json:"status" bson:"status"`
	SimulationRunID string     `json:"simulationRunId,omitempty" bson:"simulationRunId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt" bson:"updatedAt"`
}
