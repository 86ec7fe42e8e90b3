package simulation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/internal/shared/storage"
)

// actorPassword 所有临时用户共用的占位密码，只存储其 bcrypt 哈希
const actorPassword = "simulation-placeholder"

// ActorEmailDomain 临时用户邮箱域名
const ActorEmailDomain = "sandbox.local"

// Actor 合成用户
type Actor struct {
	ID          string
	Email       string
	DisplayName string
	Role        model.UserRole
	Token       string
}

// ActorFactory 创建临时用户并签发令牌
//
// 占位密码在每个 factory 实例中只哈希一次。
type ActorFactory struct {
	users    storage.UserStore
	authCfg  auth.Config
	tokenTTL time.Duration

	hashOnce sync.Once
	hash     string
	hashErr  error
}

// NewActorFactory 创建 ActorFactory
func NewActorFactory(users storage.UserStore, authCfg auth.Config, tokenTTL time.Duration) *ActorFactory {
	if tokenTTL <= 0 {
		tokenTTL = 2 * time.Hour
	}
	return &ActorFactory{users: users, authCfg: authCfg, tokenTTL: tokenTTL}
}

func (f *ActorFactory) passwordHash() (string, error) {
	f.hashOnce.Do(func() {
		f.hash, f.hashErr = auth.HashPassword(actorPassword)
	})
	return f.hash, f.hashErr
}

// CreateActor 持久化一个 role 角色的临时用户并返回其令牌
func (f *ActorFactory) CreateActor(ctx context.Context, runID string, role model.UserRole) (*Actor, error) {
	hash, err := f.passwordHash()
	if err != nil {
		return nil, fmt.Errorf("hash placeholder password: %w", err)
	}

	id := uuid.NewString()
	suffix := strings.ReplaceAll(id, "-", "")[:8]
	roleTag := strings.ToLower(string(role))
	now := time.Now()

	user := &model.User{
		ID:              id,
		Email:           fmt.Sprintf("sim-%s-%s-%s@%s", roleTag, shortID(runID), suffix, ActorEmailDomain),
		DisplayName:     fmt.Sprintf("Sim %s %s-%s", displayRole(role), shortID(runID), suffix),
		PasswordHash:    hash,
		Role:            role,
		Status:          model.UserStatusActive,
		SimulationRunID: runID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create %s actor: %w", roleTag, err)
	}

	token, err := auth.GenerateToken(f.authCfg, user.ID, user.Email, string(role), f.tokenTTL)
	if err != nil {
		return &Actor{ID: user.ID, Email: user.Email, Role: role}, fmt.Errorf("sign %s actor token: %w", roleTag, err)
	}

	return &Actor{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        role,
		Token:       token,
	}, nil
}

// DeleteActors 删除临时用户
func (f *ActorFactory) DeleteActors(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return f.users.DeleteUsers(ctx, ids)
}

func displayRole(role model.UserRole) string {
	switch role {
	case model.UserRoleTeacher:
		return "Teacher"
	case model.UserRoleSubAdmin:
		return "SubAdmin"
	}
	return string(role)
}

// shortID 取 runId 前 8 位用于命名
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
