package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// buildDatabaseURL 构建 MongoDB 连接字符串
func buildDatabaseURL(db DatabaseConfig) string {
	if db.URI != "" {
		return db.URI
	}
	if strings.ToLower(db.Driver) == "memory" {
		return "memory://" + db.Name
	}
	if db.User != "" && db.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", db.User, db.Password, db.Host, db.Port)
	}
	return fmt.Sprintf("mongodb://%s:%d", db.Host, db.Port)
}

// detectDatabaseDriver 检测数据库驱动类型
// 优先级：显式 driver 字段 > URI 前缀 > 默认 mongodb
func detectDatabaseDriver(driver, uri string) string {
	if d := strings.ToLower(driver); d == "memory" || d == "mongodb" {
		return d
	}
	if strings.HasPrefix(uri, "memory://") {
		return "memory"
	}
	return "mongodb"
}

// buildRedisURL 构建 Redis 连接字符串
// URL 字段非空时直接使用；否则从 host/port/db/password 构建
func buildRedisURL(redis RedisConfig) string {
	if redis.URL != "" {
		return redis.URL
	}
	if redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", redis.Password, redis.Host, redis.Port, redis.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

var passwordPattern = regexp.MustCompile(`(://[^:/@]*:)([^@]+)(@)`)

// MaskPassword 隐藏连接串中的密码
func MaskPassword(url string) string {
	return passwordPattern.ReplaceAllString(url, "${1}***${3}")
}

// parseEnv 解析环境字符串
func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// firstEnv 返回第一个非空的环境变量值（兼容 MONGO_URI / MONGODB_URI）
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Driver: %s, DB: %s/%s, Redis: %s, Sandbox: %s/%s}",
		c.Env, c.DatabaseDriver, MaskPassword(c.DatabaseURL), c.DatabaseDBName,
		MaskPassword(c.RedisURL), MaskPassword(c.Sandbox.MongoURI), c.Sandbox.DBName)
}
