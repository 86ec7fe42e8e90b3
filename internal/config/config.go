package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultYAMLConfig 代码硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		APIServer: APIServerConfig{Port: "8080", PublicProtocol: "http", PublicHost: "localhost"},
		Database:  DatabaseConfig{Driver: "mongodb", Host: "localhost", Port: 27017, Name: "livret"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Auth:      AuthConfig{AccessTokenTTL: "15m", ActorTokenTTL: "2h"},
		Simulation: SimulationConfig{
			Marker:          "sandbox",
			HistoryLimit:    25,
			SampleInterval:  time.Second,
			CollectInterval: 750 * time.Millisecond,
			ActorTimeout:    15 * time.Second,
			RecentActionCap: 200,
		},
		Sandbox: SandboxConfig{
			Port:                 "8091",
			Binary:               "bin/api-server",
			BuildCommand:         []string{"go", "build", "-o", "bin/api-server", "./cmd/api-server"},
			HealthInterval:       750 * time.Millisecond,
			HealthRequestTimeout: 1500 * time.Millisecond,
			HealthDeadline:       30 * time.Second,
			StopGrace:            5 * time.Second,
		},
	}
}

// Load 加载配置
//  1. 加载 .env.{env}（敏感信息）
//  2. 根据 APP_ENV 加载 {env}.yaml
//  3. 环境变量覆盖
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)
	// .env 中也可能设置 APP_ENV
	env = parseEnv(getEnv("APP_ENV", string(env)))

	yc := loadYAMLConfig(env)
	return build(env, yc)
}

// build 合并 YAML 与环境变量，生成最终配置
func build(env Environment, yc *yamlConfigInternal) *Config {
	y := yc.YAMLConfig

	// 环境变量覆盖
	if v := os.Getenv("PORT"); v != "" {
		y.APIServer.Port = v
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		y.APIServer.TLS.Enabled = v == "true" || v == "1"
	}
	if y.APIServer.TLS.Enabled {
		y.APIServer.PublicProtocol = "https"
	}
	if v := os.Getenv("PUBLIC_API_PROTOCOL"); v != "" {
		y.APIServer.PublicProtocol = v
	}
	if v := os.Getenv("PUBLIC_API_HOST"); v != "" {
		y.APIServer.PublicHost = v
	}
	if v := firstEnv("MONGO_URI", "MONGODB_URI"); v != "" {
		y.Database.URI = v
	}
	if v := os.Getenv("MONGO_DB_NAME"); v != "" {
		y.Database.Name = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		y.Database.Driver = v
	}
	y.Database.Password = os.Getenv("MONGO_PASSWORD")
	y.Redis.Password = os.Getenv("REDIS_PASSWORD")
	y.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	y.Simulation.SandboxFlag = os.Getenv("SIMULATION_SANDBOX")
	if v := os.Getenv("SIMULATION_SANDBOX_MARKER"); v != "" {
		y.Simulation.Marker = v
	}
	if v := os.Getenv("SIMULATION_TARGET_URL"); v != "" {
		y.Simulation.TargetURL = v
	}

	if v := os.Getenv("SANDBOX_PORT"); v != "" {
		y.Sandbox.Port = v
	}
	if v := os.Getenv("SANDBOX_BINARY"); v != "" {
		y.Sandbox.Binary = v
	}
	y.Sandbox.MongoURI = os.Getenv("SANDBOX_MONGO_URI")

	cfg := &Config{
		Env:            env,
		DatabaseDriver: detectDatabaseDriver(y.Database.Driver, y.Database.URI),
		DatabaseURL:    buildDatabaseURL(y.Database),
		DatabaseDBName: y.Database.Name,
		APIPort:        y.APIServer.Port,
		PublicProtocol: y.APIServer.PublicProtocol,
		PublicHost:     y.APIServer.PublicHost,
		TLS:            y.APIServer.TLS,
		Auth:           y.Auth,
		AccessTokenTTL: parseDuration(y.Auth.AccessTokenTTL, 15*time.Minute),
		Simulation:     y.Simulation,
		Sandbox:        y.Sandbox,
		ConfigFilePath: yc.loadedFrom,
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	} else if y.Redis.Enabled {
		cfg.RedisURL = buildRedisURL(y.Redis)
	}

	cfg.Simulation.ActorTokenTTL = parseDuration(y.Auth.ActorTokenTTL, 2*time.Hour)
	if cfg.Simulation.TargetURL == "" {
		cfg.Simulation.TargetURL = fmt.Sprintf("http://localhost:%s/api", cfg.APIPort)
	}
	cfg.Simulation.TargetURL = strings.TrimRight(cfg.Simulation.TargetURL, "/")

	// 沙箱默认复用主库连接，数据库名带标记以通过沙箱判定
	if cfg.Sandbox.MongoURI == "" {
		cfg.Sandbox.MongoURI = cfg.DatabaseURL
	}
	if cfg.Sandbox.DBName == "" {
		cfg.Sandbox.DBName = cfg.DatabaseDBName + "_" + strings.ToLower(cfg.Simulation.Marker)
	}

	cfg.validate()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
			log.Printf("[config.load] invalid yaml path=%s err=%v", path, err)
			continue
		}
		cfg.loadedFrom = path
		break
	}

	return cfg
}

// validate 填充非法或缺失值
func (c *Config) validate() {
	s := &c.Simulation
	if s.Marker == "" {
		s.Marker = "sandbox"
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = 25
	}
	if s.SampleInterval <= 0 {
		s.SampleInterval = time.Second
	}
	if s.CollectInterval <= 0 {
		s.CollectInterval = 750 * time.Millisecond
	}
	if s.ActorTimeout <= 0 {
		s.ActorTimeout = 15 * time.Second
	}
	if s.RecentActionCap <= 0 {
		s.RecentActionCap = 200
	}

	if c.TLS.CertDir == "" {
		c.TLS.CertDir = "/etc/livret/certs"
	}

	sb := &c.Sandbox
	if sb.HealthInterval <= 0 {
		sb.HealthInterval = 750 * time.Millisecond
	}
	if sb.HealthRequestTimeout <= 0 {
		sb.HealthRequestTimeout = 1500 * time.Millisecond
	}
	if sb.HealthDeadline <= 0 {
		sb.HealthDeadline = 30 * time.Second
	}
	if sb.StopGrace <= 0 {
		sb.StopGrace = 5 * time.Second
	}
}

// SandboxBaseURL 沙箱子进程的可达地址
func (c *Config) SandboxBaseURL() string {
	return fmt.Sprintf("%s://%s:%s", c.PublicProtocol, c.PublicHost, c.Sandbox.Port)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
