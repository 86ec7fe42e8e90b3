// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//
// 配置路径确定策略：
//  1. SetConfigDir（--config 命令行参数）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/livret/
//     - dev/test → ./configs/
//
// 沙箱子进程：
//
//	主进程启动沙箱时通过环境变量注入 PORT、MONGO_URI、MONGO_DB_NAME、
//	SIMULATION_SANDBOX=true、SIMULATION_SANDBOX_MARKER，这些变量覆盖 YAML。
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer  APIServerConfig  `yaml:"api_server"` // 监听端口 + 对外地址
	Database   DatabaseConfig   `yaml:"database"`   // MongoDB
	Redis      RedisConfig      `yaml:"redis"`      // 实时状态镜像（可选）
	Auth       AuthConfig       `yaml:"auth"`       // JWT
	Simulation SimulationConfig `yaml:"simulation"` // 负载模拟
	Sandbox    SandboxConfig    `yaml:"sandbox"`    // 沙箱子进程
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port           string    `yaml:"port"`            // 监听端口
	PublicProtocol string    `yaml:"public_protocol"` // 对外协议 http/https，启用 TLS 时默认 https
	PublicHost     string    `yaml:"public_host"`     // 对外主机名
	TLS            TLSConfig `yaml:"tls"`
}

// TLSConfig HTTPS 配置
//
// CertFile/KeyFile 为空且 Enabled 时，在 CertDir 下自动生成自签名 CA 与服务端证书。
// 沙箱子进程读取同一份配置，因此复用同一组证书。
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CertDir  string `yaml:"cert_dir"` // 自动生成目录，默认 /etc/livret/certs
	Hosts    string `yaml:"hosts"`    // 额外 SANs，逗号分隔
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mongodb"（默认）或 "memory"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 MONGO_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	URI      string `yaml:"uri"` // 优先于 host/port
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL，优先于 host/port/db
}

// AuthConfig 认证配置
// JWTSecret 只从环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret      string `yaml:"-"`                // 只从 JWT_SECRET 环境变量读取
	AccessTokenTTL string `yaml:"access_token_ttl"` // 管理员令牌，例如 "15m"
	ActorTokenTTL  string `yaml:"actor_token_ttl"`  // 虚拟用户令牌，需覆盖最长执行时长
}

// SimulationConfig 负载模拟配置
type SimulationConfig struct {
	SandboxFlag     string        `yaml:"-"`                 // 只从 SIMULATION_SANDBOX 读取
	Marker          string        `yaml:"marker"`            // 沙箱数据库标记，默认 sandbox
	TargetURL       string        `yaml:"target_url"`        // 虚拟用户调用的业务 API 根地址
	HistoryLimit    int           `yaml:"history_limit"`     // history 返回条数
	SampleInterval  time.Duration `yaml:"sample_interval"`   // lastMetrics 写入周期
	CollectInterval time.Duration `yaml:"collect_interval"`  // recentActions 回读周期
	ActorTimeout    time.Duration `yaml:"actor_timeout"`     // 单次业务调用超时
	ActorTokenTTL   time.Duration `yaml:"-"`                 // 由 Auth.ActorTokenTTL 解析
	RecentActionCap int           `yaml:"recent_action_cap"` // recentActions 上限
}

// SandboxConfig 沙箱子进程配置
type SandboxConfig struct {
	Port                 string        `yaml:"port"`
	MongoURI             string        `yaml:"-"` // 只从 SANDBOX_MONGO_URI 读取，默认复用主库 URI
	DBName               string        `yaml:"db_name"`
	Binary               string        `yaml:"binary"`
	BuildCommand         []string      `yaml:"build_command"`
	WorkDir              string        `yaml:"work_dir"`
	HealthInterval       time.Duration `yaml:"health_interval"`
	HealthRequestTimeout time.Duration `yaml:"health_request_timeout"`
	HealthDeadline       time.Duration `yaml:"health_deadline"`
	StopGrace            time.Duration `yaml:"stop_grace"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string
	DatabaseURL    string
	DatabaseDBName string
	RedisURL       string // 空表示不启用
	APIPort        string
	PublicProtocol string
	PublicHost     string
	TLS            TLSConfig
	Auth           AuthConfig
	AccessTokenTTL time.Duration
	Simulation     SimulationConfig
	Sandbox        SandboxConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
