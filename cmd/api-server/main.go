// Package main API Server 入口
//
// 同一个二进制既是主进程，也是沙箱子进程：SIMULATION_SANDBOX=true 且数据库名
// 带沙箱标记时以沙箱模式运行并在本地执行模拟，否则以主模式运行，负责管理沙箱
// 子进程并把模拟请求代理过去。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/apiserver/server"
	"github.com/gilkh/livret-sub003/internal/config"
	"github.com/gilkh/livret-sub003/internal/sandbox"
	"github.com/gilkh/livret-sub003/internal/shared/cache"
	cacheredis "github.com/gilkh/livret-sub003/internal/shared/cache/redis"
	"github.com/gilkh/livret-sub003/internal/shared/storage"
	"github.com/gilkh/livret-sub003/internal/shared/storage/memstore"
	"github.com/gilkh/livret-sub003/internal/shared/storage/mongostore"
	"github.com/gilkh/livret-sub003/internal/simulation"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

// devJWTSecret 仅 dev/test 环境未设置 JWT_SECRET 时使用
const devJWTSecret = "livret-dev-secret"

// store 持久化存储，同时暴露连接信息供沙箱判定
type store interface {
	storage.PersistentStore
	sandbox.Conn
}

func main() {
	configDirFlag := flag.String("config", "", "配置文件目录（或 YAML 文件路径）")
	flag.Parse()

	if *configDirFlag != "" {
		dir := *configDirFlag
		if strings.HasSuffix(dir, ".yaml") || strings.HasSuffix(dir, ".yml") {
			dir = filepath.Dir(dir)
		}
		config.SetConfigDir(dir)
	}

	// 加载配置（自动加载 .env，按 APP_ENV 选择 YAML）
	cfg := config.Load()
	logger := logging.Default("api-server")

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()
	log.Printf("Connected to %s db=%s", cfg.DatabaseDriver, st.DBName())

	authCfg := auth.Config{JWTSecret: cfg.Auth.JWTSecret, AccessTokenTTL: cfg.AccessTokenTTL}
	if authCfg.JWTSecret == "" {
		if cfg.Env == config.EnvProduction {
			log.Fatal("JWT_SECRET is required in production")
		}
		log.Printf("[auth] WARNING: JWT_SECRET not set, using development secret")
		authCfg.JWTSecret = devJWTSecret
	}

	guard := sandbox.NewGuard(cfg.Simulation.SandboxFlag, cfg.Simulation.Marker, st)
	diag := guard.Diagnostics()
	log.Printf("[sandbox.guard] ok=%t enabled=%t db=%s marker=%s",
		diag.OK, diag.Enabled, diag.DBName, diag.Marker)

	reg := prometheus.DefaultRegisterer
	deps := server.Deps{
		Guard:      guard,
		Auth:       authCfg,
		Registerer: reg,
		Logger:     logger,
	}

	var (
		runner  *simulation.Runner
		manager *sandbox.Manager
	)
	if guard.IsSandbox() {
		liveCache := openCache(cfg.RedisURL)
		defer liveCache.Close()

		opts := simulation.OptionsFromConfig(cfg)
		opts.Auth = authCfg
		opts.Store = st
		opts.Guard = guard
		opts.Cache = liveCache
		opts.Registerer = reg
		opts.Logger = logging.Default("simulation")
		runner = simulation.NewRunner(opts)

		if _, err := runner.RecoverStale(context.Background()); err != nil {
			log.Printf("[simulation.recover] err=%v", err)
		}
		deps.Runner = runner
		log.Printf("Running in sandbox mode, target=%s", cfg.Simulation.TargetURL)
	} else {
		manager = sandbox.NewManager(sandbox.OptionsFromConfig(cfg), reg)
		deps.Process = manager
		log.Printf("Running in main mode, sandbox=%s", cfg.SandboxBaseURL())
	}

	h := server.NewHandler(deps)

	var handler http.Handler = h.Router()
	var certFile, keyFile string
	if cfg.TLS.Enabled {
		var caFile string
		certFile, keyFile, caFile, err = resolveCerts(cfg.TLS)
		if err != nil {
			log.Fatalf("Failed to prepare TLS certificates: %v", err)
		}
		handler = withCADownload(handler, caFile)
	}

	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// WebSocket 推送和沙箱代理需要更长的写超时
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLS.Enabled {
		srv.ErrorLog = newServerErrorLog()
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if runner != nil {
			if err := runner.Shutdown(ctx); err != nil {
				log.Printf("Simulation shutdown error: %v", err)
			}
		}
		if manager != nil {
			manager.Stop()
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := serve(srv, cfg.TLS.Enabled, certFile, keyFile); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// serve 启动监听；TLS 模式下同端口的明文请求会被重定向到 https
func serve(srv *http.Server, useTLS bool, certFile, keyFile string) error {
	if !useTLS {
		log.Printf("API Server listening on %s", srv.Addr)
		return srv.ListenAndServe()
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.Printf("API Server listening on %s (https)", srv.Addr)
	return srv.ServeTLS(redirectListener{Listener: ln}, certFile, keyFile)
}

func openStore(cfg *config.Config) (store, error) {
	if cfg.DatabaseDriver == "memory" {
		return memstore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName), nil
	}
	s, err := mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// openCache Redis 不可用时退化为不镜像
func openCache(redisURL string) cache.LiveStateCache {
	if redisURL == "" {
		return cache.NewNoOpCache()
	}
	c, err := cacheredis.NewStoreFromURL(redisURL)
	if err != nil {
		log.Printf("[cache.redis] unavailable, live state not mirrored: %v", err)
		return cache.NewNoOpCache()
	}
	log.Println("Connected to Redis")
	return c
}
