package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
)

var (
	serverURL string
	apiToken  string
	jwtSecret string
	insecure  bool
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "simctl",
	Short: "Livret load simulation control",
	Long:  "simctl drives sandboxed load simulations through the api-server control endpoints.",
	// 参数错误时才打印用法
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serverURL, "server", envOr("LIVRET_API_URL", "http://localhost:8080"), "api-server base URL")
	pf.StringVar(&apiToken, "token", os.Getenv("LIVRET_TOKEN"), "admin bearer token")
	pf.StringVar(&jwtSecret, "secret", "", "sign an admin token locally with this JWT secret when --token is empty (default $JWT_SECRET)")
	pf.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	pf.DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, historyCmd, getCmd, watchCmd)
	rootCmd.AddCommand(sandboxCmd, tokenCmd)
}

// newClient 解析令牌并创建客户端
func newClient() (*apiClient, error) {
	token, err := resolveToken()
	if err != nil {
		return nil, err
	}
	return newAPIClient(serverURL, token, insecure, timeout), nil
}

// resolveToken --token 优先，否则用 JWT 密钥签发一个短期管理员令牌
func resolveToken() (string, error) {
	if apiToken != "" {
		return apiToken, nil
	}
	secret := jwtSecret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		return "", fmt.Errorf("no credentials: pass --token, set LIVRET_TOKEN, or provide --secret / JWT_SECRET")
	}
	cfg := auth.Config{JWTSecret: secret, AccessTokenTTL: 15 * time.Minute}
	return auth.GenerateAccessToken(cfg, "simctl", "simctl@localhost", auth.RoleAdmin)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
