package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Session repository backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Ordering policies for concurrent credential writes.
const (
	OrderingCompletion = "completion"
	OrderingSequence   = "sequence"
)

// Config 聚合整个客户端的配置项。
type Config struct {
	Server  ServerConfig
	API     APIConfig
	Session SessionConfig
	Chat    ChatConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	api, err := loadAPIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig(api)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, API: api, Session: session, Chat: chat}, nil
}

// ServerConfig 描述本地 dashboard shell 的监听配置。
type ServerConfig struct {
	Addr          string
	AllowedOrigin string
}

// loadServerConfig 解析监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	origin := getEnvOrDefault("ALLOWED_ORIGIN", "*")

	if strings.Contains(port, ":") {
		// 允许直接传入 ":3000" 或 "127.0.0.1:3000"。
		return ServerConfig{Addr: port, AllowedOrigin: origin}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: "127.0.0.1:" + port, AllowedOrigin: origin}, nil
}

// APIConfig 描述后端接口地址。
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadAPIConfig() (APIConfig, error) {
	timeout, err := parseOptionalIntEnv("HTTP_TIMEOUT_SECONDS")
	if err != nil {
		return APIConfig{}, err
	}
	seconds := 30
	if timeout != nil {
		if *timeout < 1 {
			return APIConfig{}, fmt.Errorf("invalid HTTP_TIMEOUT_SECONDS value %d", *timeout)
		}
		seconds = *timeout
	}

	return APIConfig{
		BaseURL: strings.TrimRight(getEnvOrDefault("API_BASE_URL", "http://localhost:8080"), "/"),
		Timeout: time.Duration(seconds) * time.Second,
	}, nil
}

// SessionConfig 描述凭证的持久化方式。
type SessionConfig struct {
	Backend  string
	Path     string
	Ordering string
}

func loadSessionConfig() (SessionConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("SESSION_BACKEND", BackendFile))
	switch backend {
	case BackendMemory, BackendFile, BackendSQLite:
	default:
		return SessionConfig{}, fmt.Errorf("invalid SESSION_BACKEND value %q", backend)
	}

	ordering := strings.ToLower(getEnvOrDefault("SESSION_ORDERING", OrderingCompletion))
	switch ordering {
	case OrderingCompletion, OrderingSequence:
	default:
		return SessionConfig{}, fmt.Errorf("invalid SESSION_ORDERING value %q", ordering)
	}

	path := strings.TrimSpace(os.Getenv("SESSION_PATH"))
	if path == "" && backend != BackendMemory {
		path = defaultSessionPath(backend)
	}

	return SessionConfig{Backend: backend, Path: path, Ordering: ordering}, nil
}

func defaultSessionPath(backend string) string {
	name := "session.json"
	if backend == BackendSQLite {
		name = "session.db"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".dashboard", name)
	}
	return filepath.Join(dir, "dashboard-client", name)
}

// ChatConfig 描述 AI 聊天相关配置。
type ChatConfig struct {
	BaseURL          string
	DefaultModel     string
	Models           []string
	PreservePartials bool
}

// AllowsModel 判断模型是否在允许列表中。
func (c ChatConfig) AllowsModel(model string) bool {
	for _, m := range c.Models {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

func loadChatConfig(api APIConfig) (ChatConfig, error) {
	models := splitList(getEnvOrDefault("AI_MODELS", "deepseek,gpt-4,claude"))
	defaultModel := strings.ToLower(getEnvOrDefault("AI_MODEL", "deepseek"))
	if len(models) == 0 {
		return ChatConfig{}, fmt.Errorf("AI_MODELS must list at least one model")
	}

	cfg := ChatConfig{
		BaseURL:      strings.TrimRight(getEnvOrDefault("AI_BASE_URL", api.BaseURL), "/"),
		DefaultModel: defaultModel,
		Models:       models,
	}
	if !cfg.AllowsModel(defaultModel) {
		return ChatConfig{}, fmt.Errorf("AI_MODEL %q is not listed in AI_MODELS", defaultModel)
	}

	switch policy := strings.ToLower(getEnvOrDefault("CHAT_PARTIAL_ON_ERROR", "discard")); policy {
	case "discard":
	case "preserve":
		cfg.PreservePartials = true
	default:
		return ChatConfig{}, fmt.Errorf("invalid CHAT_PARTIAL_ON_ERROR value %q", policy)
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.ToLower(strings.TrimSpace(part)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
