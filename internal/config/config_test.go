package config

import (
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "API_BASE_URL", "HTTP_TIMEOUT_SECONDS",
		"SESSION_BACKEND", "SESSION_PATH", "SESSION_ORDERING",
		"AI_BASE_URL", "AI_MODEL", "AI_MODELS", "CHAT_PARTIAL_ON_ERROR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:3000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.API.BaseURL != "http://localhost:8080" || cfg.API.Timeout != 30*time.Second {
		t.Fatalf("unexpected api config %+v", cfg.API)
	}
	if cfg.Chat.BaseURL != cfg.API.BaseURL {
		t.Fatalf("chat base url should default to api base url, got %q", cfg.Chat.BaseURL)
	}
	if cfg.Chat.DefaultModel != "deepseek" || len(cfg.Chat.Models) != 3 {
		t.Fatalf("unexpected chat config %+v", cfg.Chat)
	}
	if cfg.Chat.PreservePartials {
		t.Fatalf("partials should be discarded by default")
	}
	if cfg.Session.Backend != BackendFile || cfg.Session.Ordering != OrderingCompletion {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
	if filepath.Base(cfg.Session.Path) != "session.json" {
		t.Fatalf("unexpected session path %q", cfg.Session.Path)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", ":4000")
	t.Setenv("API_BASE_URL", "https://api.example.com/")
	t.Setenv("AI_BASE_URL", "https://ai.example.com")
	t.Setenv("AI_MODELS", "claude, GPT-4")
	t.Setenv("AI_MODEL", "gpt-4")
	t.Setenv("SESSION_BACKEND", "sqlite")
	t.Setenv("SESSION_ORDERING", "sequence")
	t.Setenv("CHAT_PARTIAL_ON_ERROR", "preserve")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":4000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Fatalf("trailing slash should be trimmed, got %q", cfg.API.BaseURL)
	}
	if cfg.Chat.BaseURL != "https://ai.example.com" || !cfg.Chat.AllowsModel("CLAUDE") {
		t.Fatalf("unexpected chat config %+v", cfg.Chat)
	}
	if !cfg.Chat.PreservePartials {
		t.Fatalf("expected preserve policy")
	}
	if cfg.Session.Backend != BackendSQLite || filepath.Base(cfg.Session.Path) != "session.db" {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.API.Timeout)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"backend":  {"SESSION_BACKEND", "redis"},
		"ordering": {"SESSION_ORDERING", "random"},
		"policy":   {"CHAT_PARTIAL_ON_ERROR", "keep"},
		"timeout":  {"HTTP_TIMEOUT_SECONDS", "soon"},
		"model":    {"AI_MODEL", "llama"},
		"port":     {"PORT", "30 00"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", kv[0], kv[1])
			}
		})
	}
}

func TestMemoryBackendHasNoPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_BACKEND", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Path != "" {
		t.Fatalf("memory backend should not resolve a path, got %q", cfg.Session.Path)
	}
}
