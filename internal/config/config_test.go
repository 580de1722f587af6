package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ChatModel != DefaultChatModel {
		t.Errorf("chat_model = %q, want %q", cfg.ChatModel, DefaultChatModel)
	}
	if cfg.MaxToolChain != DefaultMaxToolChain {
		t.Errorf("max_tool_chain = %d, want %d", cfg.MaxToolChain, DefaultMaxToolChain)
	}
	if !cfg.RestrictToWorkspace {
		t.Error("restrict_to_workspace should default true")
	}
	if cfg.WorkspaceRoot == "" {
		t.Error("workspace_root should not be empty")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("PICOAGENT_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.ChatModel != DefaultChatModel {
		t.Errorf("chat_model = %q, want default", cfg.ChatModel)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("PICOAGENT_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfgDir := filepath.Join(tmpDir, ".picoagent")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	raw := map[string]any{
		"chat_model":      "gpt-test",
		"max_tool_chain":  5,
		"provider":        "openai",
	}
	data, _ := json.MarshalIndent(raw, "", "  ")
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.ChatModel != "gpt-test" {
		t.Errorf("chat_model = %q, want gpt-test", cfg.ChatModel)
	}
	if cfg.MaxToolChain != 5 {
		t.Errorf("max_tool_chain = %d, want 5", cfg.MaxToolChain)
	}
}

func TestLoadConfig_EnvOverridePriority(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("PICOAGENT_API_KEY", "picoagent-wins")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-loses")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.APIKey != "picoagent-wins" {
		t.Errorf("api key = %q, want picoagent-wins", cfg.APIKey)
	}
}

func TestSaveConfig_Permissions(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg := DefaultConfig()
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	info, err := os.Stat(filepath.Join(tmpDir, ".picoagent", "config.json"))
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %v, want 0600", perm)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfgDir := filepath.Join(tmpDir, ".picoagent")
	os.MkdirAll(cfgDir, 0o755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("not json"), 0o644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_TelegramTokenEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("PICOAGENT_TELEGRAM_TOKEN", "tg-token")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("telegram token = %q, want tg-token", cfg.Channels.Telegram.Token)
	}
}
