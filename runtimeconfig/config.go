// Package runtimeconfig loads runner defaults from a JSON file, with
// environment overrides for deployment knobs.
package runtimeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopworks/agentrun/internal/config"
)

type Config struct {
	MaxTurns       int    `json:"maxTurns"`
	SessionBackend string `json:"sessionBackend"`
	ConversationID string `json:"conversationId"`
	EventBuffer    int    `json:"eventBuffer"`
}

// Default returns the runner defaults used when no config file is given.
func Default() Config {
	return Config{
		MaxTurns:    10,
		EventBuffer: 256,
	}
}

func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %q as JSON: %w", absPath, err)
	}

	cfg.SessionBackend = strings.TrimSpace(cfg.SessionBackend)
	cfg.ConversationID = strings.TrimSpace(cfg.ConversationID)
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = Default().MaxTurns
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = Default().EventBuffer
	}
	return cfg, nil
}

// FromEnv builds a config from the environment alone.
func FromEnv() Config {
	cfg := Default()
	cfg.MaxTurns = config.ParseIntEnv("AGENT_MAX_TURNS", cfg.MaxTurns)
	cfg.EventBuffer = config.ParseIntEnv("AGENT_EVENT_BUFFER", cfg.EventBuffer)
	if backend := strings.TrimSpace(os.Getenv("AGENT_SESSION_BACKEND")); backend != "" {
		cfg.SessionBackend = backend
	}
	if id := strings.TrimSpace(os.Getenv("AGENT_CONVERSATION_ID")); id != "" {
		cfg.ConversationID = id
	}
	return cfg
}
