// Package config loads the session manager's settings from the
// environment, with optional .env support.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all manager settings.
type Config struct {
	Channel ChannelConfig
	Export  ExportConfig
}

// ChannelConfig describes the duplex channel endpoint and its
// reconnect/queue behavior.
type ChannelConfig struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	QueuePending     bool
	QueueLimit       int
}

// ExportConfig describes the synchronous export collaborator.
type ExportConfig struct {
	BaseURL   string
	OutputDir string
	Timeout   time.Duration
}

// Load reads configuration from environment variables. A .env file in
// the working directory is merged in first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] no .env file loaded: %v", err)
	}

	channel, err := loadChannelConfig()
	if err != nil {
		return nil, err
	}

	export, err := loadExportConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Channel: channel, Export: export}, nil
}

func loadChannelConfig() (ChannelConfig, error) {
	endpoint := getEnvOrDefault("CHATBOX_WS_URL", "ws://localhost:5000/ws")
	u, err := url.Parse(endpoint)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("invalid CHATBOX_WS_URL %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return ChannelConfig{}, fmt.Errorf("invalid CHATBOX_WS_URL %q: scheme must be ws or wss", endpoint)
	}

	queue, err := parseBoolEnv("CHATBOX_QUEUE_PENDING", false)
	if err != nil {
		return ChannelConfig{}, err
	}

	queueLimit := 64
	if v, err := parseOptionalIntEnv("CHATBOX_QUEUE_LIMIT"); err != nil {
		return ChannelConfig{}, err
	} else if v != nil {
		queueLimit = *v
	}

	handshake, err := secondsEnv("CHATBOX_HANDSHAKE_TIMEOUT", 30*time.Second)
	if err != nil {
		return ChannelConfig{}, err
	}
	retry, err := secondsEnv("CHATBOX_RETRY_INTERVAL", time.Second)
	if err != nil {
		return ChannelConfig{}, err
	}
	maxRetry, err := secondsEnv("CHATBOX_MAX_RETRY_INTERVAL", 10*time.Second)
	if err != nil {
		return ChannelConfig{}, err
	}

	return ChannelConfig{
		Endpoint:         endpoint,
		HandshakeTimeout: handshake,
		RetryInterval:    retry,
		MaxRetryInterval: maxRetry,
		QueuePending:     queue,
		QueueLimit:       queueLimit,
	}, nil
}

func loadExportConfig() (ExportConfig, error) {
	timeout, err := secondsEnv("CHATBOX_EXPORT_TIMEOUT", 30*time.Second)
	if err != nil {
		return ExportConfig{}, err
	}

	return ExportConfig{
		BaseURL:   getEnvOrDefault("CHATBOX_API_URL", "http://localhost:5000"),
		OutputDir: getEnvOrDefault("CHATBOX_EXPORT_DIR", "."),
		Timeout:   timeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
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

// secondsEnv reads an integer number of seconds.
func secondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return defaultValue, nil
	}
	if *v <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *v)
	}
	return time.Duration(*v) * time.Second, nil
}
