package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every tunable of the service.
type Config struct {
	Server ServerConfig
	Relay  RelayConfig
	AI     AIConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Relay: relay, AI: ai}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// RelayConfig tunes the connection pipeline. Interval knobs take whole
// seconds.
type RelayConfig struct {
	// HandshakeTimeout bounds how long a new connection may sit without
	// sending CONNECT before it is dropped.
	HandshakeTimeout time.Duration
	// Heartbeat is the server's idle-probe interval on long-lived
	// transports, advertised to clients in the CONNECTED frame.
	Heartbeat time.Duration
	// IdleTimeout is how long a peer may stay silent before it is
	// presumed dead. Must exceed Heartbeat.
	IdleTimeout time.Duration
	// SendBuffer is the per-session outbound queue length.
	SendBuffer int
}

func loadRelayConfig() (RelayConfig, error) {
	handshake, err := parseSecondsEnv("RELAY_HANDSHAKE_TIMEOUT", 10*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	heartbeat, err := parseSecondsEnv("RELAY_HEARTBEAT", 25*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	idle, err := parseSecondsEnv("RELAY_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}
	if idle <= heartbeat {
		return RelayConfig{}, fmt.Errorf("RELAY_IDLE_TIMEOUT (%v) must exceed RELAY_HEARTBEAT (%v)", idle, heartbeat)
	}

	sendBuffer := 256
	if override, err := parseOptionalIntEnv("RELAY_SEND_BUFFER"); err != nil {
		return RelayConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return RelayConfig{}, fmt.Errorf("invalid RELAY_SEND_BUFFER value %d: must be positive", *override)
		}
		sendBuffer = *override
	}

	return RelayConfig{
		HandshakeTimeout: handshake,
		Heartbeat:        heartbeat,
		IdleTimeout:      idle,
		SendBuffer:       sendBuffer,
	}, nil
}

// AIConfig describes the optional hosted-model backend.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials: provide ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY plus ARK_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	override, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if override == nil {
		return defaultValue, nil
	}
	if *override < 1 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *override)
	}
	return time.Duration(*override) * time.Second, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
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
