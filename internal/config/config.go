package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr          string
	WSReadBufferSize  int
	WSWriteBufferSize int
	JWTSecret         string
	DBDSN             string
	RabbitMQURL       string
	StatsDir          string
	TraceStdout       bool

	// Room limits
	MaxRooms        int
	MaxHumansCap    int
	TotalPlayersCap int

	// Phase timing
	DiscussionSeconds      int
	VotingSeconds          int
	RoundsToWin            int
	SurvivalWin            bool
	DiscussionEarlyExit    bool
	DiscussionFloorSeconds int
	IdleTriggerSeconds     int

	// Agent scheduling
	MinAgentSpacing   time.Duration
	ProbeTimeout      time.Duration
	GenerateTimeout   time.Duration
	WorkerPoolSize    int
	MaxUtteranceChars int

	// Broadcast
	SnapshotMessageWindow int
	BusBufferSize         int

	// LLM provider selection
	LLMProvider string
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string
	LLMTimeout  time.Duration
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func Load() Config {
	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		WSReadBufferSize:  getEnvInt("WS_READ_BUFFER", 4096),
		WSWriteBufferSize: getEnvInt("WS_WRITE_BUFFER", 4096),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change"),
		DBDSN:             getEnv("DB_DSN", ""),
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		StatsDir:          getEnv("STATS_DIR", "./stats"),
		TraceStdout:       getEnvBool("TRACE_STDOUT", false),

		MaxRooms:        getEnvInt("MAX_ROOMS", 1024),
		MaxHumansCap:    getEnvInt("MAX_HUMANS_CAP", 4),
		TotalPlayersCap: getEnvInt("TOTAL_PLAYERS_CAP", 12),

		DiscussionSeconds:      getEnvInt("DISCUSSION_SECONDS", 180),
		VotingSeconds:          getEnvInt("VOTING_SECONDS", 60),
		RoundsToWin:            getEnvInt("ROUNDS_TO_WIN", 1),
		SurvivalWin:            getEnvBool("SURVIVAL_WIN", false),
		DiscussionEarlyExit:    getEnvBool("DISCUSSION_EARLY_EXIT", false),
		DiscussionFloorSeconds: getEnvInt("DISCUSSION_FLOOR_SECONDS", 30),
		IdleTriggerSeconds:     getEnvInt("IDLE_TRIGGER_SECONDS", 10),

		MinAgentSpacing:   time.Duration(getEnvInt("MIN_AGENT_SPACING_SECONDS", 4)) * time.Second,
		ProbeTimeout:      time.Duration(getEnvInt("PROBE_TIMEOUT_MS", 5000)) * time.Millisecond,
		GenerateTimeout:   time.Duration(getEnvInt("GENERATE_TIMEOUT_MS", 15000)) * time.Millisecond,
		WorkerPoolSize:    getEnvInt("WORKER_POOL_SIZE", 10),
		MaxUtteranceChars: getEnvInt("MAX_UTTERANCE_CHARS", 280),

		SnapshotMessageWindow: getEnvInt("SNAPSHOT_MESSAGE_WINDOW", 50),
		BusBufferSize:         getEnvInt("BUS_BUFFER_SIZE", 256),

		LLMProvider: getEnv("LLM_PROVIDER", "openai"),
		LLMBaseURL:  getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMModel:    getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:  time.Duration(getEnvInt("LLM_TIMEOUT_SEC", 30)) * time.Second,
	}
}
