package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the transcription agent.
type Config struct {
	// Meeting assignment
	MeetingID string
	RoomName  string

	// LiveKit room configuration
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	AgentIdentity    string

	// Speech provider configuration
	SpeechWSURL    string
	SpeechToken    string
	SpeechLanguage string

	// Highlight generator configuration
	OpenAIAPIKey     string
	HighlightTimeout time.Duration

	// Persistence
	DatabasePath       string
	AutoSaveInterval   time.Duration
	AutoSaveRetryDelay time.Duration

	// Room reconnect policy
	ConnectMaxAttempts int
	BackoffInitial     time.Duration
	BackoffCap         time.Duration

	// Agent shutdown
	StopGracePeriod time.Duration

	LogLevel string
}

// Load loads configuration from environment variables and flags.
func Load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.AgentIdentity = "transcriber-agent"
	cfg.SpeechLanguage = "en"
	cfg.HighlightTimeout = 20 * time.Second
	cfg.DatabasePath = "./transcripts.db"
	cfg.AutoSaveInterval = 30 * time.Second
	cfg.AutoSaveRetryDelay = 10 * time.Second
	cfg.ConnectMaxAttempts = 6
	cfg.BackoffInitial = time.Second
	cfg.BackoffCap = 30 * time.Second
	cfg.StopGracePeriod = 5 * time.Second
	cfg.LogLevel = "info"

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Load from environment
	cfg.MeetingID = getEnv("MEETING_ID", "")
	cfg.RoomName = getEnv("ROOM_NAME", "")
	cfg.LiveKitURL = getEnv("LIVEKIT_URL", "")
	cfg.LiveKitAPIKey = getEnv("LIVEKIT_API_KEY", "")
	cfg.LiveKitAPISecret = getEnv("LIVEKIT_API_SECRET", "")
	cfg.AgentIdentity = getEnv("AGENT_IDENTITY", cfg.AgentIdentity)
	cfg.SpeechWSURL = getEnv("SPEECH_WS_URL", "")
	cfg.SpeechToken = getEnv("SPEECH_TOKEN", "")
	cfg.SpeechLanguage = getEnv("SPEECH_LANGUAGE", cfg.SpeechLanguage)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", "")
	cfg.DatabasePath = getEnv("TRANSCRIBER_DB_PATH", cfg.DatabasePath)

	if s := getEnv("HIGHLIGHT_TIMEOUT", ""); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.HighlightTimeout = d
		}
	}
	if s := getEnv("AUTOSAVE_INTERVAL", ""); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.AutoSaveInterval = d
		}
	}
	if s := getEnv("AUTOSAVE_RETRY_DELAY", ""); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.AutoSaveRetryDelay = d
		}
	}
	if s := getEnv("CONNECT_MAX_ATTEMPTS", ""); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.ConnectMaxAttempts = n
		}
	}
	if s := getEnv("STOP_GRACE_PERIOD", ""); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.StopGracePeriod = d
		}
	}

	// Override with flags
	flag.StringVar(&cfg.MeetingID, "meeting-id", cfg.MeetingID, "Meeting identifier to transcribe")
	flag.StringVar(&cfg.RoomName, "room", cfg.RoomName, "Room name (defaults to the meeting identifier)")
	flag.StringVar(&cfg.LiveKitURL, "url", cfg.LiveKitURL, "LiveKit server URL")
	flag.StringVar(&cfg.LiveKitAPIKey, "api-key", cfg.LiveKitAPIKey, "LiveKit API key")
	flag.StringVar(&cfg.LiveKitAPISecret, "api-secret", cfg.LiveKitAPISecret, "LiveKit API secret")
	flag.StringVar(&cfg.AgentIdentity, "agent-identity", cfg.AgentIdentity, "Participant identity for the agent")
	flag.StringVar(&cfg.SpeechWSURL, "speech-url", cfg.SpeechWSURL, "Speech provider websocket URL")
	flag.StringVar(&cfg.SpeechLanguage, "speech-language", cfg.SpeechLanguage, "Speech recognition language code")
	flag.StringVar(&cfg.DatabasePath, "db-path", cfg.DatabasePath, "SQLite database path for transcripts")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.DurationVar(&cfg.AutoSaveInterval, "autosave-interval", cfg.AutoSaveInterval, "Transcript auto-save interval")
	flag.DurationVar(&cfg.StopGracePeriod, "stop-grace", cfg.StopGracePeriod, "Grace period for in-flight work on stop")
	flag.Parse()

	if cfg.RoomName == "" {
		cfg.RoomName = cfg.MeetingID
	}

	// Validate required fields. Missing credentials are configuration faults
	// and fail here, never retried.
	if cfg.MeetingID == "" {
		return nil, fmt.Errorf("MEETING_ID is required")
	}
	if cfg.LiveKitURL == "" {
		return nil, fmt.Errorf("LIVEKIT_URL is required")
	}
	if cfg.LiveKitAPIKey == "" {
		return nil, fmt.Errorf("LIVEKIT_API_KEY is required")
	}
	if cfg.LiveKitAPISecret == "" {
		return nil, fmt.Errorf("LIVEKIT_API_SECRET is required")
	}
	if cfg.SpeechWSURL != "" && cfg.SpeechToken == "" {
		return nil, fmt.Errorf("SPEECH_TOKEN is required when SPEECH_WS_URL is set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
