// Package config loads the server configuration from YAML, adapted from
// the teacher's config/config.go but expanded to the full option set
// enumerated for the conversation orchestration core.
package config

import (
	"fmt"
	"os"

	"github.com/zbcjackson/tank-server/logging"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       logging.Config  `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	ASR       ASRConfig       `yaml:"asr"`
	TTS       TTSConfig       `yaml:"tts"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Tools     ToolsConfig     `yaml:"tools"`

	ConfigPath string `yaml:"-"`
}

// TransportConfig configures the duplex WebSocket transport.
type TransportConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HTTPConfig configures the health/metrics HTTP surface.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig configures the LLM adapter and the reasoning-with-tools loop.
type LLMConfig struct {
	APIKey             string  `yaml:"llm_api_key"`
	Model              string  `yaml:"llm_model"`
	BaseURL            string  `yaml:"llm_base_url"`
	Temperature        float64 `yaml:"llm_temperature"`
	MaxTokens          int     `yaml:"llm_max_tokens"`
	SystemPrompt       string  `yaml:"system_prompt"`
	InactivityTimeoutS int     `yaml:"llm_inactivity_timeout_s"`
	MaxToolIterations  int     `yaml:"max_tool_iterations"`
	ToolTimeoutS       int     `yaml:"tool_timeout_s"`
}

// ASRConfig configures the ASR adapter.
type ASRConfig struct {
	Engine           string `yaml:"asr_engine"`
	WhisperModelSize string `yaml:"whisper_model_size"`
	ServerURL        string `yaml:"asr_server_url"`
	TimeoutS         int    `yaml:"asr_timeout_s"`
}

// TTSConfig configures the TTS adapter and playback pipeline.
type TTSConfig struct {
	DefaultLanguage string `yaml:"default_language"`
	VoiceEN         string `yaml:"tts_voice_en"`
	VoiceZH         string `yaml:"tts_voice_zh"`
	ServerURL       string `yaml:"tts_server_url"`
	ChunkTimeoutS   int    `yaml:"tts_chunk_timeout_s"`
	MinChunkChars   int    `yaml:"tts_min_chunk_chars"`
}

// AudioConfig configures ingest and segmentation sample rates and timings.
type AudioConfig struct {
	SampleRateIn   int `yaml:"sample_rate_in"`
	SampleRateOut  int `yaml:"sample_rate_out"`
	FrameMs        int `yaml:"frame_ms"`
	PreRollMs      int `yaml:"pre_roll_ms"`
	MinSilenceMs   int `yaml:"min_silence_ms"`
	MaxUtteranceMs int `yaml:"max_utterance_ms"`
	MaxFramesQueue int `yaml:"max_frames_queue"`
}

// SessionConfig bounds per-session conversation history.
type SessionConfig struct {
	MaxConversationHistory int `yaml:"max_conversation_history"`
}

// ToolsConfig gates credential-backed tools.
type ToolsConfig struct {
	SerperAPIKey string `yaml:"serper_api_key"`
}

// LoadConfig reads and parses a YAML configuration file, applying defaults
// for unset fields the way the teacher's LoadConfig does for Log.*.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ConfigPath = configPath
	applyDefaults(&cfg)
	return &cfg, nil
}

// GetRawConfig reads a YAML file into an untyped map, preserved from the
// teacher for diagnostics and config-dump tooling.
func GetRawConfig(configPath string) (map[string]interface{}, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return rawConfig, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.LogLevel == "" {
		cfg.Log.LogLevel = "info"
	}
	if !cfg.Log.EnableConsole && cfg.Log.LogFile == "" {
		cfg.Log.EnableConsole = true
	}

	if cfg.Transport.Port == 0 {
		cfg.Transport.Port = 8080
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8081
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "anthropic/claude-3-5-nano"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2000
	}
	if cfg.LLM.InactivityTimeoutS == 0 {
		cfg.LLM.InactivityTimeoutS = 60
	}
	if cfg.LLM.MaxToolIterations == 0 {
		cfg.LLM.MaxToolIterations = 5
	}
	if cfg.LLM.ToolTimeoutS == 0 {
		cfg.LLM.ToolTimeoutS = 30
	}

	if cfg.ASR.Engine == "" {
		cfg.ASR.Engine = "whisper"
	}
	if cfg.ASR.WhisperModelSize == "" {
		cfg.ASR.WhisperModelSize = "base"
	}
	if cfg.ASR.TimeoutS == 0 {
		cfg.ASR.TimeoutS = 10
	}

	if cfg.TTS.DefaultLanguage == "" {
		cfg.TTS.DefaultLanguage = "zh"
	}
	if cfg.TTS.VoiceEN == "" {
		cfg.TTS.VoiceEN = "en-US-JennyNeural"
	}
	if cfg.TTS.VoiceZH == "" {
		cfg.TTS.VoiceZH = "zh-CN-XiaoxiaoNeural"
	}
	if cfg.TTS.ChunkTimeoutS == 0 {
		cfg.TTS.ChunkTimeoutS = 15
	}
	if cfg.TTS.MinChunkChars == 0 {
		cfg.TTS.MinChunkChars = 40
	}

	if cfg.Audio.SampleRateIn == 0 {
		cfg.Audio.SampleRateIn = 16000
	}
	if cfg.Audio.SampleRateOut == 0 {
		cfg.Audio.SampleRateOut = 24000
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = 20
	}
	if cfg.Audio.PreRollMs == 0 {
		cfg.Audio.PreRollMs = 300
	}
	if cfg.Audio.MinSilenceMs == 0 {
		cfg.Audio.MinSilenceMs = 600
	}
	if cfg.Audio.MaxUtteranceMs == 0 {
		cfg.Audio.MaxUtteranceMs = 15000
	}
	if cfg.Audio.MaxFramesQueue == 0 {
		cfg.Audio.MaxFramesQueue = 256
	}

	if cfg.Session.MaxConversationHistory == 0 {
		cfg.Session.MaxConversationHistory = 20
	}
}
