package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Live        LiveConfig      `yaml:"live"`
	Practice    PracticeConfig  `yaml:"practice"`
	AudioInput  AudioInConfig   `yaml:"audio_input"`
	AudioOutput AudioOutConfig  `yaml:"audio_output"`
	Volume      VolumeConfig    `yaml:"volume"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LiveConfig struct {
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
}

type PracticeConfig struct {
	Language string `yaml:"language"`
	Level    string `yaml:"level"`
	Topic    string `yaml:"topic"`
}

type AudioInConfig struct {
	Mode       string `yaml:"mode"` // mic, exec, wav
	SampleRate int    `yaml:"sample_rate"`
	BlockSize  int    `yaml:"block_size"`
	Command    string `yaml:"command"`
	Path       string `yaml:"path"`
}

type AudioOutConfig struct {
	Mode       string `yaml:"mode"` // speaker, exec
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Command    string `yaml:"command"`
}

type VolumeConfig struct {
	IntervalMS int     `yaml:"interval_ms"`
	Window     int     `yaml:"window"`
	Floor      float64 `yaml:"floor"`
}

func Default() Config {
	return Config{
		RuntimeName: "lingua-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/lingua.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Live: LiveConfig{
			Model:            "models/gemini-2.5-flash-native-audio-preview-09-2025",
			ConnectTimeoutMS: 15000,
		},
		Practice: PracticeConfig{
			Language: "Spanish",
			Level:    "Beginner",
			Topic:    "Ordering food at a restaurant",
		},
		AudioInput: AudioInConfig{
			Mode:       "mic",
			SampleRate: 16000,
			BlockSize:  4096,
		},
		AudioOutput: AudioOutConfig{
			Mode:       "speaker",
			SampleRate: 24000,
			Channels:   1,
		},
		Volume: VolumeConfig{
			IntervalMS: 16,
			Window:     2048,
			Floor:      5,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LINGUA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LINGUA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LINGUA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LINGUA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LINGUA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LINGUA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LINGUA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LINGUA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LINGUA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LINGUA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LINGUA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LINGUA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LINGUA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LINGUA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LINGUA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LINGUA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LINGUA_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "LINGUA_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "LINGUA_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxEntries, "LINGUA_STORE_MAX_ENTRIES")
	overrideBool(&cfg.Store.VacuumOnStart, "LINGUA_STORE_VACUUM_ON_START")
	overrideString(&cfg.Live.Endpoint, "LINGUA_LIVE_ENDPOINT")
	overrideString(&cfg.Live.APIKey, "LINGUA_LIVE_API_KEY")
	overrideString(&cfg.Live.Model, "LINGUA_LIVE_MODEL")
	overrideInt(&cfg.Live.ConnectTimeoutMS, "LINGUA_LIVE_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Practice.Language, "LINGUA_PRACTICE_LANGUAGE")
	overrideString(&cfg.Practice.Level, "LINGUA_PRACTICE_LEVEL")
	overrideString(&cfg.Practice.Topic, "LINGUA_PRACTICE_TOPIC")
	overrideString(&cfg.AudioInput.Mode, "LINGUA_AUDIO_INPUT_MODE")
	overrideInt(&cfg.AudioInput.SampleRate, "LINGUA_AUDIO_INPUT_SAMPLE_RATE")
	overrideInt(&cfg.AudioInput.BlockSize, "LINGUA_AUDIO_INPUT_BLOCK_SIZE")
	overrideString(&cfg.AudioInput.Command, "LINGUA_AUDIO_INPUT_COMMAND")
	overrideString(&cfg.AudioInput.Path, "LINGUA_AUDIO_INPUT_PATH")
	overrideString(&cfg.AudioOutput.Mode, "LINGUA_AUDIO_OUTPUT_MODE")
	overrideInt(&cfg.AudioOutput.SampleRate, "LINGUA_AUDIO_OUTPUT_SAMPLE_RATE")
	overrideInt(&cfg.AudioOutput.Channels, "LINGUA_AUDIO_OUTPUT_CHANNELS")
	overrideString(&cfg.AudioOutput.Command, "LINGUA_AUDIO_OUTPUT_COMMAND")
	overrideInt(&cfg.Volume.IntervalMS, "LINGUA_VOLUME_INTERVAL_MS")
	overrideInt(&cfg.Volume.Window, "LINGUA_VOLUME_WINDOW")
	overrideFloat(&cfg.Volume.Floor, "LINGUA_VOLUME_FLOOR")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" && cfg.Store.RetentionMode != "ephemeral" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Live.Model == "" {
		return errors.New("live.model must not be empty")
	}
	if cfg.Live.ConnectTimeoutMS <= 0 {
		return errors.New("live.connect_timeout_ms must be positive")
	}
	if cfg.Practice.Language == "" {
		return errors.New("practice.language must not be empty")
	}
	switch cfg.AudioInput.Mode {
	case "mic", "exec", "wav":
	default:
		return errors.New("audio_input.mode must be one of mic|exec|wav")
	}
	if cfg.AudioInput.Mode == "exec" && cfg.AudioInput.Command == "" {
		return errors.New("audio_input.command must be set when mode=exec")
	}
	if cfg.AudioInput.Mode == "wav" && cfg.AudioInput.Path == "" {
		return errors.New("audio_input.path must be set when mode=wav")
	}
	if cfg.AudioInput.SampleRate <= 0 {
		return errors.New("audio_input.sample_rate must be positive")
	}
	if cfg.AudioInput.BlockSize <= 0 {
		return errors.New("audio_input.block_size must be positive")
	}
	switch cfg.AudioOutput.Mode {
	case "speaker", "exec":
	default:
		return errors.New("audio_output.mode must be one of speaker|exec")
	}
	if cfg.AudioOutput.Mode == "exec" && cfg.AudioOutput.Command == "" {
		return errors.New("audio_output.command must be set when mode=exec")
	}
	if cfg.AudioOutput.SampleRate <= 0 {
		return errors.New("audio_output.sample_rate must be positive")
	}
	if cfg.AudioOutput.Channels <= 0 {
		return errors.New("audio_output.channels must be positive")
	}
	if cfg.Volume.IntervalMS <= 0 {
		return errors.New("volume.interval_ms must be positive")
	}
	if cfg.Volume.Window <= 0 {
		return errors.New("volume.window must be positive")
	}
	if cfg.Volume.Floor < 0 {
		return errors.New("volume.floor must be >= 0")
	}
	return nil
}
