package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // text, json
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Capture     CaptureConfig    `yaml:"capture"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Relay       RelayConfig      `yaml:"relay"`
	Bus         BusConfig        `yaml:"bus"`
}

type CaptureConfig struct {
	Mode            string         `yaml:"mode"`    // batch, stream
	Backend         string         `yaml:"backend"` // portaudio, wav
	SampleRate      int            `yaml:"sample_rate"`
	Channels        int            `yaml:"channels"`
	DurationMS      int            `yaml:"duration_ms"`
	FramesPerBuffer int            `yaml:"frames_per_buffer"`
	AudioFile       string         `yaml:"audio_file"`
	InputFile       string         `yaml:"input_file"`
	Fallback        FallbackConfig `yaml:"fallback"`
}

type FallbackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Command    string `yaml:"command"`
	OutputPath string `yaml:"output_path"`
}

type RecognizerConfig struct {
	Mode           string `yaml:"mode"` // whisper-exec, vosk, mock
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	SegmentMS      int    `yaml:"segment_ms"`
	PublishPartial bool   `yaml:"publish_partial"`
}

type RelayConfig struct {
	StopOnFirstResult bool `yaml:"stop_on_first_result"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-listen",
		Environment: "development",
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "text",
			OTLPInsecure: true,
		},
		Capture: CaptureConfig{
			Mode:            "batch",
			Backend:         "portaudio",
			SampleRate:      16000,
			Channels:        1,
			DurationMS:      5000,
			FramesPerBuffer: 8000,
			AudioFile:       "/tmp/temp.wav",
			Fallback: FallbackConfig{
				Enabled:    true,
				Command:    "termux-microphone-record",
				OutputPath: "/tmp/temp.wav",
			},
		},
		Recognizer: RecognizerConfig{
			Mode:      "whisper-exec",
			Command:   "~/.repository/AI-BUILDER/whisper.cpp/build/main",
			ModelPath: "ggml-base.en.bin",
		},
		Bus: BusConfig{
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
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
	expandPaths(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Capture.Mode, "LOQA_CAPTURE_MODE")
	overrideString(&cfg.Capture.Backend, "LOQA_CAPTURE_BACKEND")
	overrideInt(&cfg.Capture.SampleRate, "LOQA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LOQA_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.DurationMS, "LOQA_CAPTURE_DURATION_MS")
	overrideInt(&cfg.Capture.FramesPerBuffer, "LOQA_CAPTURE_FRAMES_PER_BUFFER")
	overrideString(&cfg.Capture.AudioFile, "LOQA_CAPTURE_AUDIO_FILE")
	overrideString(&cfg.Capture.InputFile, "LOQA_CAPTURE_INPUT_FILE")
	overrideBool(&cfg.Capture.Fallback.Enabled, "LOQA_CAPTURE_FALLBACK_ENABLED")
	overrideString(&cfg.Capture.Fallback.Command, "LOQA_CAPTURE_FALLBACK_COMMAND")
	overrideString(&cfg.Capture.Fallback.OutputPath, "LOQA_CAPTURE_FALLBACK_OUTPUT_PATH")
	overrideString(&cfg.Recognizer.Mode, "LOQA_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "LOQA_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.ModelPath, "LOQA_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Language, "LOQA_RECOGNIZER_LANGUAGE")
	overrideInt(&cfg.Recognizer.SegmentMS, "LOQA_RECOGNIZER_SEGMENT_MS")
	overrideBool(&cfg.Recognizer.PublishPartial, "LOQA_RECOGNIZER_PUBLISH_PARTIAL")
	overrideBool(&cfg.Relay.StopOnFirstResult, "LOQA_RELAY_STOP_ON_FIRST_RESULT")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
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

func expandPaths(cfg *Config) {
	cfg.Capture.AudioFile = ExpandHome(cfg.Capture.AudioFile)
	cfg.Capture.InputFile = ExpandHome(cfg.Capture.InputFile)
	cfg.Capture.Fallback.OutputPath = ExpandHome(cfg.Capture.Fallback.OutputPath)
	cfg.Recognizer.ModelPath = ExpandHome(cfg.Recognizer.ModelPath)
	cfg.Recognizer.Command = ExpandHome(cfg.Recognizer.Command)
}

// ExpandHome replaces a leading "~" or "~/" with the current user's home
// directory. The rest of the string, command arguments included, is kept as is.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return strings.TrimSuffix(home, string(filepath.Separator)) + path[1:]
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	switch cfg.Telemetry.LogFormat {
	case "text", "json":
	default:
		return errors.New("telemetry.log_format must be one of text|json")
	}
	switch cfg.Capture.Mode {
	case "batch", "stream":
	default:
		return errors.New("capture.mode must be one of batch|stream")
	}
	switch cfg.Capture.Backend {
	case "portaudio":
	case "wav":
		if cfg.Capture.InputFile == "" {
			return errors.New("capture.input_file must be set when backend=wav")
		}
	default:
		return errors.New("capture.backend must be one of portaudio|wav")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.DurationMS <= 0 {
		return errors.New("capture.duration_ms must be positive")
	}
	if cfg.Capture.FramesPerBuffer <= 0 {
		return errors.New("capture.frames_per_buffer must be positive")
	}
	if cfg.Capture.Fallback.Enabled {
		if cfg.Capture.Fallback.Command == "" {
			return errors.New("capture.fallback.command must be set when fallback is enabled")
		}
		if cfg.Capture.Fallback.OutputPath == "" {
			return errors.New("capture.fallback.output_path must be set when fallback is enabled")
		}
	}
	switch cfg.Recognizer.Mode {
	case "mock":
	case "whisper-exec":
		if cfg.Recognizer.Command == "" {
			return errors.New("recognizer.command must be set when mode=whisper-exec")
		}
		if cfg.Capture.AudioFile == "" {
			return errors.New("capture.audio_file must be set when mode=whisper-exec")
		}
	case "vosk":
		if cfg.Recognizer.ModelPath == "" {
			return errors.New("recognizer.model_path must be set when mode=vosk")
		}
	default:
		return errors.New("recognizer.mode must be one of whisper-exec|vosk|mock")
	}
	if cfg.Recognizer.SegmentMS < 0 {
		return errors.New("recognizer.segment_ms must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
