package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// TraceStdout prints spans to stdout when no OTLP endpoint is set.
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Engine      EngineConfig     `yaml:"engine"`
	Sanitizer   SanitizerConfig  `yaml:"sanitizer"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Archive     ArchiveConfig    `yaml:"archive"`
	Input       InputConfig      `yaml:"input"`
	Hotkeys     HotkeyConfig     `yaml:"hotkeys"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	RequestTimeout int      `yaml:"request_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxUtterances int    `yaml:"max_utterances"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// EngineConfig addresses a VOICEVOX compatible synthesis engine.
type EngineConfig struct {
	Mode               string  `yaml:"mode"` // http, mock
	Host               string  `yaml:"host"`
	Port               int     `yaml:"port"`
	SpeakerID          int     `yaml:"speaker_id"`
	Speed              float64 `yaml:"speed"`
	Pitch              float64 `yaml:"pitch"`
	Intonation         float64 `yaml:"intonation"`
	Volume             float64 `yaml:"volume"`
	PostPhonemeLength  float64 `yaml:"post_phoneme_length"`
	QueryTimeoutMS     int     `yaml:"query_timeout_ms"`
	SynthesisTimeoutMS int     `yaml:"synthesis_timeout_ms"`
	FadeMS             int     `yaml:"fade_ms"`
}

// BaseURL returns the engine endpoint built from host and port.
func (e EngineConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

type DictionaryEntry struct {
	Term    string `yaml:"term"`
	Reading string `yaml:"reading"`
}

type SanitizerConfig struct {
	Dictionary      []DictionaryEntry `yaml:"dictionary"`
	RequireHiragana bool              `yaml:"require_hiragana"`
	MinLength       int               `yaml:"min_length"`
	SplitSentences  bool              `yaml:"split_sentences"`
}

type PipelineConfig struct {
	PostPause float64 `yaml:"post_pause"`
}

type PlaybackConfig struct {
	Backend        string `yaml:"backend"` // malgo, null
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	BufferMS       int    `yaml:"buffer_ms"`
}

type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Root         string `yaml:"root"`
	Artist       string `yaml:"artist"`
	AlbumPrefix  string `yaml:"album_prefix"`
	ArtworkPath  string `yaml:"artwork_path"`
	OverrideDate string `yaml:"override_date"`
}

type InputConfig struct {
	Clipboard ClipboardConfig `yaml:"clipboard"`
}

type ClipboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Command        string `yaml:"command"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	StopCommand    string `yaml:"stop_command"`
}

type HotkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Stop    string `yaml:"stop"`
	Skip    string `yaml:"skip"`
	Pause   string `yaml:"pause"`
}

var overrideDatePattern = regexp.MustCompile(`^\d{6}$`)

func Default() Config {
	return Config{
		RuntimeName: "loqa-reader",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			TraceStdout:  true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4223,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://127.0.0.1:4223"},
			ConnectTimeout: 2000,
			RequestTimeout: 3000,
		},
		Node: NodeConfig{
			ID:                "loqa-reader-1",
			HeartbeatInterval: 5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-reader.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxUtterances: 10000,
		},
		Engine: EngineConfig{
			Mode:               "http",
			Host:               "127.0.0.1",
			Port:               10101,
			SpeakerID:          888753760,
			Speed:              1.0,
			Pitch:              0.0,
			Intonation:         1.9,
			Volume:             1.0,
			PostPhonemeLength:  0.1,
			QueryTimeoutMS:     10000,
			SynthesisTimeoutMS: 30000,
			FadeMS:             20,
		},
		Sanitizer: SanitizerConfig{
			Dictionary:      defaultDictionary(),
			RequireHiragana: true,
			MinLength:       5,
			SplitSentences:  true,
		},
		Pipeline: PipelineConfig{
			PostPause: 0.3,
		},
		Playback: PlaybackConfig{
			Backend:        "malgo",
			PollIntervalMS: 50,
			BufferMS:       200,
		},
		Archive: ArchiveConfig{
			Enabled:     true,
			Root:        "./Aivis_AudioLog",
			Artist:      "Aivis_Log_Source",
			AlbumPrefix: "Log",
			ArtworkPath: "cover.jpg",
		},
		Input: InputConfig{
			Clipboard: ClipboardConfig{
				Enabled:        true,
				Command:        "xclip -selection clipboard -o",
				PollIntervalMS: 500,
				StopCommand:    ";;STOP",
			},
		},
		Hotkeys: HotkeyConfig{
			Enabled: false,
			Stop:    "ctrl+alt+s",
			Skip:    "ctrl+alt+n",
			Pause:   "ctrl+alt+p",
		},
	}
}

func defaultDictionary() []DictionaryEntry {
	pairs := [][2]string{
		{"ChatGPT", "チャットジーピーティー"},
		{"Gemini", "ジェミニ"},
		{"Aivis", "アイビス"},
		{"Google", "グーグル"},
		{"YouTube", "ユーチューブ"},
		{"Amazon", "アマゾン"},
		{"MTG", "ミーティング"},
		{"KPI", "ケーピーアイ"},
		{"Q&A", "キューアンドエー"},
		{"ver.", "バージョン"},
		{"vol.", "ボリューム"},
		{"No.", "ナンバー"},
		{"fps", "エフピーエス"},
		{"Hz", "ヘルツ"},
		{"＆", "アンド"},
		{"&", "アンド"},
		{"％", "パーセント"},
		{"＋", "プラス"},
		{"日付", "ひづけ"},
		{"分間", "ふんかん"},
	}
	out := make([]DictionaryEntry, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, DictionaryEntry{Term: p[0], Reading: p[1]})
	}
	return out
}

// Load reads path (when non-empty), merges a sibling "<name>.local.yaml"
// overlay if one exists, applies environment overrides and validates.
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

		local := LocalPath(path)
		if data, err := os.ReadFile(local); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse local config %s: %w", local, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read local config %s: %w", local, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LocalPath returns the overlay path for a config file, e.g.
// reader.yaml -> reader.local.yaml.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Validate exposes validation for callers that mutate a loaded config.
func Validate(cfg Config) error {
	return validate(cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_READER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_READER_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_READER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_READER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_READER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_READER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_READER_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_READER_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Embedded, "LOQA_READER_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_READER_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_READER_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_READER_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_READER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_READER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_READER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_READER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_READER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_READER_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.RequestTimeout, "LOQA_READER_BUS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_READER_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_READER_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_READER_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_READER_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_READER_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxUtterances, "LOQA_READER_EVENT_STORE_MAX_UTTERANCES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_READER_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "LOQA_READER_ENGINE_MODE")
	overrideString(&cfg.Engine.Host, "LOQA_READER_ENGINE_HOST")
	overrideInt(&cfg.Engine.Port, "LOQA_READER_ENGINE_PORT")
	overrideInt(&cfg.Engine.SpeakerID, "LOQA_READER_ENGINE_SPEAKER_ID")
	overrideFloat(&cfg.Engine.Speed, "LOQA_READER_ENGINE_SPEED")
	overrideFloat(&cfg.Engine.Pitch, "LOQA_READER_ENGINE_PITCH")
	overrideFloat(&cfg.Engine.Intonation, "LOQA_READER_ENGINE_INTONATION")
	overrideFloat(&cfg.Engine.Volume, "LOQA_READER_ENGINE_VOLUME")
	overrideFloat(&cfg.Engine.PostPhonemeLength, "LOQA_READER_ENGINE_POST_PHONEME_LENGTH")
	overrideInt(&cfg.Engine.QueryTimeoutMS, "LOQA_READER_ENGINE_QUERY_TIMEOUT_MS")
	overrideInt(&cfg.Engine.SynthesisTimeoutMS, "LOQA_READER_ENGINE_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Engine.FadeMS, "LOQA_READER_ENGINE_FADE_MS")
	overrideBool(&cfg.Sanitizer.RequireHiragana, "LOQA_READER_SANITIZER_REQUIRE_HIRAGANA")
	overrideInt(&cfg.Sanitizer.MinLength, "LOQA_READER_SANITIZER_MIN_LENGTH")
	overrideBool(&cfg.Sanitizer.SplitSentences, "LOQA_READER_SANITIZER_SPLIT_SENTENCES")
	overrideFloat(&cfg.Pipeline.PostPause, "LOQA_READER_PIPELINE_POST_PAUSE")
	overrideString(&cfg.Playback.Backend, "LOQA_READER_PLAYBACK_BACKEND")
	overrideInt(&cfg.Playback.PollIntervalMS, "LOQA_READER_PLAYBACK_POLL_INTERVAL_MS")
	overrideInt(&cfg.Playback.BufferMS, "LOQA_READER_PLAYBACK_BUFFER_MS")
	overrideBool(&cfg.Archive.Enabled, "LOQA_READER_ARCHIVE_ENABLED")
	overrideString(&cfg.Archive.Root, "LOQA_READER_ARCHIVE_ROOT")
	overrideString(&cfg.Archive.Artist, "LOQA_READER_ARCHIVE_ARTIST")
	overrideString(&cfg.Archive.AlbumPrefix, "LOQA_READER_ARCHIVE_ALBUM_PREFIX")
	overrideString(&cfg.Archive.ArtworkPath, "LOQA_READER_ARCHIVE_ARTWORK_PATH")
	overrideString(&cfg.Archive.OverrideDate, "LOQA_READER_ARCHIVE_OVERRIDE_DATE")
	overrideBool(&cfg.Input.Clipboard.Enabled, "LOQA_READER_CLIPBOARD_ENABLED")
	overrideString(&cfg.Input.Clipboard.Command, "LOQA_READER_CLIPBOARD_COMMAND")
	overrideInt(&cfg.Input.Clipboard.PollIntervalMS, "LOQA_READER_CLIPBOARD_POLL_INTERVAL_MS")
	overrideString(&cfg.Input.Clipboard.StopCommand, "LOQA_READER_CLIPBOARD_STOP_COMMAND")
	overrideBool(&cfg.Hotkeys.Enabled, "LOQA_READER_HOTKEYS_ENABLED")
	overrideString(&cfg.Hotkeys.Stop, "LOQA_READER_HOTKEYS_STOP")
	overrideString(&cfg.Hotkeys.Skip, "LOQA_READER_HOTKEYS_SKIP")
	overrideString(&cfg.Hotkeys.Pause, "LOQA_READER_HOTKEYS_PAUSE")
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
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Bus.RequestTimeout <= 0 {
		return errors.New("bus.request_timeout_ms must be positive")
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Engine.Mode {
	case "http":
		if cfg.Engine.Host == "" {
			return errors.New("engine.host must not be empty")
		}
		if cfg.Engine.Port <= 0 || cfg.Engine.Port > 65535 {
			return errors.New("engine.port must be between 1 and 65535")
		}
	case "mock":
	default:
		return errors.New("engine.mode must be one of http|mock")
	}
	if cfg.Engine.QueryTimeoutMS <= 0 || cfg.Engine.SynthesisTimeoutMS <= 0 {
		return errors.New("engine timeouts must be positive")
	}
	if cfg.Engine.FadeMS < 0 {
		return errors.New("engine.fade_ms must be >= 0")
	}
	if cfg.Sanitizer.MinLength < 0 {
		return errors.New("sanitizer.min_length must be >= 0")
	}
	for _, entry := range cfg.Sanitizer.Dictionary {
		if entry.Term == "" {
			return errors.New("sanitizer.dictionary terms must not be empty")
		}
	}
	if cfg.Pipeline.PostPause < 0 {
		return errors.New("pipeline.post_pause must be >= 0")
	}
	switch cfg.Playback.Backend {
	case "malgo", "null":
	default:
		return errors.New("playback.backend must be one of malgo|null")
	}
	if cfg.Playback.PollIntervalMS <= 0 {
		return errors.New("playback.poll_interval_ms must be positive")
	}
	if cfg.Playback.BufferMS < cfg.Playback.PollIntervalMS {
		return errors.New("playback.buffer_ms must be >= poll_interval_ms")
	}
	if cfg.Archive.Enabled && cfg.Archive.Root == "" {
		return errors.New("archive.root must not be empty when archiving is enabled")
	}
	if cfg.Archive.OverrideDate != "" && !overrideDatePattern.MatchString(cfg.Archive.OverrideDate) {
		return errors.New("archive.override_date must be YYMMDD")
	}
	if cfg.Input.Clipboard.Enabled {
		if strings.TrimSpace(cfg.Input.Clipboard.Command) == "" {
			return errors.New("input.clipboard.command must be set when clipboard input is enabled")
		}
		if cfg.Input.Clipboard.PollIntervalMS <= 0 {
			return errors.New("input.clipboard.poll_interval_ms must be positive")
		}
	}
	return nil
}
