package config

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	// Enabled controls whether an AI client is attached at startup; the
	// pipeline runs degraded without one.
	Enabled     bool
	BaseURL     string
	VisionModel string
	TextModel   string
	EmbedModel  string
}

type StorageConfig struct {
	DataDir  string
	NotesDir string
}

type PipelineConfig struct {
	IngestIntervalSec int
	GroupIntervalSec  int
	IndexIntervalSec  int
	HabitIntervalSec  int
	SummaryHour       int
	SummaryWeekly     bool
	SummaryMonthly    bool
	BatchSize         int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Ollama: OllamaConfig{
			Enabled:     true,
			BaseURL:     "http://localhost:11434",
			VisionModel: "llava",
			TextModel:   "mistral-nemo",
			EmbedModel:  "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Pipeline: PipelineConfig{
			IngestIntervalSec: 90,
			GroupIntervalSec:  1800,
			IndexIntervalSec:  600,
			HabitIntervalSec:  86400,
			SummaryHour:       23,
			BatchSize:         10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/recall/config.json with environment variable
// (RECALL_*) overrides applied on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	cfg.normalize()
	return cfg, nil
}

// normalize fills derived defaults that depend on other fields.
func (c *Config) normalize() {
	if c.Storage.NotesDir == "" {
		c.Storage.NotesDir = defaultNotesDir(c.Storage.DataDir)
	}
}
