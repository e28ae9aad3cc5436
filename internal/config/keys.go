package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RECALL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "RECALL_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "ollama.enabled", typ: kBool, env: "RECALL_OLLAMA_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ollama.Enabled },
	},
	{
		key: "ollama.base_url", typ: kString, env: "RECALL_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.vision_model", typ: kString, env: "RECALL_OLLAMA_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.VisionModel },
	},
	{
		key: "ollama.text_model", typ: kString, env: "RECALL_OLLAMA_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.TextModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "RECALL_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RECALL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.notes_dir", typ: kString, env: "RECALL_STORAGE_NOTES_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.NotesDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.NotesDir },
	},
	{
		key: "pipeline.ingest_interval_sec", typ: kInt, env: "RECALL_PIPELINE_INGEST_INTERVAL_SEC",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.IngestIntervalSec = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.IngestIntervalSec },
	},
	{
		key: "pipeline.group_interval_sec", typ: kInt, env: "RECALL_PIPELINE_GROUP_INTERVAL_SEC",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.GroupIntervalSec = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.GroupIntervalSec },
	},
	{
		key: "pipeline.index_interval_sec", typ: kInt, env: "RECALL_PIPELINE_INDEX_INTERVAL_SEC",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.IndexIntervalSec = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.IndexIntervalSec },
	},
	{
		key: "pipeline.habit_interval_sec", typ: kInt, env: "RECALL_PIPELINE_HABIT_INTERVAL_SEC",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.HabitIntervalSec = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.HabitIntervalSec },
	},
	{
		key: "pipeline.summary_hour", typ: kInt, env: "RECALL_PIPELINE_SUMMARY_HOUR",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.SummaryHour = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.SummaryHour },
	},
	{
		key: "pipeline.summary_weekly", typ: kBool, env: "RECALL_PIPELINE_SUMMARY_WEEKLY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.SummaryWeekly = v.(bool) },
		extract: func(cfg Config) any { return cfg.Pipeline.SummaryWeekly },
	},
	{
		key: "pipeline.summary_monthly", typ: kBool, env: "RECALL_PIPELINE_SUMMARY_MONTHLY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.SummaryMonthly = v.(bool) },
		extract: func(cfg Config) any { return cfg.Pipeline.SummaryMonthly },
	},
	{
		key: "pipeline.batch_size", typ: kInt, env: "RECALL_PIPELINE_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.BatchSize },
	},
	{
		key: "log.level", typ: kString, env: "RECALL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
