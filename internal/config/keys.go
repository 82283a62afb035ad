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
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "TICKETRAG_DATA_RAW_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Data.RawDir = v.(string) },
	},
	{
		env: "TICKETRAG_DATA_PROCESSED_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Data.ProcessedDir = v.(string) },
	},
	{
		env: "TICKETRAG_DATA_CHUNK_LOG_PATH", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Data.ChunkLogPath = v.(string) },
	},
	{
		env: "TICKETRAG_DATA_INDEX_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Data.IndexDir = v.(string) },
	},
	{
		env: "TICKETRAG_DATA_STATE_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Data.StateDir = v.(string) },
	},
	{
		env: "TICKETRAG_OLLAMA_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
	},
	{
		env: "TICKETRAG_OLLAMA_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
	},
	{
		env: "TICKETRAG_OLLAMA_GENERATION_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Ollama.GenerationModel = v.(string) },
	},
	{
		env: "TICKETRAG_CHUNKING_MAX_WORDS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunking.MaxWords = v.(int) },
	},
	{
		env: "TICKETRAG_CHUNKING_OVERLAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
	},
	{
		env: "TICKETRAG_CHUNKING_INCLUDE_NOTES", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunking.IncludeNotes = v.(int) },
	},
	{
		env: "TICKETRAG_RETRIEVAL_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		env: "TICKETRAG_RETRIEVAL_ANSWER_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.AnswerTopK = v.(int) },
	},
	{
		env: "TICKETRAG_RETRIEVAL_BATCH_SIZE", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.BatchSize = v.(int) },
	},
	{
		env: "TICKETRAG_RETRIEVAL_MAX_CONTEXT_CHARS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.MaxContextChars = v.(int) },
	},
	{
		env: "TICKETRAG_RETRIEVAL_SAVE_RAW_VECTORS", typ: kBool,
		apply: func(cfg *Config, v any) { cfg.Retrieval.SaveRawVectors = v.(bool) },
	},
	{
		env: "TICKETRAG_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "TICKETRAG_SERVER_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		env: "TICKETRAG_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
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
