package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath  string
	CLILLM      string
	CLIEmbed    string
	CLIDBPath   string
	CLIReranker string
}

// ResolvedConfig is the fully layered view of every tunable in the
// recommender pipeline: catalog storage, embedding and chat providers per
// role, reranker behaviour, and the ingestion surface's shared secret.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	CatalogDBPath ResolvedValue `json:"catalog_db_path"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedModel    ResolvedValue `json:"embed_model"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`

	LLMProvider     ResolvedValue `json:"llm_provider"`
	LLMExtractModel ResolvedValue `json:"llm_extract_model"`
	LLMReflectModel ResolvedValue `json:"llm_reflect_model"`
	LLMRerankModel  ResolvedValue `json:"llm_rerank_model"`

	RerankerModel    ResolvedValue `json:"reranker_model"`
	RerankCandidates ResolvedValue `json:"rerank_candidates"`

	IngestToken ResolvedValue `json:"ingest_token"`

	EnableReflectionLLMRerank ResolvedValue `json:"enable_reflection_llm_rerank"`
	ReflectionRerankTop       ResolvedValue `json:"reflection_rerank_top"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	CatalogDBPath string `yaml:"catalog_db_path"`
	LLM           struct {
		Provider     string `yaml:"provider"`
		APIKey       string `yaml:"api_key"`
		ExtractModel string `yaml:"extract_model"`
		ReflectModel string `yaml:"reflect_model"`
		RerankModel  string `yaml:"rerank_model"`
	} `yaml:"llm"`
	Embed struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"embed"`
	Reranker struct {
		Model      string `yaml:"model"`
		Candidates int    `yaml:"candidates"`
	} `yaml:"reranker"`
	Ingest struct {
		Token string `yaml:"token"`
	} `yaml:"ingest"`
	Reflection struct {
		EnableLLMRerank bool `yaml:"enable_llm_rerank"`
		RerankTop       int  `yaml:"rerank_top"`
	} `yaml:"reflection"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mbsagent", "config.yaml")
}

// ResolveConfig layers file, environment, and CLI-flag sources in
// increasing precedence: config file values apply first, environment
// variables override them, and explicit CLI flags override both.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.CatalogDBPath, cfg.CatalogDBPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMExtractModel, cfg.LLM.ExtractModel, SourceConfig, path)
		apply(&out.LLMReflectModel, cfg.LLM.ReflectModel, SourceConfig, path)
		apply(&out.LLMRerankModel, cfg.LLM.RerankModel, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedModel, cfg.Embed.Model, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.RerankerModel, cfg.Reranker.Model, SourceConfig, path)
		if cfg.Reranker.Candidates > 0 {
			apply(&out.RerankCandidates, strconv.Itoa(cfg.Reranker.Candidates), SourceConfig, path)
		}
		apply(&out.IngestToken, cfg.Ingest.Token, SourceConfig, path)
		if cfg.Reflection.EnableLLMRerank {
			apply(&out.EnableReflectionLLMRerank, "true", SourceConfig, path)
		}
		if cfg.Reflection.RerankTop > 0 {
			apply(&out.ReflectionRerankTop, strconv.Itoa(cfg.Reflection.RerankTop), SourceConfig, path)
		}

		if key := strings.TrimSpace(cfg.Embed.APIKey); key != "" {
			out.EmbedAPIKey = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			providers := map[string]struct{}{}
			for _, v := range []string{cfg.LLM.Provider, cfg.LLM.ExtractModel, cfg.LLM.ReflectModel, cfg.LLM.RerankModel} {
				p := providerOf(v)
				if p != "" {
					providers[p] = struct{}{}
				}
			}
			if len(providers) == 0 {
				providers["default"] = struct{}{}
			}
			for p := range providers {
				out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
			}
		}
	}

	applyEnv(&out.CatalogDBPath, "MBSAGENT_DB")
	applyEnv(&out.CatalogDBPath, "MBSAGENT_DB_PATH")

	applyEnv(&out.LLMProvider, "MBSAGENT_LLM")
	applyEnv(&out.LLMExtractModel, "MBSAGENT_LLM_EXTRACT")
	applyEnv(&out.LLMReflectModel, "MBSAGENT_LLM_REFLECT")
	applyEnv(&out.LLMRerankModel, "MBSAGENT_LLM_RERANK")

	applyEnv(&out.EmbedProvider, "MBSAGENT_EMBED")
	applyEnv(&out.EmbedModel, "MBSAGENT_EMBED_MODEL")
	applyEnv(&out.EmbedEndpoint, "MBSAGENT_EMBED_ENDPOINT")
	if v := strings.TrimSpace(os.Getenv("MBSAGENT_EMBED_API_KEY")); v != "" {
		out.EmbedAPIKey = ResolvedValue{Value: v, Source: SourceEnv, From: "MBSAGENT_EMBED_API_KEY"}
	}

	applyEnv(&out.RerankerModel, "MBSAGENT_RERANKER_MODEL")
	applyEnv(&out.RerankCandidates, "RERANK_CANDIDATES")
	applyEnv(&out.IngestToken, "MBSAGENT_INGEST_TOKEN")
	applyEnv(&out.EnableReflectionLLMRerank, "ENABLE_REFLECTION_LLM_RERANK")
	applyEnv(&out.ReflectionRerankTop, "REFLECTION_RERANK_TOP")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
		"DEEPSEEK_API_KEY":   "deepseek",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.CatalogDBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.RerankerModel, opts.CLIReranker, SourceCLI, "--reranker")

	if out.CatalogDBPath.Value != "" {
		out.CatalogDBPath.Value = expandUserPath(out.CatalogDBPath.Value)
	}

	return out, nil
}

// EffectiveLLMModel picks the model string for a pipeline role (extract,
// reflect, rerank), falling back to the general LLM provider and finally
// to a caller-supplied built-in default.
func (r ResolvedConfig) EffectiveLLMModel(role, fallback string) ResolvedValue {
	role = strings.ToLower(strings.TrimSpace(role))

	var candidates []ResolvedValue
	switch role {
	case "extract":
		candidates = append(candidates, r.LLMExtractModel)
	case "reflect":
		candidates = append(candidates, r.LLMReflectModel)
	case "rerank":
		candidates = append(candidates, r.LLMRerankModel)
	}
	candidates = append(candidates, r.LLMProvider)

	for _, c := range candidates {
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		if strings.Contains(c.Value, "/") {
			return c
		}
		if fallback != "" && strings.HasPrefix(strings.ToLower(fallback), strings.ToLower(strings.TrimSpace(c.Value))+"/") {
			return ResolvedValue{Value: fallback, Source: c.Source, From: c.From}
		}
	}

	if strings.TrimSpace(fallback) != "" {
		return ResolvedValue{Value: fallback, Source: SourceDefault, From: "built-in default"}
	}
	return ResolvedValue{}
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// RerankCandidatesInt returns the candidate pool size, or def if unset or
// unparseable.
func (r ResolvedConfig) RerankCandidatesInt(def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.RerankCandidates.Value))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ReflectionRerankTopInt returns the reflection rerank top-N, or def if
// unset or unparseable.
func (r ResolvedConfig) ReflectionRerankTopInt(def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.ReflectionRerankTop.Value))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ReflectionLLMRerankEnabled reports whether LLM-assisted reflection
// reranking is on.
func (r ResolvedConfig) ReflectionLLMRerankEnabled() bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.EnableReflectionLLMRerank.Value))
	return err == nil && v
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
