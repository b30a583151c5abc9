// Package config resolves process configuration from an optional YAML file
// overlaid with environment variables (spec.md §6 "Configuration keys").
// Environment variables always win over the file, matching the override
// order operators expect from a twelve-factor deployment.
//
// No single teacher file does exactly this; the env-var posture (read once
// at startup, sensible defaults, no redundant validation layer) matches
// runtime/toolregistry/executor/executor.go's os.Getenv usage, and the file
// overlay uses gopkg.in/yaml.v3, already part of the teacher's dependency
// set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runflow/engine/workflow"
)

// Mode selects which workflow.Engine backend a process wires up.
type Mode string

const (
	ModeInMemory Mode = "inmem"
	ModeTemporal Mode = "temporal"
)

// Config is the full set of values spec.md §6 names.
type Config struct {
	Mode Mode `yaml:"mode"`

	EventStoreURL string `yaml:"event_store_url"`

	GlobalConcurrency int     `yaml:"global_concurrency"`
	TenantConcurrency int     `yaml:"tenant_concurrency"`
	RunModelBudget    float64 `yaml:"run_model_budget"`

	CacheRetrieval     bool `yaml:"cache_retrieval"`
	CacheToolResults   bool `yaml:"cache_tool_results"`
	ClearDataOnStartup bool `yaml:"clear_data_on_startup"`

	// StepPolicies overrides workflow.DefaultPolicies() per step, keyed the
	// way MAX_ATTEMPTS_<STEP>/BACKOFF_BASE_<STEP> env vars name steps.
	StepPolicies map[workflow.Step]workflow.StepPolicy `yaml:"-"`

	TemporalHostPort  string `yaml:"temporal_host_port"`
	TemporalNamespace string `yaml:"temporal_namespace"`
	TemporalTaskQueue string `yaml:"temporal_task_queue"`
}

// Default returns the conservative baseline every field falls back to
// before the file and environment are applied.
func Default() Config {
	return Config{
		Mode:              ModeInMemory,
		EventStoreURL:     "",
		GlobalConcurrency: 0,
		TenantConcurrency: 0,
		RunModelBudget:    0,
		CacheRetrieval:    true,
		CacheToolResults:  true,
		StepPolicies:      workflow.DefaultPolicies(),
		TemporalHostPort:  "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "runflow.engine",
	}
}

// Load resolves Config starting from Default, overlaying path's YAML
// contents if path is non-empty and the file exists, then overlaying
// environment variables. Environment variables take precedence over both.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("MODE"); ok {
		cfg.Mode = Mode(v)
	}
	if v, ok := os.LookupEnv("EVENT_STORE_URL"); ok {
		cfg.EventStoreURL = v
	}
	if v, ok := envInt("GLOBAL_CONCURRENCY"); ok {
		cfg.GlobalConcurrency = v
	}
	if v, ok := envInt("TENANT_CONCURRENCY"); ok {
		cfg.TenantConcurrency = v
	}
	if v, ok := envFloat("RUN_MODEL_BUDGET"); ok {
		cfg.RunModelBudget = v
	}
	if v, ok := envBool("CACHE_RETRIEVAL"); ok {
		cfg.CacheRetrieval = v
	}
	if v, ok := envBool("CACHE_TOOL_RESULTS"); ok {
		cfg.CacheToolResults = v
	}
	if v, ok := envBool("CLEAR_DATA_ON_STARTUP"); ok {
		cfg.ClearDataOnStartup = v
	}
	if v, ok := os.LookupEnv("TEMPORAL_HOST_PORT"); ok {
		cfg.TemporalHostPort = v
	}
	if v, ok := os.LookupEnv("TEMPORAL_NAMESPACE"); ok {
		cfg.TemporalNamespace = v
	}
	if v, ok := os.LookupEnv("TEMPORAL_TASK_QUEUE"); ok {
		cfg.TemporalTaskQueue = v
	}

	if cfg.StepPolicies == nil {
		cfg.StepPolicies = workflow.DefaultPolicies()
	}
	for _, step := range workflow.Order {
		policy := cfg.StepPolicies[step]
		key := strings.ToUpper(string(step))
		if v, ok := envInt("MAX_ATTEMPTS_" + key); ok {
			policy.MaxAttempts = v
		}
		if v, ok := envDuration("BACKOFF_BASE_" + key); ok {
			policy.BackoffBase = v
		}
		cfg.StepPolicies[step] = policy
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envDuration(key string) (time.Duration, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
