package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "PORT", "LOG_MODE", "GRAPH_BACKEND", "PROGRESS_BACKEND", "LOCK_BACKEND", "BUS_BACKEND",
		"REDIS_ADDR", "NEO4J_URI", "POSTGRES_DSN", "POSTGRES_HOST", "TEMPORAL_ENABLED", "OTEL_ENABLED",
		"ENGINE_MAX_RESOURCES_PER_SCENE", "ENGINE_RECOMMEND_OBJECTIVE_WEIGHT", "ENGINE_RECOMMEND_DIMENSION_BONUS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Graph.Backend != BackendMemory || cfg.Lock.Backend != BackendLocal {
		t.Fatalf("backends = %+v %+v", cfg.Graph, cfg.Lock)
	}
	e := cfg.Engine
	if e.MaxResourcesPerScene != 4 || e.RedundancyFloor != 2 || e.MaxQuestObjectives != 3 {
		t.Fatalf("engine defaults = %+v", e)
	}
	if e.StoreRetryAttempts != 3 || e.StoreRetryBase != 100*time.Millisecond || e.LockTTL != 2*time.Minute {
		t.Fatalf("retry defaults = %+v", e)
	}
	if e.Recommend.ObjectiveWeight != 10 || e.Recommend.DimensionBonus != 1 {
		t.Fatalf("recommend defaults = %+v", e.Recommend)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cascade.yaml")
	body := `
http_addr: ":9000"
engine:
  max_resources_per_scene: 6
  store_retry_base: 250ms
  recommend:
    objective_weight: 20
    dimension_bonus: 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENGINE_MAX_RESOURCES_PER_SCENE", "5")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.Engine.MaxResourcesPerScene != 5 {
		t.Fatalf("env override lost: %d", cfg.Engine.MaxResourcesPerScene)
	}
	if cfg.Engine.StoreRetryBase != 250*time.Millisecond {
		t.Fatalf("store_retry_base = %v", cfg.Engine.StoreRetryBase)
	}
	if cfg.Engine.Recommend.ObjectiveWeight != 20 || cfg.Engine.Recommend.DimensionBonus != 3 {
		t.Fatalf("recommend = %+v", cfg.Engine.Recommend)
	}
	if cfg.Engine.RedundancyFloor != 2 {
		t.Fatalf("unset keys must keep defaults: %d", cfg.Engine.RedundancyFloor)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bonus not below weight", func(c *Config) { c.Engine.Recommend.DimensionBonus = 10 }, "dimension_bonus"},
		{"unknown graph backend", func(c *Config) { c.Graph.Backend = "sqlite" }, "graph.backend"},
		{"neo4j without uri", func(c *Config) { c.Graph.Backend = BackendNeo4j }, "neo4j.uri"},
		{"redis lock without addr", func(c *Config) { c.Lock.Backend = BackendRedis }, "redis.addr"},
		{"postgres without dsn", func(c *Config) { c.Progress.Backend = BackendPostgres }, "postgres"},
		{"redundancy floor", func(c *Config) { c.Engine.RedundancyFloor = 1 }, "redundancy_floor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
