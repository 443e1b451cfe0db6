package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/objective-cascade/internal/data/db"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/pipeline"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/query"
	"github.com/yungbote/objective-cascade/internal/observability"
	"github.com/yungbote/objective-cascade/internal/platform/envutil"
	"github.com/yungbote/objective-cascade/internal/platform/neo4jdb"
	"github.com/yungbote/objective-cascade/internal/platform/redisdb"
	"github.com/yungbote/objective-cascade/internal/temporalx"
)

const (
	BackendMemory   = "memory"
	BackendNeo4j    = "neo4j"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendRedis    = "redis"
)

type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	LogMode        string   `yaml:"log_mode"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MetricsEnabled bool     `yaml:"metrics_enabled"`

	Graph    GraphConfig    `yaml:"graph"`
	Progress ProgressConfig `yaml:"progress"`
	Lock     BackendConfig  `yaml:"lock"`
	Bus      BusConfig      `yaml:"bus"`
	Redis    redisdb.Config `yaml:"redis"`

	Temporal temporalx.Config         `yaml:"temporal"`
	Otel     observability.OtelConfig `yaml:"otel"`
	Engine   EngineConfig             `yaml:"engine"`
}

type BackendConfig struct {
	Backend string `yaml:"backend"`
}

type GraphConfig struct {
	Backend string         `yaml:"backend"`
	Neo4j   neo4jdb.Config `yaml:"neo4j"`
}

type ProgressConfig struct {
	Backend  string    `yaml:"backend"`
	Postgres db.Config `yaml:"postgres"`
}

type BusConfig struct {
	Backend string `yaml:"backend"`
	Buffer  int    `yaml:"buffer"`
}

type EngineConfig struct {
	pipeline.Config `yaml:",inline"`

	LockTTL            time.Duration `yaml:"lock_ttl"`
	LockWait           time.Duration `yaml:"lock_wait"`
	ProgressMaxRetries int           `yaml:"progress_max_retries"`
	Recommend          query.Config  `yaml:"recommend"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr: ":8080",
		LogMode:  "development",
		Graph:    GraphConfig{Backend: BackendMemory},
		Progress: ProgressConfig{Backend: BackendMemory},
		Lock:     BackendConfig{Backend: BackendLocal},
		Bus:      BusConfig{Backend: BackendLocal, Buffer: 256},
		Otel:     observability.OtelConfig{ServiceName: "objective-cascade"},
		Engine: EngineConfig{
			Config: pipeline.Config{
				MaxQuestObjectives:   3,
				MaxResourcesPerScene: 4,
				RedundancyFloor:      2,
				StoreRetryAttempts:   3,
				StoreRetryBase:       100 * time.Millisecond,
				Parallelism:          4,
			},
			LockTTL:            2 * time.Minute,
			LockWait:           30 * time.Second,
			ProgressMaxRetries: 5,
			Recommend:          query.Config{ObjectiveWeight: 10, DimensionBonus: 1},
		},
	}
}

// LoadConfig reads the optional YAML file at path, then applies environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	cfg.HTTPAddr = envutil.String("HTTP_ADDR", cfg.HTTPAddr)
	if port := envutil.String("PORT", ""); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	if origins := envutil.String("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.MetricsEnabled = envutil.Bool("METRICS_ENABLED", cfg.MetricsEnabled)

	cfg.Graph.Backend = envutil.String("GRAPH_BACKEND", cfg.Graph.Backend)
	cfg.Graph.Neo4j = neo4jdb.ConfigFromEnv(cfg.Graph.Neo4j)
	cfg.Progress.Backend = envutil.String("PROGRESS_BACKEND", cfg.Progress.Backend)
	cfg.Progress.Postgres = db.ConfigFromEnv(cfg.Progress.Postgres)
	cfg.Lock.Backend = envutil.String("LOCK_BACKEND", cfg.Lock.Backend)
	cfg.Bus.Backend = envutil.String("BUS_BACKEND", cfg.Bus.Backend)
	cfg.Redis = redisdb.ConfigFromEnv(cfg.Redis)

	cfg.Temporal = temporalx.LoadConfig(cfg.Temporal)
	cfg.Otel = observability.OtelConfigFromEnv(cfg.Otel)

	e := &cfg.Engine
	e.MaxQuestObjectives = envutil.Int("ENGINE_MAX_QUEST_OBJECTIVES", e.MaxQuestObjectives)
	e.MaxResourcesPerScene = envutil.Int("ENGINE_MAX_RESOURCES_PER_SCENE", e.MaxResourcesPerScene)
	e.RedundancyFloor = envutil.Int("ENGINE_REDUNDANCY_FLOOR", e.RedundancyFloor)
	e.StoreRetryAttempts = envutil.Int("ENGINE_STORE_RETRY_ATTEMPTS", e.StoreRetryAttempts)
	e.StoreRetryBase = envutil.Duration("ENGINE_STORE_RETRY_BASE", e.StoreRetryBase)
	e.Parallelism = envutil.Int("ENGINE_PARALLELISM", e.Parallelism)
	e.LockTTL = envutil.Duration("ENGINE_LOCK_TTL", e.LockTTL)
	e.LockWait = envutil.Duration("ENGINE_LOCK_WAIT", e.LockWait)
	e.ProgressMaxRetries = envutil.Int("ENGINE_PROGRESS_MAX_RETRIES", e.ProgressMaxRetries)
	e.Recommend.ObjectiveWeight = envutil.Int("ENGINE_RECOMMEND_OBJECTIVE_WEIGHT", e.Recommend.ObjectiveWeight)
	e.Recommend.DimensionBonus = envutil.Int("ENGINE_RECOMMEND_DIMENSION_BONUS", e.Recommend.DimensionBonus)
	return cfg
}

func (c Config) Validate() error {
	if err := oneOf("graph.backend", c.Graph.Backend, BackendMemory, BackendNeo4j); err != nil {
		return err
	}
	if err := oneOf("progress.backend", c.Progress.Backend, BackendMemory, BackendPostgres); err != nil {
		return err
	}
	if err := oneOf("lock.backend", c.Lock.Backend, BackendLocal, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("bus.backend", c.Bus.Backend, BackendLocal, BackendRedis); err != nil {
		return err
	}
	if c.Graph.Backend == BackendNeo4j && strings.TrimSpace(c.Graph.Neo4j.URI) == "" {
		return fmt.Errorf("config: graph.neo4j.uri required for neo4j backend")
	}
	if c.Progress.Backend == BackendPostgres && !c.Progress.Postgres.Enabled() {
		return fmt.Errorf("config: progress.postgres dsn or host required for postgres backend")
	}
	if (c.Lock.Backend == BackendRedis || c.Bus.Backend == BackendRedis) && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("config: redis.addr required for redis lock or bus")
	}
	e := c.Engine
	if e.MaxResourcesPerScene < 1 || e.MaxQuestObjectives < 2 {
		return fmt.Errorf("config: engine.max_resources_per_scene must be >= 1 and engine.max_quest_objectives >= 2")
	}
	if e.RedundancyFloor < 2 {
		return fmt.Errorf("config: engine.redundancy_floor must be >= 2")
	}
	if e.Recommend.ObjectiveWeight <= 0 || e.Recommend.DimensionBonus < 0 ||
		e.Recommend.DimensionBonus >= e.Recommend.ObjectiveWeight {
		return fmt.Errorf("config: engine.recommend.dimension_bonus (%d) must be below objective_weight (%d)",
			e.Recommend.DimensionBonus, e.Recommend.ObjectiveWeight)
	}
	return nil
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s=%q must be one of %s", key, v, strings.Join(allowed, "|"))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
