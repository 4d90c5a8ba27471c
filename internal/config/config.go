// Package config provides the single configuration struct for a
// quadracode runtime process: Defaults() plus per-field environment-variable
// overrides applied by Load. Fields carry yaml tags, but no YAML file is
// read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// CuratorMode selects the curator's decision strategy.
type CuratorMode string

// Curator modes.
const (
	CuratorModeHeuristic CuratorMode = "heuristic"
	CuratorModeLLM       CuratorMode = "llm"
)

// ScorerMode selects the quality-scoring strategy.
type ScorerMode string

// Scorer modes.
const (
	ScorerModeHeuristic ScorerMode = "heuristic"
	ScorerModeLLM       ScorerMode = "llm"
)

// Config is the umbrella configuration object for one runtime process.
// Load overrides fields from environment variables, except
// ShutdownGracePeriod, MailboxBatchSize, MailboxReadTimeout,
// DeadLetterRetention, DeadLetterMaxRetries, FleetLivenessTimeout and
// FleetLivenessPollInterval, which always keep their Defaults() values.
type Config struct {
	ContextWindowMax         int           `yaml:"context_window_max"`
	OptimalContextSize       int           `yaml:"optimal_context_size"`
	MessagesBudgetRatio      float64       `yaml:"messages_budget_ratio"`
	MinCompressCount         int           `yaml:"min_compress_count"`
	RetentionCount           int           `yaml:"retention_count"`
	MaxToolPayloadChars      int           `yaml:"max_tool_payload_chars"`
	GovernorMaxSegments      int           `yaml:"governor_max_segments"`
	QualityThreshold         float64       `yaml:"quality_threshold"`
	CriticalPriority         int           `yaml:"critical_priority"`
	ReducerModel             string        `yaml:"reducer_model"`
	CuratorMode              CuratorMode   `yaml:"curator_mode"`
	ScorerMode               ScorerMode    `yaml:"scorer_mode"`
	RegistryURL              string        `yaml:"registry_url"`
	RegistryTimeoutS         int           `yaml:"registry_timeout_s"`
	HeartbeatIntervalS       int           `yaml:"heartbeat_interval_s"`
	AgentHealthTimeoutS      int           `yaml:"agent_health_timeout_s"`
	SnapshotRetention        int           `yaml:"snapshot_retention"`
	ExternalizeWriteEnabled  bool          `yaml:"externalize_write_enabled"`
	TimeTravelDir            string        `yaml:"time_travel_dir"`
	AutonomousMaxIterations  int           `yaml:"autonomous_max_iterations"`
	AutonomousRuntimeCeiling time.Duration `yaml:"autonomous_runtime_ceiling"`

	// StrictInvariants selects PRP transition enforcement (spec §7): strict
	// rejects invalid transitions outright; lenient logs an
	// invariant_violation and leaves state unchanged.
	StrictInvariants bool `yaml:"strict_invariants"`

	// Ambient/runtime fields not in spec §6's literal list but required to
	// run the process — mirrors the teacher's SystemYAMLConfig split.
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	MailboxBatchSize     int           `yaml:"mailbox_batch_size"`
	MailboxReadTimeout   time.Duration `yaml:"mailbox_read_timeout"`
	RedisAddr            string        `yaml:"redis_addr"`
	PostgresDSN          string        `yaml:"postgres_dsn"`
	LLMServiceAddr       string        `yaml:"llm_service_addr"`
	DeadLetterRetention  int           `yaml:"dead_letter_retention"`
	DeadLetterMaxRetries int           `yaml:"dead_letter_max_retries"`

	// Fleet Controller (C11) settings for spawn/teardown of agent
	// containers, mirroring the teacher's SystemYAMLConfig split for
	// ambient infra fields not named explicitly in spec §6.
	FleetDefaultImage         string        `yaml:"fleet_default_image"`
	FleetNetworkName          string        `yaml:"fleet_network_name"`
	FleetLivenessTimeout      time.Duration `yaml:"fleet_liveness_timeout"`
	FleetLivenessPollInterval time.Duration `yaml:"fleet_liveness_poll_interval"`
}

// Defaults returns a Config populated with the system defaults, mirroring
// the teacher's Defaults struct pattern (pkg/config/defaults.go).
func Defaults() *Config {
	return &Config{
		ContextWindowMax:        200_000,
		OptimalContextSize:      120_000,
		MessagesBudgetRatio:     0.6,
		MinCompressCount:        40,
		RetentionCount:          10,
		MaxToolPayloadChars:     16_000,
		GovernorMaxSegments:     24,
		QualityThreshold:        0.6,
		CriticalPriority:        9,
		ReducerModel:            "reducer-default",
		CuratorMode:             CuratorModeHeuristic,
		ScorerMode:              ScorerModeHeuristic,
		RegistryURL:             "http://localhost:8090",
		RegistryTimeoutS:        5,
		HeartbeatIntervalS:      15,
		AgentHealthTimeoutS:     45,
		SnapshotRetention:       5,
		ExternalizeWriteEnabled: true,
		TimeTravelDir:           "./time_travel",
		AutonomousMaxIterations:  50,
		AutonomousRuntimeCeiling: 2 * time.Hour,
		StrictInvariants:         true,
		ShutdownGracePeriod:     30 * time.Second,
		MailboxBatchSize:        16,
		MailboxReadTimeout:      5 * time.Second,
		RedisAddr:               "localhost:6379",
		PostgresDSN:             "postgres://localhost:5432/quadracode?sslmode=disable",
		LLMServiceAddr:          "localhost:50051",
		DeadLetterRetention:     1000,
		DeadLetterMaxRetries:    5,
		FleetDefaultImage:       "quadracode/agent:latest",
		FleetNetworkName:        "quadracode",
		FleetLivenessTimeout:    30 * time.Second,
		FleetLivenessPollInterval: 500 * time.Millisecond,
	}
}

// Load returns Defaults() with each field in the table below overridden by
// its environment variable (QUADRACODE_<UPPER_SNAKE_FIELD>) when set and
// non-empty. The fields Config lists as not read keep their defaults.
func Load() (*Config, error) {
	cfg := Defaults()

	overrides := []struct {
		env    string
		assign func(string) error
	}{
		{"QUADRACODE_CONTEXT_WINDOW_MAX", intAssign(&cfg.ContextWindowMax)},
		{"QUADRACODE_OPTIMAL_CONTEXT_SIZE", intAssign(&cfg.OptimalContextSize)},
		{"QUADRACODE_MESSAGES_BUDGET_RATIO", floatAssign(&cfg.MessagesBudgetRatio)},
		{"QUADRACODE_MIN_COMPRESS_COUNT", intAssign(&cfg.MinCompressCount)},
		{"QUADRACODE_RETENTION_COUNT", intAssign(&cfg.RetentionCount)},
		{"QUADRACODE_MAX_TOOL_PAYLOAD_CHARS", intAssign(&cfg.MaxToolPayloadChars)},
		{"QUADRACODE_GOVERNOR_MAX_SEGMENTS", intAssign(&cfg.GovernorMaxSegments)},
		{"QUADRACODE_QUALITY_THRESHOLD", floatAssign(&cfg.QualityThreshold)},
		{"QUADRACODE_CRITICAL_PRIORITY", intAssign(&cfg.CriticalPriority)},
		{"QUADRACODE_REDUCER_MODEL", stringAssign(&cfg.ReducerModel)},
		{"QUADRACODE_CURATOR_MODE", curatorModeAssign(&cfg.CuratorMode)},
		{"QUADRACODE_SCORER_MODE", scorerModeAssign(&cfg.ScorerMode)},
		{"QUADRACODE_REGISTRY_URL", stringAssign(&cfg.RegistryURL)},
		{"QUADRACODE_REGISTRY_TIMEOUT_S", intAssign(&cfg.RegistryTimeoutS)},
		{"QUADRACODE_HEARTBEAT_INTERVAL_S", intAssign(&cfg.HeartbeatIntervalS)},
		{"QUADRACODE_AGENT_HEALTH_TIMEOUT_S", intAssign(&cfg.AgentHealthTimeoutS)},
		{"QUADRACODE_SNAPSHOT_RETENTION", intAssign(&cfg.SnapshotRetention)},
		{"QUADRACODE_EXTERNALIZE_WRITE_ENABLED", boolAssign(&cfg.ExternalizeWriteEnabled)},
		{"QUADRACODE_TIME_TRAVEL_DIR", stringAssign(&cfg.TimeTravelDir)},
		{"QUADRACODE_AUTONOMOUS_MAX_ITERATIONS", intAssign(&cfg.AutonomousMaxIterations)},
		{"QUADRACODE_AUTONOMOUS_RUNTIME_CEILING", func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			cfg.AutonomousRuntimeCeiling = d
			return nil
		}},
		{"QUADRACODE_STRICT_INVARIANTS", boolAssign(&cfg.StrictInvariants)},
		{"QUADRACODE_REDIS_ADDR", stringAssign(&cfg.RedisAddr)},
		{"QUADRACODE_POSTGRES_DSN", stringAssign(&cfg.PostgresDSN)},
		{"QUADRACODE_LLM_SERVICE_ADDR", stringAssign(&cfg.LLMServiceAddr)},
		{"QUADRACODE_FLEET_DEFAULT_IMAGE", stringAssign(&cfg.FleetDefaultImage)},
		{"QUADRACODE_FLEET_NETWORK_NAME", stringAssign(&cfg.FleetNetworkName)},
	}

	for _, o := range overrides {
		v, ok := os.LookupEnv(o.env)
		if !ok || v == "" {
			continue
		}
		if err := o.assign(v); err != nil {
			return nil, fmt.Errorf("config: invalid value for %s: %w", o.env, err)
		}
	}

	return cfg, nil
}

func intAssign(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatAssign(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func boolAssign(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func stringAssign(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func curatorModeAssign(dst *CuratorMode) func(string) error {
	return func(v string) error {
		m := CuratorMode(v)
		if m != CuratorModeHeuristic && m != CuratorModeLLM {
			return fmt.Errorf("unknown curator mode %q", v)
		}
		*dst = m
		return nil
	}
}

func scorerModeAssign(dst *ScorerMode) func(string) error {
	return func(v string) error {
		m := ScorerMode(v)
		if m != ScorerModeHeuristic && m != ScorerModeLLM {
			return fmt.Errorf("unknown scorer mode %q", v)
		}
		*dst = m
		return nil
	}
}
