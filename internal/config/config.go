// Package config loads the orchestrator's runtime configuration from the
// process environment (optionally seeded from a .env file), following the
// teacher's Config/DefaultConfig pattern but sourced from spec.md S6's
// environment variable table instead of CLI flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/forgepilot/forgepilot/internal/model"
)

// Config holds every tunable the orchestrator reads at startup.
type Config struct {
	Port         int
	SessionsRoot string
	AgentCmd     string
	AgentArgs    []string

	LogMaxSizeMB      int
	LogMaxFiles       int
	LogRetentionDays  int

	StageTimeouts map[model.Stage]time.Duration
	// PostProcessTimeout is read from POSTPROCESS_TIMEOUT_MS, but no
	// component applies it: the PostProcessor passes parse the primary
	// agent's output locally, invoke no model, and have no deadline of
	// their own.
	PostProcessTimeout time.Duration

	RetryMinIdle  time.Duration
	RetryCooldown time.Duration

	ReplanMax int
}

// Default returns the documented defaults (spec.md S6).
func Default() Config {
	return Config{
		Port:             8080,
		SessionsRoot:     "./data/sessions",
		AgentCmd:         "claude",
		LogMaxSizeMB:     50,
		LogMaxFiles:      10,
		LogRetentionDays: 30,
		StageTimeouts:      defaultStageTimeouts(),
		PostProcessTimeout: 2 * time.Minute,
		RetryMinIdle:       5 * time.Minute,
		RetryCooldown:      30 * time.Second,
		ReplanMax:          5,
	}
}

// defaultStageTimeouts matches spec.md's documented per-stage defaults:
// stages 1, 2, 4, 5 get ten minutes; Stage 3 runs per-step at twenty
// minutes. Stage 6 is human-gated and never invokes the agent, so its
// entry is never consulted.
func defaultStageTimeouts() map[model.Stage]time.Duration {
	return map[model.Stage]time.Duration{
		model.StageDiscovery:      10 * time.Minute,
		model.StagePlanReview:     10 * time.Minute,
		model.StageImplementation: 20 * time.Minute,
		model.StagePRCreation:     10 * time.Minute,
		model.StagePRReview:       10 * time.Minute,
		model.StageFinalApproval:  10 * time.Minute,
	}
}

// Load reads a .env file at envPath if present (a missing file is not an
// error, matching godotenv's typical deployment use where .env is optional
// in production), then overlays the process environment on top of
// Default().
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envPath, err)
		}
	}

	cfg := Default()

	if v, ok := os.LookupEnv("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: PORT: %w", err)
		}
		cfg.Port = n
	}
	if v, ok := os.LookupEnv("SESSIONS_ROOT"); ok {
		cfg.SessionsRoot = v
	}
	if v, ok := os.LookupEnv("AGENT_CMD"); ok {
		cfg.AgentCmd = v
	}

	if err := overlayInt(&cfg.LogMaxSizeMB, "LOG_MAX_SIZE_MB"); err != nil {
		return Config{}, err
	}
	if err := overlayInt(&cfg.LogMaxFiles, "LOG_MAX_FILES"); err != nil {
		return Config{}, err
	}
	if err := overlayInt(&cfg.LogRetentionDays, "LOG_RETENTION_DAYS"); err != nil {
		return Config{}, err
	}
	if err := overlayInt(&cfg.ReplanMax, "REPLAN_MAX"); err != nil {
		return Config{}, err
	}

	if err := overlayMillis(&cfg.RetryMinIdle, "RETRY_MIN_IDLE_MS"); err != nil {
		return Config{}, err
	}
	if err := overlayMillis(&cfg.RetryCooldown, "RETRY_COOLDOWN_MS"); err != nil {
		return Config{}, err
	}
	if err := overlayMillis(&cfg.PostProcessTimeout, "POSTPROCESS_TIMEOUT_MS"); err != nil {
		return Config{}, err
	}

	for stage, envSuffix := range stageTimeoutEnvNames() {
		if v, ok := os.LookupEnv("STAGE_TIMEOUT_MS_" + envSuffix); ok {
			ms, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, fmt.Errorf("config: STAGE_TIMEOUT_MS_%s: %w", envSuffix, err)
			}
			cfg.StageTimeouts[stage] = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg, nil
}

func stageTimeoutEnvNames() map[model.Stage]string {
	return map[model.Stage]string{
		model.StageDiscovery:      "DISCOVERY",
		model.StagePlanReview:     "PLAN_REVIEW",
		model.StageImplementation: "IMPLEMENTATION",
		model.StagePRCreation:     "PR_CREATION",
		model.StagePRReview:       "PR_REVIEW",
		model.StageFinalApproval:  "FINAL_APPROVAL",
	}
}

func overlayInt(dst *int, envName string) error {
	v, ok := os.LookupEnv(envName)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", envName, err)
	}
	*dst = n
	return nil
}

func overlayMillis(dst *time.Duration, envName string) error {
	v, ok := os.LookupEnv(envName)
	if !ok {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", envName, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// NewLogger builds the process-wide structured logger. The teacher logs
// through log/slog with a text handler in non-verbose runs; we keep that
// idiom rather than introducing a separate logging library.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
