// Package config loads and validates the triagepilot TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root document loaded from the pipeline's TOML file.
type Config struct {
	General    General              `toml:"general"`
	Picker     Picker               `toml:"picker"`
	Runner     Runner               `toml:"runner"`
	Evaluator  Evaluator            `toml:"evaluator"`
	Ranker     Ranker               `toml:"ranker"`
	Pattern    Pattern              `toml:"pattern"`
	Experiment Experiment           `toml:"experiment"`
	Gateway    Gateway              `toml:"gateway"`
	Sources    map[string]SourceCfg `toml:"sources"`
}

// General holds process-wide, ambient settings.
type General struct {
	LogLevel    string   `toml:"log_level"`
	StateDir    string   `toml:"state_dir"`
	TickInterval Duration `toml:"tick_interval"`
}

// Picker configures the task-picker's scoring weights and filters.
type Picker struct {
	Weights         PickerWeights `toml:"weights"`
	PreferredLabels []string      `toml:"preferred_labels"`
}

// PickerWeights mirrors the weighted-additive scoring function's coefficients.
type PickerWeights struct {
	Priority          float64 `toml:"priority"`
	DueDate           float64 `toml:"due_date"`
	Age               float64 `toml:"age"`
	Simplicity        float64 `toml:"simplicity"`
	LabelMatchBonus   float64 `toml:"label_match_bonus"`
	ComplexityPenalty float64 `toml:"complexity_penalty"`
}

// DefaultPickerWeights returns the weights named in the picker's scoring spec.
func DefaultPickerWeights() PickerWeights {
	return PickerWeights{
		Priority:          100,
		DueDate:           50,
		Age:               10,
		Simplicity:        5,
		LabelMatchBonus:   20,
		ComplexityPenalty: 15,
	}
}

// Runner configures default iteration limits and scoring weights.
type Runner struct {
	PollInterval     Duration        `toml:"poll_interval"`
	Limits           RunnerLimits    `toml:"limits"`
	ScoreWeights     ScoreWeights    `toml:"score_weights"`
	ScorePenalties   ScorePenalties  `toml:"score_penalties"`
	Strategy         string          `toml:"strategy"` // "models" | "prompt_variants" | "hybrid"
	Models           []string        `toml:"models"`
	PromptVariants   []PromptVariantCfg `toml:"prompt_variants"`
}

// PromptVariantCfg names one prompt-construction approach the runner can
// spawn a variation against.
type PromptVariantCfg struct {
	ID                string   `toml:"id"`
	AdditionalContext string   `toml:"additional_context"`
	Constraints       []string `toml:"constraints"`
}

type RunnerLimits struct {
	MaxConcurrent        int      `toml:"max_concurrent"`
	MaxTotal             int      `toml:"max_total"`
	PerIterationTimeout  Duration `toml:"per_iteration_timeout"`
	TotalTimeout         Duration `toml:"total_timeout"`
	TotalCostCap         float64  `toml:"total_cost_cap"`
	TotalTokenCap        int64    `toml:"total_token_cap"`
}

type ScoreWeights struct {
	Confidence     float64 `toml:"confidence"`
	Completeness   float64 `toml:"completeness"`
	CodeQuality    float64 `toml:"code_quality"`
	Responsiveness float64 `toml:"responsiveness"`
	Speed          float64 `toml:"speed"`
	Cost           float64 `toml:"cost"`
}

// DefaultScoreWeights returns the iteration-result scoring weights from §4.2c.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Confidence:     0.2,
		Completeness:   0.3,
		CodeQuality:    0.2,
		Responsiveness: 0.2,
		Speed:          0.05,
		Cost:           0.05,
	}
}

type ScorePenalties struct {
	Timeout    float64 `toml:"timeout"`
	Error      float64 `toml:"error"`
	Incomplete float64 `toml:"incomplete"`
}

// DefaultScorePenalties returns the result-scoring penalties from §4.2c.
func DefaultScorePenalties() ScorePenalties {
	return ScorePenalties{Timeout: 0.5, Error: 1.0, Incomplete: 0.3}
}

// Evaluator configures the solution evaluator's category weights.
type Evaluator struct {
	CategoryWeights CategoryWeights `toml:"category_weights"`
}

type CategoryWeights struct {
	Correctness  float64 `toml:"correctness"`
	Quality      float64 `toml:"quality"`
	Efficiency   float64 `toml:"efficiency"`
	Completeness float64 `toml:"completeness"`
	Safety       float64 `toml:"safety"`
}

// DefaultCategoryWeights returns the solution evaluator's default rubric weights.
func DefaultCategoryWeights() CategoryWeights {
	return CategoryWeights{Correctness: 0.4, Quality: 0.25, Efficiency: 0.15, Completeness: 0.1, Safety: 0.1}
}

// Ranker configures the auto-accept gate.
type Ranker struct {
	MinScore      float64 `toml:"min_score"`
	MinConfidence float64 `toml:"min_confidence"`
	MinMargin     float64 `toml:"min_margin"`
}

// DefaultRanker returns the auto-accept default thresholds from §4.5.
func DefaultRanker() Ranker {
	return Ranker{MinScore: 0.85, MinConfidence: 0.8, MinMargin: 0.05}
}

// Pattern configures the pattern tracker's lifecycle constants.
type Pattern struct {
	DBPath                       string   `toml:"db_path"`
	MinObservations              int      `toml:"min_observations"`
	MinObservationsFullConfidence int     `toml:"min_observations_full_confidence"`
	RecencyHalfLifeDays          float64  `toml:"recency_half_life_days"`
	ActivationThreshold          float64  `toml:"activation_threshold"`
	TimeToleranceMinutes         int      `toml:"time_tolerance_minutes"`
	MinOverlapRatio              float64  `toml:"min_overlap_ratio"`
	MaxPatternsPerAgent          int      `toml:"max_patterns_per_agent"`
	MaxObservationsPerAgent      int      `toml:"max_observations_per_agent"`
	ArchiveAfterDays             int      `toml:"archive_after_days"`
}

// DefaultPattern returns the pattern tracker's default lifecycle constants.
func DefaultPattern() Pattern {
	return Pattern{
		MinObservations:               3,
		MinObservationsFullConfidence: 10,
		RecencyHalfLifeDays:           14,
		ActivationThreshold:           0.4,
		TimeToleranceMinutes:          30,
		MinOverlapRatio:               0.3,
		MaxPatternsPerAgent:           100,
		MaxObservationsPerAgent:       500,
		ArchiveAfterDays:              90,
	}
}

// Experiment configures the A/B experiment engine.
type Experiment struct {
	StateDir                 string  `toml:"state_dir"`
	MinSamplesForSignificance int    `toml:"min_samples_for_significance"`
}

// DefaultExperiment returns the A/B engine's default significance sample size.
func DefaultExperiment() Experiment {
	return Experiment{MinSamplesForSignificance: 30}
}

// Gateway configures the Worker Gateway backend resolution and rate limiting.
type Gateway struct {
	Backend           string  `toml:"backend"` // "process" | "docker"
	RateLimitPerSec   float64 `toml:"rate_limit_per_sec"`
	RateLimitBurst    int     `toml:"rate_limit_burst"`
	DockerImage       string  `toml:"docker_image"`
}

// SourceCfg configures a single Task Source Adapter instance.
type SourceCfg struct {
	Type string `toml:"type"`
	Dir  string `toml:"dir"`
}

// Load reads and validates a triagepilot TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.StateDir == "" {
		cfg.General.StateDir = "./state"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval.Duration = 30 * time.Second
	}

	zeroWeights := PickerWeights{}
	if cfg.Picker.Weights == zeroWeights {
		cfg.Picker.Weights = DefaultPickerWeights()
	}

	if cfg.Runner.PollInterval.Duration == 0 {
		cfg.Runner.PollInterval.Duration = time.Second
	}
	if cfg.Runner.Limits.MaxConcurrent == 0 {
		cfg.Runner.Limits.MaxConcurrent = 3
	}
	if cfg.Runner.Limits.MaxTotal == 0 {
		cfg.Runner.Limits.MaxTotal = 10
	}
	if cfg.Runner.Limits.PerIterationTimeout.Duration == 0 {
		cfg.Runner.Limits.PerIterationTimeout.Duration = 5 * time.Minute
	}
	if cfg.Runner.Limits.TotalTimeout.Duration == 0 {
		cfg.Runner.Limits.TotalTimeout.Duration = 20 * time.Minute
	}
	zeroSW := ScoreWeights{}
	if cfg.Runner.ScoreWeights == zeroSW {
		cfg.Runner.ScoreWeights = DefaultScoreWeights()
	}
	zeroSP := ScorePenalties{}
	if cfg.Runner.ScorePenalties == zeroSP {
		cfg.Runner.ScorePenalties = DefaultScorePenalties()
	}
	if cfg.Runner.Strategy == "" {
		cfg.Runner.Strategy = "models"
	}
	if len(cfg.Runner.Models) == 0 {
		cfg.Runner.Models = []string{"claude-sonnet", "claude-opus"}
	}

	zeroCW := CategoryWeights{}
	if cfg.Evaluator.CategoryWeights == zeroCW {
		cfg.Evaluator.CategoryWeights = DefaultCategoryWeights()
	}

	zeroRanker := Ranker{}
	if cfg.Ranker == zeroRanker {
		cfg.Ranker = DefaultRanker()
	}

	if cfg.Pattern.DBPath == "" {
		cfg.Pattern.DBPath = cfg.General.StateDir + "/patterns.db"
	}
	if cfg.Pattern.MinObservations == 0 {
		def := DefaultPattern()
		cfg.Pattern.MinObservations = def.MinObservations
		cfg.Pattern.MinObservationsFullConfidence = def.MinObservationsFullConfidence
		cfg.Pattern.RecencyHalfLifeDays = def.RecencyHalfLifeDays
		cfg.Pattern.ActivationThreshold = def.ActivationThreshold
		cfg.Pattern.TimeToleranceMinutes = def.TimeToleranceMinutes
		cfg.Pattern.MinOverlapRatio = def.MinOverlapRatio
		cfg.Pattern.MaxPatternsPerAgent = def.MaxPatternsPerAgent
		cfg.Pattern.MaxObservationsPerAgent = def.MaxObservationsPerAgent
		cfg.Pattern.ArchiveAfterDays = def.ArchiveAfterDays
	}

	if cfg.Experiment.StateDir == "" {
		cfg.Experiment.StateDir = cfg.General.StateDir
	}
	if cfg.Experiment.MinSamplesForSignificance == 0 {
		cfg.Experiment.MinSamplesForSignificance = DefaultExperiment().MinSamplesForSignificance
	}

	if cfg.Gateway.Backend == "" {
		cfg.Gateway.Backend = "process"
	}
	if cfg.Gateway.RateLimitPerSec == 0 {
		cfg.Gateway.RateLimitPerSec = 2
	}
	if cfg.Gateway.RateLimitBurst == 0 {
		cfg.Gateway.RateLimitBurst = 4
	}
}

func validate(cfg *Config) error {
	sum := cfg.Evaluator.CategoryWeights.Correctness + cfg.Evaluator.CategoryWeights.Quality +
		cfg.Evaluator.CategoryWeights.Efficiency + cfg.Evaluator.CategoryWeights.Completeness +
		cfg.Evaluator.CategoryWeights.Safety
	if diff := sum - 1.0; diff > 1e-6 || diff < -1e-6 {
		return fmt.Errorf("evaluator category weights sum to %.6f, want 1.0 (+/- 1e-6)", sum)
	}

	for name, src := range cfg.Sources {
		switch strings.ToLower(src.Type) {
		case "markdown", "":
		default:
			return fmt.Errorf("source %q: unknown adapter type %q", name, src.Type)
		}
	}

	switch cfg.Gateway.Backend {
	case "process", "docker":
	default:
		return fmt.Errorf("gateway: unknown backend %q", cfg.Gateway.Backend)
	}

	switch cfg.Runner.Strategy {
	case "models", "prompt_variants", "hybrid":
	default:
		return fmt.Errorf("runner: unknown strategy %q", cfg.Runner.Strategy)
	}

	return nil
}

// Clone returns a deep-enough copy safe for concurrent readers.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	clone := *cfg
	clone.Picker.Weights = cfg.Picker.Weights
	clone.Picker.PreferredLabels = append([]string(nil), cfg.Picker.PreferredLabels...)
	clone.Runner.Models = append([]string(nil), cfg.Runner.Models...)
	clone.Runner.PromptVariants = append([]PromptVariantCfg(nil), cfg.Runner.PromptVariants...)
	clone.Sources = make(map[string]SourceCfg, len(cfg.Sources))
	for k, v := range cfg.Sources {
		clone.Sources[k] = v
	}
	return &clone
}
