// Package scenario parses and validates the Scenario input of spec §6.
// Parsing uses github.com/goccy/go-yaml in strict mode so unknown keys are
// rejected at admission, per spec §9 ("Unknown keys -> ConfigError").
// Validation implements the admission checks of spec §4.7/§8.
package scenario

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/obs/errs"
)

// Increment is a union/variant over the two FIND_MAX increment policies
// (spec §6).
type Increment struct {
	Linear    *int     `yaml:"linear,omitempty"`
	Geometric *float64 `yaml:"geometric,omitempty"`
}

// FindMax is the FIND_MAX_CONCURRENCY load-mode configuration (spec §6).
type FindMax struct {
	Start  int       `yaml:"start"`
	Max    int       `yaml:"max"`
	Increment Increment `yaml:"increment"`
	TStepSeconds int  `yaml:"t_step"`
	TWarmSeconds int  `yaml:"t_warm"`
	Thresholds   Thresholds `yaml:"thresholds"`
}

// Thresholds are the classification thresholds for FIND_MAX steps (spec §4.6).
type Thresholds struct {
	QPSDropPct       float64 `yaml:"qps_drop_pct"`
	P95InflationPct  float64 `yaml:"p95_inflation_pct"`
	ErrorRatePct     float64 `yaml:"error_rate_pct"`
}

// Operation is one named SQL operation a mix entry may draw (spec §6).
type Operation struct {
	SQLTemplate string `yaml:"sql_template"`
	BindSource  string `yaml:"bind_source"`
	ExpectsRows bool   `yaml:"expects_rows"`
}

// Target selects and configures the adapter that will execute operations
// (spec §4.1/§6).
type Target struct {
	Adapter string            `yaml:"adapter"`
	DSN     string            `yaml:"dsn"`
	Params  map[string]string `yaml:"params,omitempty"`
}

// Notify configures the optional terminal-status webhook (SPEC_FULL §12).
type Notify struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// Scenario is the full benchmark input recognized by the coordinator
// (spec §6).
type Scenario struct {
	TemplateID string `yaml:"template_id"`
	Target     Target `yaml:"target"`
	Table      string `yaml:"table"`

	DurationSeconds  int `yaml:"duration_seconds"`
	WarmupSeconds    int `yaml:"warmup_seconds"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`

	LoadMode model.LoadMode `yaml:"load_mode"`

	TargetConcurrency int     `yaml:"target_concurrency,omitempty"`
	TargetQPS         float64 `yaml:"target_qps,omitempty"`
	FindMax           *FindMax `yaml:"find_max,omitempty"`

	Mix        map[model.QueryKind]float64   `yaml:"mix"`
	Operations map[model.QueryKind]Operation `yaml:"operations"`

	ExpectedWorkers int `yaml:"expected_workers,omitempty"`

	Notify Notify `yaml:"notify,omitempty"`
}

// LoadFile reads and parses a scenario YAML file. It does not validate;
// call Validate separately so callers can distinguish parse errors (bad
// YAML) from admission errors (spec §7 ConfigError).
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse parses scenario YAML bytes in strict mode.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.UnmarshalWithOptions(data, &s, yaml.Strict()); err != nil {
		return nil, errs.ConfigError("SCENARIO_PARSE", err.Error())
	}
	return &s, nil
}

// Validate performs the admission checks of spec §4.7/§8. A non-nil error
// is always an *errs.Error of class ClassConfig.
func Validate(s *Scenario) error {
	if s.TemplateID == "" {
		return errs.ConfigError("MISSING_FIELD", "template_id is required")
	}
	if s.Target.Adapter == "" {
		return errs.ConfigError("MISSING_FIELD", "target.adapter is required")
	}
	if s.Table == "" {
		return errs.ConfigError("MISSING_FIELD", "table is required")
	}
	if s.DurationSeconds <= 0 {
		return errs.ConfigError("MISSING_FIELD", "duration_seconds must be > 0")
	}
	if s.WarmupSeconds < 0 || s.CooldownSeconds < 0 {
		return errs.ConfigError("NEGATIVE_DURATION", "warmup_seconds/cooldown_seconds must be >= 0")
	}

	switch s.LoadMode {
	case model.LoadModeFixedConcurrency:
		// Spec §8 item 10: target_concurrency = 0 in FIXED mode is rejected.
		if s.TargetConcurrency < 1 {
			return errs.ConfigError("BAD_TARGET_CONCURRENCY", "target_concurrency must be >= 1 in FIXED_CONCURRENCY mode")
		}
	case model.LoadModeTargetQPS:
		if s.TargetQPS <= 0 {
			return errs.ConfigError("BAD_TARGET_QPS", "target_qps must be > 0 in TARGET_QPS mode")
		}
	case model.LoadModeFindMaxConcurrency:
		if err := validateFindMax(s.FindMax); err != nil {
			return err
		}
	default:
		return errs.ConfigError("BAD_LOAD_MODE", fmt.Sprintf("unknown load_mode %q", s.LoadMode))
	}

	if len(s.Mix) == 0 {
		return errs.ConfigError("EMPTY_MIX", "mix must name at least one operation kind")
	}
	var sum float64
	for kind, pct := range s.Mix {
		if pct < 0 {
			return errs.ConfigError("NEGATIVE_MIX_PCT", fmt.Sprintf("mix[%s] is negative", kind))
		}
		sum += pct
		if pct > 0 {
			if _, ok := s.Operations[kind]; !ok {
				return errs.ConfigError("MIX_WITHOUT_OPERATION", fmt.Sprintf("mix names kind %q with no matching operations entry", kind))
			}
		}
	}
	// Spec §8 item 9: mix summing to anything other than 100 is rejected.
	const epsilon = 1e-6
	if sum < 100-epsilon || sum > 100+epsilon {
		return errs.ConfigError("MIX_SUM_NOT_100", fmt.Sprintf("mix percentages sum to %.4f, expected 100", sum))
	}

	if s.ExpectedWorkers < 0 {
		return errs.ConfigError("NEGATIVE_EXPECTED_WORKERS", "expected_workers must be >= 0")
	}

	return nil
}

func validateFindMax(fm *FindMax) error {
	if fm == nil {
		return errs.ConfigError("MISSING_FIELD", "find_max is required in FIND_MAX_CONCURRENCY mode")
	}
	if fm.Start < 1 {
		return errs.ConfigError("BAD_FIND_MAX_START", "find_max.start must be >= 1")
	}
	if fm.Max < fm.Start {
		return errs.ConfigError("BAD_FIND_MAX_MAX", "find_max.max must be >= find_max.start")
	}
	if fm.Increment.Linear == nil && fm.Increment.Geometric == nil {
		return errs.ConfigError("MISSING_INCREMENT", "find_max.increment must set linear or geometric")
	}
	if fm.Increment.Linear != nil && *fm.Increment.Linear <= 0 {
		return errs.ConfigError("BAD_INCREMENT", "find_max.increment.linear must be > 0")
	}
	if fm.Increment.Geometric != nil && *fm.Increment.Geometric <= 1 {
		return errs.ConfigError("BAD_INCREMENT", "find_max.increment.geometric must be > 1")
	}
	if fm.TStepSeconds <= 0 || fm.TWarmSeconds < 0 {
		return errs.ConfigError("BAD_FIND_MAX_TIMING", "find_max.t_step must be > 0 and t_warm must be >= 0")
	}
	return nil
}

// ExpectedWorkersOrDefault returns s.ExpectedWorkers, defaulting to 1
// (spec §6: "expected_workers | no (default 1)").
func ExpectedWorkersOrDefault(s *Scenario) int {
	if s.ExpectedWorkers == 0 {
		return 1
	}
	return s.ExpectedWorkers
}
