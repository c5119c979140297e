package localization

import (
	"math"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"
)

// Defaults applied to Config fields left unset.
const (
	DefaultMaxIterations    = 30
	DefaultMaxVelocity      = 1.0
	DefaultWarmupSamples    = 10
	DefaultGravity          = 9.8
	DefaultHuberDelta       = 1.0
	DefaultMinVariance      = 1e-6
	DefaultPriorInformation = 1e8
)

// Config describes the robot team and the tuning of the localizer.
type Config struct {
	// RobotIDs lists every robot; the last one is the self robot.
	RobotIDs []int `json:"robot_ids"`
	// RobotPositions holds x, y, z for each robot in RobotIDs except the self robot.
	RobotPositions []float64 `json:"robot_positions"`
	// MobileRobotIDs marks robots other than self that move. They are seeded at their configured
	// position but not pinned there.
	MobileRobotIDs []int `json:"mobile_robot_ids,omitempty"`

	MaxIterations    int     `json:"max_iterations,omitempty"`
	MaxVelocity      float64 `json:"max_velocity,omitempty"`
	WarmupSamples    int     `json:"warmup_samples,omitempty"`
	Gravity          float64 `json:"gravity,omitempty"`
	HuberDelta       float64 `json:"huber_delta,omitempty"`
	MinVariance      float64 `json:"min_variance,omitempty"`
	PriorInformation float64 `json:"prior_information,omitempty"`

	// InertialFusion pairs IMU samples with range exchanges of the self robot.
	InertialFusion bool `json:"inertial_fusion,omitempty"`
	// OutputPrefix enables the trajectory file when set.
	OutputPrefix string `json:"output_prefix,omitempty"`

	// explicit holds the keys present in the decoded attributes. Fields built in code are unset
	// when zero.
	explicit map[string]bool
}

// ConfigFromAttributes decodes an attribute map, usually read from JSON, into a Config.
func ConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	var (
		conf Config
		md   mapstructure.Metadata
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		Metadata:         &md,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "failed to decode localization config")
	}
	conf.explicit = lo.SliceToMap(md.Keys, func(k string) (string, bool) { return k, true })
	return &conf, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if len(cfg.RobotIDs) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "robot_ids")
	}
	if dups := lo.FindDuplicates(cfg.RobotIDs); len(dups) > 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("duplicate robot ids %v", dups))
	}
	if want := 3 * (len(cfg.RobotIDs) - 1); len(cfg.RobotPositions) != want {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("robot_positions needs %d values (x, y, z per robot other than self), got %d",
				want, len(cfg.RobotPositions)))
	}
	for _, v := range cfg.RobotPositions {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return goutils.NewConfigValidationError(path, errors.New("robot_positions must be finite"))
		}
	}
	self := cfg.SelfID()
	for _, id := range cfg.MobileRobotIDs {
		if id == self {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("mobile_robot_ids must not contain the self robot %d", id))
		}
		if !lo.Contains(cfg.RobotIDs, id) {
			return goutils.NewConfigValidationError(path, errors.Errorf("mobile robot %d is not in robot_ids", id))
		}
	}
	if cfg.MaxIterations < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_iterations must not be negative"))
	}
	for name, v := range map[string]float64{
		"max_velocity":      cfg.MaxVelocity,
		"gravity":           cfg.Gravity,
		"huber_delta":       cfg.HuberDelta,
		"min_variance":      cfg.MinVariance,
		"prior_information": cfg.PriorInformation,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return goutils.NewConfigValidationError(path, errors.Errorf("%s must be finite and not negative", name))
		}
	}
	if cfg.WarmupSamples < 0 {
		return goutils.NewConfigValidationError(path, errors.New("warmup_samples must not be negative"))
	}
	// zero is meaningful for warmup_samples and gravity only
	for name, zero := range map[string]bool{
		"max_iterations":    cfg.MaxIterations == 0,
		"max_velocity":      cfg.MaxVelocity == 0,
		"huber_delta":       cfg.HuberDelta == 0,
		"min_variance":      cfg.MinVariance == 0,
		"prior_information": cfg.PriorInformation == 0,
	} {
		if zero && cfg.explicit[name] {
			return goutils.NewConfigValidationError(path, errors.Errorf("%s must be positive", name))
		}
	}
	return nil
}

// SelfID returns the id of the robot this localizer runs on.
func (cfg *Config) SelfID() int {
	return cfg.RobotIDs[len(cfg.RobotIDs)-1]
}

// withDefaults returns a copy of cfg with unset fields replaced by defaults. A field is unset when
// it is zero and its key was not given explicitly.
func (cfg *Config) withDefaults() Config {
	out := *cfg
	unset := func(key string, zero bool) bool {
		return zero && !cfg.explicit[key]
	}
	if unset("max_iterations", out.MaxIterations == 0) {
		out.MaxIterations = DefaultMaxIterations
	}
	if unset("max_velocity", out.MaxVelocity == 0) {
		out.MaxVelocity = DefaultMaxVelocity
	}
	if unset("warmup_samples", out.WarmupSamples == 0) {
		out.WarmupSamples = DefaultWarmupSamples
	}
	if unset("gravity", out.Gravity == 0) {
		out.Gravity = DefaultGravity
	}
	if unset("huber_delta", out.HuberDelta == 0) {
		out.HuberDelta = DefaultHuberDelta
	}
	if unset("min_variance", out.MinVariance == 0) {
		out.MinVariance = DefaultMinVariance
	}
	if unset("prior_information", out.PriorInformation == 0) {
		out.PriorInformation = DefaultPriorInformation
	}
	return out
}
