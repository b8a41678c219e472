// Package config resolves per-measurement audit and change-point
// parameters through a fixed four-tier precedence: an explicit caller
// override, a per-measurement TOML section, the file's default section,
// then a compiled-in default.
package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/viper"

	"github.com/gitperf/gitperf/internal/filter"
	"github.com/gitperf/gitperf/pkg/pipeline"
)

// Param names one resolvable configuration parameter. The set is closed;
// Resolve panics on any name outside the schema, per "unknown parameters
// are a programming error."
type Param string

// The closed set of resolvable parameters.
const (
	ParamDispersionMethod     Param = "dispersion_method"
	ParamMinRelativeDeviation Param = "min_relative_deviation"
	ParamMinMeasurements      Param = "min_measurements"
	ParamSigma                Param = "sigma"
	ParamAggregateBy          Param = "aggregate_by"
	ParamUnit                 Param = "unit"
	ParamEpoch                Param = "epoch"
	ParamPenalty              Param = "penalty"
	ParamMinMagnitudePct      Param = "min_magnitude_pct"
	ParamConfidenceThreshold  Param = "confidence_threshold"
	ParamMinDataPoints        Param = "min_data_points"
)

// Dispersion selects which spread statistic an audit measures deviation
// against.
type Dispersion string

// The closed set of dispersion methods.
const (
	DispersionStdDev Dispersion = "stddev"
	DispersionMAD    Dispersion = "mad"
)

// minAllowedMeasurements is the smallest tail length an audit can ever be
// configured to require: below this a z-score is statistically meaningless.
const minAllowedMeasurements = 3

// Sentinel errors for a resolved value outside its documented domain.
// Classified Config-invalid at the CLI boundary; see gitperferr.Classify.
var (
	ErrInvalidDispersion          = errors.New(`config: dispersion_method must be "stddev" or "mad"`)
	ErrInvalidAggregateBy         = errors.New("config: aggregate_by must be one of none, min, max, median, mean")
	ErrInvalidSigma               = errors.New("config: sigma must be greater than 0")
	ErrInvalidMinMeasurements     = errors.New("config: min_measurements must be at least 3")
	ErrInvalidConfidenceThreshold = errors.New("config: confidence_threshold must be within [0, 1]")
)

// schema enumerates every known Param's compiled-in default and CLI flag
// metadata. It is a map, so iteration order is not defined.
var schema = map[Param]pipeline.ConfigurationOption{
	ParamDispersionMethod: {
		Name: string(ParamDispersionMethod), Flag: "dispersion-method",
		Description: "spread statistic audits measure deviation against (stddev or mad)",
		Default:     string(DispersionStdDev), Type: pipeline.StringConfigurationOption,
	},
	ParamMinRelativeDeviation: {
		Name: string(ParamMinRelativeDeviation), Flag: "min-relative-deviation",
		Description: "relative deviation percent below which a sigma-failing audit still passes",
		Default:     5.0, Type: pipeline.FloatConfigurationOption,
	},
	ParamMinMeasurements: {
		Name: string(ParamMinMeasurements), Flag: "min-measurements",
		Description: "minimum tail length required to audit rather than skip",
		Default:     3, Type: pipeline.IntConfigurationOption,
	},
	ParamSigma: {
		Name: string(ParamSigma), Flag: "sigma",
		Description: "z-score threshold an audit must stay within to pass",
		Default:     2.0, Type: pipeline.FloatConfigurationOption,
	},
	ParamAggregateBy: {
		Name: string(ParamAggregateBy), Flag: "aggregate-by",
		Description: "per-commit reduction applied before audit (none, min, max, median, mean)",
		Default:     string(filter.AggregateMean), Type: pipeline.StringConfigurationOption,
	},
	ParamUnit: {
		Name: string(ParamUnit), Flag: "unit",
		Description: "display-only unit label attached to a measurement's audit output",
		Default:     "", Type: pipeline.StringConfigurationOption,
	},
	ParamEpoch: {
		Name: string(ParamEpoch), Flag: "epoch",
		Description: "default epoch a newly appended measurement of this name is stamped with",
		Default:     uint64(0), Type: pipeline.IntConfigurationOption,
	},
	ParamPenalty: {
		Name: string(ParamPenalty), Flag: "penalty",
		Description: "change-point penalty multiplier; higher means fewer change points",
		Default:     0.5, Type: pipeline.FloatConfigurationOption,
	},
	ParamMinMagnitudePct: {
		Name: string(ParamMinMagnitudePct), Flag: "min-magnitude-pct",
		Description: "minimum |magnitude_pct| a change point must clear to be reported",
		Default:     5.0, Type: pipeline.FloatConfigurationOption,
	},
	ParamConfidenceThreshold: {
		Name: string(ParamConfidenceThreshold), Flag: "confidence-threshold",
		Description: "minimum confidence a change point must clear to be reported",
		Default:     0.75, Type: pipeline.FloatConfigurationOption,
	},
	ParamMinDataPoints: {
		Name: string(ParamMinDataPoints), Flag: "min-data-points",
		Description: "minimum series length below which change-point detection returns empty",
		Default:     10, Type: pipeline.IntConfigurationOption,
	},
}

// Schema returns the full parameter schema, for a CLI help/list command.
func Schema() map[Param]pipeline.ConfigurationOption {
	return schema
}

type overrideKey struct {
	param       Param
	measurement string
}

// Resolver answers resolve(param, measurement?) from a loaded TOML file
// plus any explicit overrides a caller has set.
type Resolver struct {
	v         *viper.Viper
	overrides map[overrideKey]any
}

// Load reads path (the repository's .gitperfconfig) as TOML. A missing file
// is not an error: every parameter then resolves to its compiled-in
// default.
func Load(path string) (*Resolver, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return &Resolver{v: v, overrides: make(map[overrideKey]any)}, nil
}

// SetOverride installs an explicit caller override (tier 1), such as a CLI
// flag the user passed for this invocation. measurement == "" applies to
// every measurement name unless a more specific override exists.
func (r *Resolver) SetOverride(param Param, measurement string, value any) {
	r.overrides[overrideKey{param, measurement}] = value
}

// Resolve returns the first value found across the four tiers: explicit
// override, per-measurement TOML section, default TOML section, compiled-in
// default. It panics for a Param outside the schema.
func (r *Resolver) Resolve(param Param, measurement string) any {
	opt, ok := schema[param]
	if !ok {
		panic(fmt.Sprintf("config: unknown parameter %q", param))
	}

	if v, ok := r.overrides[overrideKey{param, measurement}]; ok {
		return v
	}

	if v, ok := r.overrides[overrideKey{param: param}]; ok {
		return v
	}

	if measurement != "" {
		if v, ok := r.lookup(measurementKey(measurement, param)); ok {
			return v
		}
	}

	if v, ok := r.lookup(defaultKey(param)); ok {
		return v
	}

	return opt.Default
}

func (r *Resolver) lookup(key string) (any, bool) {
	if !r.v.IsSet(key) {
		return nil, false
	}

	return r.v.Get(key), true
}

func measurementKey(measurement string, param Param) string {
	return "measurement." + measurement + "." + string(param)
}

func defaultKey(param Param) string {
	return "measurement." + string(param)
}

func changePointKey(param Param) string {
	return "change_point." + string(param)
}

// Dispersion resolves ParamDispersionMethod for measurement. Returns
// ErrInvalidDispersion if the resolved value isn't a known method.
func (r *Resolver) Dispersion(measurement string) (Dispersion, error) {
	d := Dispersion(toString(r.Resolve(ParamDispersionMethod, measurement)))

	switch d {
	case DispersionStdDev, DispersionMAD:
		return d, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidDispersion, d)
	}
}

// AggregateBy resolves ParamAggregateBy for measurement. Returns
// ErrInvalidAggregateBy if the resolved value isn't a known mode.
func (r *Resolver) AggregateBy(measurement string) (filter.Aggregate, error) {
	a := filter.Aggregate(toString(r.Resolve(ParamAggregateBy, measurement)))

	switch a {
	case filter.AggregateNone, filter.AggregateMin, filter.AggregateMax, filter.AggregateMedian, filter.AggregateMean:
		return a, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidAggregateBy, a)
	}
}

// Sigma resolves ParamSigma for measurement. Returns ErrInvalidSigma if the
// resolved value isn't strictly positive.
func (r *Resolver) Sigma(measurement string) (float64, error) {
	v := toFloat(r.Resolve(ParamSigma, measurement))
	if v <= 0 {
		return 0, fmt.Errorf("%w: got %g", ErrInvalidSigma, v)
	}

	return v, nil
}

// MinRelativeDeviation resolves ParamMinRelativeDeviation for measurement.
func (r *Resolver) MinRelativeDeviation(measurement string) float64 {
	return toFloat(r.Resolve(ParamMinRelativeDeviation, measurement))
}

// MinMeasurements resolves ParamMinMeasurements for measurement. Returns
// ErrInvalidMinMeasurements if the resolved value is below
// minAllowedMeasurements.
func (r *Resolver) MinMeasurements(measurement string) (int, error) {
	v := toInt(r.Resolve(ParamMinMeasurements, measurement))
	if v < minAllowedMeasurements {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidMinMeasurements, v)
	}

	return v, nil
}

// Unit resolves ParamUnit for measurement.
func (r *Resolver) Unit(measurement string) string {
	return toString(r.Resolve(ParamUnit, measurement))
}

// Epoch resolves ParamEpoch for measurement.
func (r *Resolver) Epoch(measurement string) uint32 {
	return uint32(toInt(r.Resolve(ParamEpoch, measurement)))
}

// changePoint mirrors Resolve's tiers but reads the top-level
// [change_point] table instead of a per-measurement one: change-point
// parameters are process-wide, not per-measurement.
func (r *Resolver) changePoint(param Param) any {
	opt, ok := schema[param]
	if !ok {
		panic(fmt.Sprintf("config: unknown parameter %q", param))
	}

	if v, ok := r.overrides[overrideKey{param: param}]; ok {
		return v
	}

	if v, ok := r.lookup(changePointKey(param)); ok {
		return v
	}

	return opt.Default
}

// Penalty resolves ParamPenalty (change-point, process-wide).
func (r *Resolver) Penalty() float64 {
	return toFloat(r.changePoint(ParamPenalty))
}

// MinMagnitudePct resolves ParamMinMagnitudePct (change-point, process-wide).
func (r *Resolver) MinMagnitudePct() float64 {
	return toFloat(r.changePoint(ParamMinMagnitudePct))
}

// ConfidenceThreshold resolves ParamConfidenceThreshold (change-point,
// process-wide). Returns ErrInvalidConfidenceThreshold if the resolved
// value falls outside [0, 1].
func (r *Resolver) ConfidenceThreshold() (float64, error) {
	v := toFloat(r.changePoint(ParamConfidenceThreshold))
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: got %g", ErrInvalidConfidenceThreshold, v)
	}

	return v, nil
}

// MinDataPoints resolves ParamMinDataPoints (change-point, process-wide).
func (r *Resolver) MinDataPoints() int {
	return toInt(r.changePoint(ParamMinDataPoints))
}

func toString(v any) string {
	s, _ := v.(string)

	return s
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)

		return f
	default:
		return 0
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case uint64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)

		return i
	default:
		return 0
	}
}
