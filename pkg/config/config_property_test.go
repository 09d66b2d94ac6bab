// Package config provides property-based tests for configuration fallback
// functionality. These tests verify universal properties that should hold
// across all valid inputs.
package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidScalerValuesFallBackToDefaults tests that invalid
// scaler values fall back to defaults.
//
// Property: For any non-positive duration, capacity or retry value, the
// system SHALL use the default value, ensuring a partly broken config file
// never disables the engine.
func TestProperty_InvalidScalerValuesFallBackToDefaults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	defaults := DefaultScalerConfig()

	properties.Property("non-positive cooldown falls back to default", prop.ForAll(
		func(seconds int) bool {
			cfg := &Config{Scaler: ScalerConfig{CooldownSeconds: seconds}}
			validateAndApplyDefaults(cfg)
			return cfg.Scaler.CooldownSeconds == defaults.CooldownSeconds
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("non-positive window falls back to default", prop.ForAll(
		func(seconds int) bool {
			cfg := &Config{Scaler: ScalerConfig{WindowSeconds: seconds}}
			validateAndApplyDefaults(cfg)
			return cfg.Scaler.WindowSeconds == defaults.WindowSeconds
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("non-positive shard capacities fall back to defaults", prop.ForAll(
		func(capacity int64) bool {
			cfg := &Config{Scaler: ScalerConfig{
				ShardByteCapacity:   capacity,
				ShardRecordCapacity: capacity,
			}}
			validateAndApplyDefaults(cfg)
			return cfg.Scaler.ShardByteCapacity == defaults.ShardByteCapacity &&
				cfg.Scaler.ShardRecordCapacity == defaults.ShardRecordCapacity
		},
		gen.Int64Range(-100000, 0),
	))

	properties.Property("out-of-range thresholds fall back to defaults", prop.ForAll(
		func(up float64) bool {
			cfg := &Config{Scaler: ScalerConfig{UpThreshold: up}}
			validateAndApplyDefaults(cfg)
			return cfg.Scaler.UpThreshold == defaults.UpThreshold
		},
		gen.OneGenOf(gen.Float64Range(-10, 0), gen.Float64Range(1.0001, 10)),
	))

	properties.Property("unknown policy falls back to default", prop.ForAll(
		func(name string) bool {
			switch name {
			case "double-halve", "step-bucket", "relative-delta", "range-bucket":
				return true
			}
			cfg := &Config{Scaler: ScalerConfig{Policy: name}}
			validateAndApplyDefaults(cfg)
			return cfg.Scaler.Policy == defaults.Policy
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidScalerValuesAreKept tests that valid explicit values
// survive validation untouched.
//
// Property: For any positive configuration value inside its legal range,
// validateAndApplyDefaults SHALL keep the configured value.
func TestProperty_ValidScalerValuesAreKept(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("positive cooldown and window are kept", prop.ForAll(
		func(cooldown, window int) bool {
			cfg := &Config{Scaler: ScalerConfig{
				CooldownSeconds: cooldown,
				WindowSeconds:   window,
			}}
			validateAndApplyDefaults(cfg)
			return cfg.Scaler.CooldownSeconds == cooldown &&
				cfg.Scaler.WindowSeconds == window
		},
		gen.IntRange(1, 100000),
		gen.IntRange(1, 100000),
	))

	properties.Property("down threshold below up threshold is kept", prop.ForAll(
		func(down float64) bool {
			cfg := &Config{Scaler: ScalerConfig{
				UpThreshold:   0.9,
				DownThreshold: down,
			}}
			validateAndApplyDefaults(cfg)
			return cfg.Scaler.DownThreshold == down
		},
		gen.Float64Range(0.01, 0.89),
	))

	properties.TestingRun(t)
}

// TestProperty_DatapointsNeverExceedEvaluationPeriods tests the alarm
// window invariant.
//
// Property: After validation, DatapointsToAlarm is always between 1 and
// EvaluationPeriods inclusive.
func TestProperty_DatapointsNeverExceedEvaluationPeriods(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("datapoints stay within the evaluation window", prop.ForAll(
		func(periods, datapoints int) bool {
			cfg := &Config{Scaler: ScalerConfig{
				EvaluationPeriods: periods,
				DatapointsToAlarm: datapoints,
			}}
			validateAndApplyDefaults(cfg)
			sc := cfg.Scaler
			return sc.DatapointsToAlarm >= 1 && sc.DatapointsToAlarm <= sc.EvaluationPeriods
		},
		gen.IntRange(-10, 20),
		gen.IntRange(-10, 30),
	))

	properties.TestingRun(t)
}
