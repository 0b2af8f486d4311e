// Package config implements the configuration layer for the btctl daemon.
//
// Configuration resolves in three layers: compiled defaults, a YAML file
// (path from BTCTL_CONFIG, falling back to ./config.yaml), and BTCTL_*
// environment overrides. The resolved timing values are exposed as a
// TimingConfig consumed by the command loop and the telemetry hub.
//
// Architecture References:
//   - BT-TIMING §1-6: Timing defaults and constraints
//   - Architecture §8: Configuration management
package config
