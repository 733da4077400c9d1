// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package config loads canloop settings from a YAML file and the
// environment. Command-line flags are applied on top by cmd.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/canloop/internal/controller"
	"github.com/Thermoquad/canloop/internal/node"
	"github.com/Thermoquad/canloop/pkg/fixed"
)

// Environment variables
const (
	EnvInterface   = "CANLOOP_IFACE"
	EnvPeriodMS    = "CANLOOP_PERIOD_MS"
	EnvIdleMS      = "CANLOOP_IDLE_MS"
	EnvPassword    = "CANLOOP_PASSWORD"
	EnvMetricsAddr = "CANLOOP_METRICS_ADDR"
	EnvLogLevel    = "CANLOOP_LOG_LEVEL"
)

// DefaultEnvFile is read when no env file is named. It may be absent.
const DefaultEnvFile = ".env"

// Config is the complete canloop configuration.
type Config struct {
	Bus        BusConfig           `yaml:"bus"`
	Node       NodeConfig          `yaml:"node"`
	Controller ControllerOverrides `yaml:"controller"`
	Metrics    MetricsConfig       `yaml:"metrics"`
	Log        LogConfig           `yaml:"log"`
}

// BusConfig selects the transport. Exactly one of Interface, Port and URL
// is used, in that order of preference.
type BusConfig struct {
	Interface   string `yaml:"interface"` // SocketCAN, e.g. can0, vcan0
	Port        string `yaml:"port"`      // SLCAN serial adapter
	Baud        int    `yaml:"baud"`
	Bitrate     int    `yaml:"bitrate"` // CAN bitrate for SLCAN
	URL         string `yaml:"url"`     // websocket bridge
	Username    string `yaml:"username"`
	Password    string `yaml:"-"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// NodeConfig holds the controller node timing.
type NodeConfig struct {
	PeriodMS      int `yaml:"period_ms"`
	IdleMS        int `yaml:"idle_ms"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// ControllerOverrides replaces controller defaults at startup. Unset fields
// keep the default. Values are in physical units and are converted without
// the wire quantization, so negative decoupling gains are allowed here.
type ControllerOverrides struct {
	Setpoint *float64 `yaml:"setpoint"`
	KpT      *float64 `yaml:"kp_t"`
	KiT      *float64 `yaml:"ki_t"`
	KdT      *float64 `yaml:"kd_t"`
	KawT     *float64 `yaml:"kaw_t"`
	Kpm      *float64 `yaml:"kp_m"`
	Kim      *float64 `yaml:"ki_m"`
	Kawm     *float64 `yaml:"kaw_m"`
	Kvw      *float64 `yaml:"kvw"`
	Kwv      *float64 `yaml:"kwv"`

	Omega0RPM   *int64 `yaml:"omega0_rpm"`
	V0RPM       *int64 `yaml:"v0_rpm"`
	OmegaMaxRPM *int64 `yaml:"omega_max_rpm"`
	VMaxRPM     *int64 `yaml:"v_max_rpm"`
	VCutRPM     *int64 `yaml:"v_cut_rpm"`
}

// MetricsConfig configures the HTTP metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Baud:    115200,
			Bitrate: 500000,
		},
		Node: NodeConfig{
			PeriodMS:      int(node.DefaultPeriod / time.Millisecond),
			IdleMS:        int(node.DefaultIdle / time.Millisecond),
			QueueCapacity: node.DefaultQueueCapacity,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Bus.Baud == 0 {
		c.Bus.Baud = d.Bus.Baud
	}
	if c.Bus.Bitrate == 0 {
		c.Bus.Bitrate = d.Bus.Bitrate
	}
	if c.Node.PeriodMS == 0 {
		c.Node.PeriodMS = d.Node.PeriodMS
	}
	if c.Node.IdleMS == 0 {
		c.Node.IdleMS = d.Node.IdleMS
	}
	if c.Node.QueueCapacity == 0 {
		c.Node.QueueCapacity = d.Node.QueueCapacity
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Environ returns the canloop variables from envFile overlaid with the
// process environment. An empty envFile means DefaultEnvFile, which may be
// missing; a named file must exist.
func Environ(envFile string) (map[string]string, error) {
	vars := map[string]string{}

	path := envFile
	if path == "" {
		path = DefaultEnvFile
	}
	fileVars, err := godotenv.Read(path)
	switch {
	case err == nil:
		for k, v := range fileVars {
			vars[k] = v
		}
	case envFile == "" && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read env file: %w", err)
	}

	for _, k := range []string{EnvInterface, EnvPeriodMS, EnvIdleMS, EnvPassword, EnvMetricsAddr, EnvLogLevel} {
		if v, ok := os.LookupEnv(k); ok {
			vars[k] = v
		}
	}
	return vars, nil
}

// ApplyEnv overrides c with the recognized variables in env.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v, ok := env[EnvInterface]; ok && v != "" {
		c.Bus.Interface = v
	}
	if v, ok := env[EnvPassword]; ok {
		c.Bus.Password = v
	}
	if v, ok := env[EnvMetricsAddr]; ok {
		c.Metrics.Addr = v
	}
	if v, ok := env[EnvLogLevel]; ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := env[EnvPeriodMS]; ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPeriodMS, err)
		}
		c.Node.PeriodMS = ms
	}
	if v, ok := env[EnvIdleMS]; ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIdleMS, err)
		}
		c.Node.IdleMS = ms
	}
	return nil
}

// Validate checks the node settings and controller overrides.
func (c *Config) Validate() error {
	if c.Node.PeriodMS <= 0 {
		return fmt.Errorf("period_ms must be > 0, got %d", c.Node.PeriodMS)
	}
	if c.Node.IdleMS <= 0 {
		return fmt.Errorf("idle_ms must be > 0, got %d", c.Node.IdleMS)
	}
	if c.Node.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be > 0, got %d", c.Node.QueueCapacity)
	}
	_, err := c.ControllerConfig()
	return err
}

// Period returns the transmission period.
func (c *Config) Period() time.Duration {
	return time.Duration(c.Node.PeriodMS) * time.Millisecond
}

// Idle returns the inactivity window.
func (c *Config) Idle() time.Duration {
	return time.Duration(c.Node.IdleMS) * time.Millisecond
}

// ControllerConfig applies the overrides to the controller defaults.
func (c *Config) ControllerConfig() (controller.Config, error) {
	cfg := controller.DefaultConfig()
	o := c.Controller

	for _, f := range []struct {
		name string
		src  *float64
		dst  *fixed.Q
	}{
		{"setpoint", o.Setpoint, &cfg.Setpoint},
		{"kp_t", o.KpT, &cfg.KpT},
		{"ki_t", o.KiT, &cfg.KiT},
		{"kd_t", o.KdT, &cfg.KdT},
		{"kaw_t", o.KawT, &cfg.KawT},
		{"kp_m", o.Kpm, &cfg.Kpm},
		{"ki_m", o.Kim, &cfg.Kim},
		{"kaw_m", o.Kawm, &cfg.Kawm},
		{"kvw", o.Kvw, &cfg.Kvw},
		{"kwv", o.Kwv, &cfg.Kwv},
	} {
		if f.src == nil {
			continue
		}
		if math.IsNaN(*f.src) || math.IsInf(*f.src, 0) {
			return controller.Config{}, fmt.Errorf("controller overrides: %s must be a finite number, got %v", f.name, *f.src)
		}
		*f.dst = fixed.FromFloat(*f.src)
	}
	for _, f := range []struct {
		src *int64
		dst *int64
	}{
		{o.Omega0RPM, &cfg.Omega0RPM},
		{o.V0RPM, &cfg.V0RPM},
		{o.OmegaMaxRPM, &cfg.OmegaMaxRPM},
		{o.VMaxRPM, &cfg.VMaxRPM},
		{o.VCutRPM, &cfg.VCutRPM},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}

	if err := cfg.Validate(); err != nil {
		return controller.Config{}, fmt.Errorf("controller overrides: %w", err)
	}
	return cfg, nil
}
