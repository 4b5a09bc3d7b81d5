/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package scanlog provides JSON structured logging for the scanning
// engine, built on zerolog.
package scanlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mock_logger.go -package=scanlog github.com/prtip/prtip/pkg/scanlog Logger

// Logger is the interface every engine component is constructed with.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) Logger
	SetLevel(level zerolog.Level)
}

// Config configures the global logger. Fields mirror the env vars below.
type Config struct {
	Level  string `json:"level"`
	Debug  bool   `json:"debug"`
	Output string `json:"output"` // "stdout" | "stderr"
}

// DefaultConfig reads PRTIP_LOG_LEVEL / PRTIP_LOG_DEBUG / PRTIP_LOG_OUTPUT.
func DefaultConfig() Config {
	return Config{
		Level:  getEnvOrDefault("PRTIP_LOG_LEVEL", "info"),
		Debug:  getEnvBoolOrDefault("PRTIP_LOG_DEBUG", false),
		Output: getEnvOrDefault("PRTIP_LOG_OUTPUT", "stdout"),
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true"
}

type logger struct {
	z zerolog.Logger
}

// New builds a Logger from Config.
func New(cfg Config) Logger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		if l, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = l
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	z := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &logger{z: z}
}

// NewTest returns a logger that discards all output, for use in tests.
func NewTest() Logger {
	return &logger{z: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}

func (l *logger) Trace() *zerolog.Event { return l.z.Trace() }
func (l *logger) Debug() *zerolog.Event { return l.z.Debug() }
func (l *logger) Info() *zerolog.Event  { return l.z.Info() }
func (l *logger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l *logger) Error() *zerolog.Event { return l.z.Error() }
func (l *logger) With() zerolog.Context { return l.z.With() }

func (l *logger) WithComponent(component string) Logger {
	return &logger{z: l.z.With().Str("component", component).Logger()}
}

func (l *logger) SetLevel(level zerolog.Level) {
	l.z = l.z.Level(level)
}
