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

// Package config loads, validates and persists the agent configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"reflect"

	"github.com/carverauto/cmdagent/pkg/logger"
)

// EnvPrefix prefixes every environment variable the agent reads.
const EnvPrefix = "CMDAGENT_"

var (
	errInvalidConfigPtr = errors.New("config must be a non-nil pointer")
	errLoadConfigFailed = errors.New("failed to load configuration")
)

// ConfigLoader fills dst from a single source.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configurations that can check themselves.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	fileLoader ConfigLoader
	envLoader  ConfigLoader
	logger     logger.Logger
}

// NewConfig initializes a Config with the file and environment loaders.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		fileLoader: &FileConfigLoader{},
		envLoader:  NewEnvConfigLoader(log, EnvPrefix),
		logger:     log,
	}
}

// LoadAndValidate overlays the file at path (when it exists) and then the
// environment onto cfg, and validates the result. cfg should already hold defaults.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	if path != "" {
		err := c.fileLoader.Load(ctx, path, cfg)

		switch {
		case errors.Is(err, fs.ErrNotExist):
			c.logger.Info().Str("path", path).Msg("Config file not found, using defaults")
		case err != nil:
			return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
		default:
			c.logger.Debug().Str("path", path).Msg("Loaded config file")
		}
	}

	if err := c.envLoader.Load(ctx, path, cfg); err != nil {
		return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
	}

	return ValidateConfig(cfg)
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// Load builds an AgentConfig from defaults, the file at path and the environment.
func Load(ctx context.Context, path string, log logger.Logger) (*AgentConfig, error) {
	cfg := Default()

	if err := NewConfig(log).LoadAndValidate(ctx, path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
