/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DBSYNTH_DATABASE_HOST.
const EnvPrefix = "DBSYNTH"

// Config holds all configuration for the application
type Config struct {
	Database     DatabaseConfig    `mapstructure:"database"`
	Synthesizer  SynthesizerConfig `mapstructure:"synthesizer"`
	Sampling     SamplingConfig    `mapstructure:"sampling"`
	Logging      LoggingConfig     `mapstructure:"logging"`
	GeminiAPIKey string            `mapstructure:"gemini_api_key"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Dialect                        string `mapstructure:"dialect"`
	Host                           string `mapstructure:"host"`
	Port                           int    `mapstructure:"port"`
	User                           string `mapstructure:"user"`
	Password                       string `mapstructure:"password"`
	DBName                         string `mapstructure:"dbname"`
	SSLMode                        string `mapstructure:"sslmode"`
	CloudSQLInstanceConnectionName string `mapstructure:"cloudsql_instance_connection_name"`
	UsePrivateIP                   bool   `mapstructure:"use_private_ip"`
}

// SynthesizerConfig holds the Gaussian copula settings shared by every table.
type SynthesizerConfig struct {
	EnforceMinMaxValues    bool              `mapstructure:"enforce_min_max_values"`
	EnforceRounding        bool              `mapstructure:"enforce_rounding"`
	DefaultDistribution    string            `mapstructure:"default_distribution"`
	NumericalDistributions map[string]string `mapstructure:"numerical_distributions"`
	// Transformers maps a column name to a transformer name, e.g. OneHotEncoder.
	Transformers map[string]string `mapstructure:"transformers"`
}

// SamplingConfig holds sampling and output settings.
type SamplingConfig struct {
	NumRows int `mapstructure:"num_rows"`
	// RowLimit caps rows read per table from a database; 0 reads all.
	RowLimit int    `mapstructure:"row_limit"`
	Seed     int64  `mapstructure:"seed"`
	OutDir   string `mapstructure:"out_dir"`
}

// LoggingConfig controls the global zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var globalConfig *Config

// GetConfig returns a default configuration. Configuration will be set by flags in root.go
func GetConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect: "postgres",
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Synthesizer: SynthesizerConfig{
			EnforceMinMaxValues:    true,
			EnforceRounding:        true,
			DefaultDistribution:    "beta",
			NumericalDistributions: map[string]string{},
			Transformers:           map[string]string{},
		},
		Sampling: SamplingConfig{
			OutDir: "synthetic",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetConfig sets the global configuration.
func SetConfig(cfg *Config) {
	globalConfig = cfg
}

// Current returns the configuration set by SetConfig, or the defaults.
func Current() *Config {
	if globalConfig == nil {
		return GetConfig()
	}
	return globalConfig
}

// Load layers defaults, an optional config file (YAML or JSON) and DBSYNTH_*
// environment variables.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, GetConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Synthesizer.NumericalDistributions == nil {
		cfg.Synthesizer.NumericalDistributions = map[string]string{}
	}
	if cfg.Synthesizer.Transformers == nil {
		cfg.Synthesizer.Transformers = map[string]string{}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.dialect", d.Database.Dialect)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.cloudsql_instance_connection_name", d.Database.CloudSQLInstanceConnectionName)
	v.SetDefault("database.use_private_ip", d.Database.UsePrivateIP)

	v.SetDefault("synthesizer.enforce_min_max_values", d.Synthesizer.EnforceMinMaxValues)
	v.SetDefault("synthesizer.enforce_rounding", d.Synthesizer.EnforceRounding)
	v.SetDefault("synthesizer.default_distribution", d.Synthesizer.DefaultDistribution)
	v.SetDefault("synthesizer.numerical_distributions", d.Synthesizer.NumericalDistributions)
	v.SetDefault("synthesizer.transformers", d.Synthesizer.Transformers)

	v.SetDefault("sampling.num_rows", d.Sampling.NumRows)
	v.SetDefault("sampling.row_limit", d.Sampling.RowLimit)
	v.SetDefault("sampling.seed", d.Sampling.Seed)
	v.SetDefault("sampling.out_dir", d.Sampling.OutDir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)

	v.SetDefault("gemini_api_key", d.GeminiAPIKey)
}
