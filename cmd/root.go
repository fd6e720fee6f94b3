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
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/config"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/database"
	_ "github.com/GoogleCloudPlatform/db-synthesizer/internal/database/mysql"
	_ "github.com/GoogleCloudPlatform/db-synthesizer/internal/database/postgres"
	_ "github.com/GoogleCloudPlatform/db-synthesizer/internal/database/sqlserver"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/logging"
)

var supportedDialects = []string{"postgres", "cloudsqlpostgres", "mysql", "cloudsqlmysql", "sqlserver", "cloudsqlsqlserver"}

var (
	configFile string
	dryRun     bool

	restoreLogger func()
)

// flagKeys maps persistent flags onto configuration keys. A flag only
// overrides the config file and environment when it is set explicitly.
var flagKeys = map[string]string{
	"dialect":                           "database.dialect",
	"host":                              "database.host",
	"port":                              "database.port",
	"username":                          "database.user",
	"password":                          "database.password",
	"database":                          "database.dbname",
	"sslmode":                           "database.sslmode",
	"cloudsql-instance-connection-name": "database.cloudsql_instance_connection_name",
	"cloudsql-use-private-ip":           "database.use_private_ip",
	"gemini-api-key":                    "gemini_api_key",
	"log-level":                         "logging.level",
	"seed":                              "sampling.seed",
	"default-distribution":              "synthesizer.default_distribution",
}

var rootCmd = &cobra.Command{
	Use:   "db_synthesizer",
	Short: "A tool to generate synthetic relational data",
	Long: `db_synthesizer fits Gaussian copula models to the tables of a database
or a directory of CSV files and samples synthetic rows that keep the
statistical shape and the foreign key structure of the original data.`,
	SilenceUsage:      true,
	PersistentPreRunE: initFlagsAndConfig,
}

// initFlagsAndConfig layers defaults, the config file, DBSYNTH_* variables
// and explicit flags into the global configuration and installs the logger.
func initFlagsAndConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	config.SetConfig(cfg)

	restore, err := logging.Init(cfg.Logging)
	if err != nil {
		return err
	}
	restoreLogger = restore
	zap.L().Debug("configuration loaded", zap.String("config_file", configFile),
		zap.String("dialect", cfg.Database.Dialect), zap.Bool("dry_run", dryRun))
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

func validateDialect(dialect string) error {
	for _, supportedDialect := range supportedDialects {
		if dialect == supportedDialect {
			return nil
		}
	}
	return fmt.Errorf("unsupported dialect: %s (only %s are supported)", dialect, strings.Join(supportedDialects, ", "))
}

func setupDatabase() (*database.DB, error) {
	dbConfig := config.Current().Database
	if err := validateDialect(dbConfig.Dialect); err != nil {
		return nil, err
	}
	db, err := database.New(dbConfig)
	if err != nil {
		zap.L().Error("failed to connect to database", zap.String("dialect", dbConfig.Dialect), zap.Error(err))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer func() {
		if restoreLogger != nil {
			restoreLogger()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (YAML or JSON); values can also be set via DBSYNTH_* environment variables")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", true, "Enable dry-run mode (no database modifications)")

	// Database connection flags
	rootCmd.PersistentFlags().String("dialect", "", fmt.Sprintf("Database dialect (%s)", strings.Join(supportedDialects, ", ")))
	rootCmd.PersistentFlags().String("host", "", "Database host")
	rootCmd.PersistentFlags().Int("port", 0, "Database port")
	rootCmd.PersistentFlags().String("username", "", "Database username")
	rootCmd.PersistentFlags().String("password", "", "Database password")
	rootCmd.PersistentFlags().String("database", "", "Database name")
	rootCmd.PersistentFlags().String("sslmode", "", "PostgreSQL sslmode")
	rootCmd.PersistentFlags().String("cloudsql-instance-connection-name", "", "Cloud SQL instance connection name (for Cloud SQL dialects)")
	rootCmd.PersistentFlags().Bool("cloudsql-use-private-ip", false, "Use private IP for Cloud SQL connection (Cloud SQL)")

	rootCmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key (can also be set via GEMINI_API_KEY environment variable)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int64("seed", 0, "Random seed; 0 derives seeds from the table order")
	rootCmd.PersistentFlags().String("default-distribution", "", "Default marginal family (norm, beta, truncnorm, uniform, gamma, gaussian_kde)")

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(distributionsCmd)
	rootCmd.AddCommand(detectMetadataCmd)
}
