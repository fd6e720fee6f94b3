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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/config"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/database"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/genai"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/introspect"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/sdv"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/synthesizer"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/utils"
)

// source is the training data of a command: metadata plus one frame per
// table, read from CSV files or from a live database.
type source struct {
	md     *metadata.Metadata
	tables map[string]*frame.Frame
	// db is nil when the data came from CSV files.
	db *database.DB
}

func (s *source) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// addSourceFlags registers the flags read by loadSource.
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("metadata", "", "Metadata file (JSON or YAML); detected from the database when empty")
	cmd.Flags().String("data-dir", "", "Directory holding one <table>.csv per table; the database is used when empty")
	cmd.Flags().String("tables", "", "Comma-separated list of tables and columns to detect (e.g., 'table1[col1,col2],table2')")
	cmd.Flags().Int("row-limit", 0, "Maximum number of rows read per table (0 reads all rows)")
	cmd.Flags().StringToString("distribution", nil, "Per-column marginal family, e.g. 'amount=gamma,age=norm'")
	cmd.Flags().StringToString("transformer", nil, "Per-column transformer, e.g. 'country=OneHotEncoder'")
}

func loadSource(ctx context.Context, cmd *cobra.Command) (*source, error) {
	cfg := config.Current()
	metadataPath, _ := cmd.Flags().GetString("metadata")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	if dataDir != "" {
		if metadataPath == "" {
			return nil, fmt.Errorf("--metadata is required with --data-dir")
		}
		md, err := metadata.Load(metadataPath)
		if err != nil {
			return nil, err
		}
		tables, err := md.LoadCSVTables(dataDir)
		if err != nil {
			return nil, err
		}
		zap.L().Info("loaded CSV tables", zap.String("dir", dataDir), zap.Int("tables", len(tables)))
		return &source{md: md, tables: tables}, nil
	}

	db, err := setupDatabase()
	if err != nil {
		return nil, err
	}
	src := &source{db: db}
	svc := introspect.NewService(db, nil, introspect.Config{})

	if metadataPath != "" {
		src.md, err = metadata.Load(metadataPath)
	} else {
		var filters map[string][]string
		tablesFlag, _ := cmd.Flags().GetString("tables")
		filters, err = utils.ParseTablesFlag(tablesFlag)
		if err == nil {
			src.md, err = svc.DetectMetadata(ctx, introspect.DetectParams{TableFilters: filters})
		}
	}
	if err != nil {
		src.Close()
		return nil, err
	}

	rowLimit := cfg.Sampling.RowLimit
	if cmd.Flags().Changed("row-limit") {
		rowLimit, _ = cmd.Flags().GetInt("row-limit")
	}
	src.tables, err = svc.LoadTables(ctx, src.md, rowLimit)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	return src, nil
}

// sdvOptions converts the configuration, plus any --distribution and
// --transformer overrides, into orchestrator options.
func sdvOptions(cfg *config.Config, distributionOverrides, transformerOverrides map[string]string) (sdv.Options, error) {
	distributions, err := synthesizer.ParseNumericalDistributions(cfg.Synthesizer.NumericalDistributions)
	if err != nil {
		return sdv.Options{}, err
	}
	for column, family := range distributionOverrides {
		distributions[column] = family
	}
	transformers := make(map[string]string, len(cfg.Synthesizer.Transformers)+len(transformerOverrides))
	for column, name := range cfg.Synthesizer.Transformers {
		transformers[column] = name
	}
	for column, name := range transformerOverrides {
		transformers[column] = name
	}
	return sdv.Options{
		Synthesizer: synthesizer.Options{
			EnforceMinMaxValues:    cfg.Synthesizer.EnforceMinMaxValues,
			EnforceRounding:        cfg.Synthesizer.EnforceRounding,
			NumericalDistributions: distributions,
			DefaultDistribution:    cfg.Synthesizer.DefaultDistribution,
			Transformers:           transformers,
		},
		Seed: cfg.Sampling.Seed,
	}, nil
}

func fitSDV(cmd *cobra.Command, md *metadata.Metadata, tables map[string]*frame.Frame) (*sdv.SDV, error) {
	distributions, _ := cmd.Flags().GetStringToString("distribution")
	transformers, _ := cmd.Flags().GetStringToString("transformer")
	opts, err := sdvOptions(config.Current(), distributions, transformers)
	if err != nil {
		return nil, err
	}
	model := sdv.New(opts)
	if err := model.Fit(md, tables); err != nil {
		return nil, fmt.Errorf("failed to fit synthesizer: %w", err)
	}
	return model, nil
}

// writeCSVTables writes <dir>/<table>.csv for every sampled table and returns
// the written paths, sorted.
func writeCSVTables(dir string, tables map[string]*frame.Frame) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	var paths []string
	for name, data := range tables {
		path := filepath.Join(dir, name+".csv")
		if err := data.WriteCSVFile(path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// insertStatements renders sampled tables as INSERT statements, parents
// before children.
func insertStatements(md *metadata.Metadata, handler database.DialectHandler, tables map[string]*frame.Frame) ([]string, error) {
	order, err := md.InsertionOrder()
	if err != nil {
		return nil, err
	}
	var statements []string
	for _, name := range order {
		data, ok := tables[name]
		if !ok {
			continue
		}
		stmts, err := database.BuildInsertStatements(handler, name, data, database.DefaultInsertBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to render rows of %s: %w", name, err)
		}
		statements = append(statements, stmts...)
	}
	return statements, nil
}

// newLLMClient returns a Gemini client, or nil when no usable key is configured.
func newLLMClient(ctx context.Context, apiKey, model, contextFiles string) (genai.LLMClient, error) {
	additionalContext, err := utils.ReadContextFiles(contextFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to read context files: %w", err)
	}
	if apiKey == "" {
		if additionalContext != "" {
			return nil, fmt.Errorf("additional context is provided, but Gemini API key is not configured. Please set the GEMINI_API_KEY environment variable")
		}
		zap.L().Warn("no Gemini API key provided, text columns are classified from their SQL type only")
		return nil, nil
	}
	client, err := genai.NewClient(ctx, genai.Config{APIKey: apiKey, Model: model, AdditionalContext: additionalContext})
	if err != nil {
		return nil, err
	}
	if err := client.IsAPIKeyValid(ctx); err != nil {
		client.Close()
		zap.L().Warn("Gemini API key is invalid, text columns are classified from their SQL type only", zap.Error(err))
		return nil, nil
	}
	return client, nil
}
