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

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/config"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/genai"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/introspect"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/utils"
)

var detectMetadataCmd = &cobra.Command{
	Use:   "detect-metadata",
	Short: "Detect table metadata from a database",
	Long: `Connects to the database, derives column sdtypes, primary keys and foreign key relationships, and writes the metadata to a file for review before sampling.

When a Gemini API key is configured, text columns are classified as categorical or id from example values.`,
	Example: `./db_synthesizer detect-metadata --dialect cloudsqlpostgres --username user --password pass --database mydb --cloudsql-instance-connection-name my-project:my-region:my-instance --tables "users,orders[id,user_id,amount]" --out_file ./mydb_metadata.json`,
	RunE:    runDetectMetadata,
}

func runDetectMetadata(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	ctx := cmd.Context()

	outputFile, _ := cmd.Flags().GetString("out_file")
	if outputFile == "" {
		outputFile = utils.GetDefaultOutputFilePath(cfg.Database.DBName, "detect-metadata")
	}
	tablesFlag, _ := cmd.Flags().GetString("tables")
	tableFilters, err := utils.ParseTablesFlag(tablesFlag)
	if err != nil {
		return err
	}

	zap.L().Info("starting detect-metadata operation",
		zap.String("dialect", cfg.Database.Dialect), zap.String("database", cfg.Database.DBName))

	db, err := setupDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	model, _ := cmd.Flags().GetString("model")
	contextFiles, _ := cmd.Flags().GetString("context")
	llm, err := newLLMClient(ctx, cfg.GeminiAPIKey, model, contextFiles)
	if err != nil {
		return err
	}
	if llm != nil {
		defer llm.Close()
	}

	exampleCount, _ := cmd.Flags().GetInt("examples")
	svc := introspect.NewService(db, llm, introspect.Config{ExampleCount: exampleCount})
	md, err := svc.DetectMetadata(ctx, introspect.DetectParams{TableFilters: tableFilters})
	if err != nil {
		return fmt.Errorf("metadata detection failed: %w", err)
	}
	if err := md.Save(outputFile); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Metadata for %d tables and %d relationships has been written to: %s\n",
		len(md.Tables), len(md.Relationships), outputFile)
	return nil
}

func init() {
	detectMetadataCmd.Flags().StringP("out_file", "o", "", "File path to write the metadata to (defaults to <database>_metadata.json; .yaml writes YAML)")
	detectMetadataCmd.Flags().String("tables", "", "Comma-separated list of tables and columns to include (e.g., 'table1[col1,col2],table2,table3[col4]')")
	detectMetadataCmd.Flags().String("model", genai.DefaultModel, "Gemini model used to classify text columns")
	detectMetadataCmd.Flags().String("context", "", "Comma-separated list of context files added to the classification prompt")
	detectMetadataCmd.Flags().Int("examples", introspect.DefaultExampleCount, "Number of example values sent to the model per column")
}
