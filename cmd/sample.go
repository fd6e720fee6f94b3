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
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/database"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/sdv"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/utils"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Fit the synthesizer to a database or CSV files and sample synthetic rows",
	Long: `Loads the training tables from a database or from a directory of CSV files, fits one Gaussian copula per table and samples synthetic rows, keeping foreign keys consistent.

The sampled tables are written as CSV files to --out-dir. With --out_file they are also rendered as INSERT statements for the configured dialect; when --dry-run=false the statements are executed after confirmation.`,
	Example: `./db_synthesizer sample --dialect postgres --host localhost --port 5432 --username user --password pass --database shop --tables "users,orders" --num-rows 100 --out_file ./shop_synthetic.sql
./db_synthesizer sample --metadata ./metadata.json --data-dir ./data --table users --num-rows 50 --reset-primary-keys`,
	RunE: runSample,
}

func runSample(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	ctx := cmd.Context()

	src, err := loadSource(ctx, cmd)
	if err != nil {
		return err
	}
	defer src.Close()

	model, err := fitSDV(cmd, src.md, src.tables)
	if err != nil {
		return err
	}

	tableName, _ := cmd.Flags().GetString("table")
	all, _ := cmd.Flags().GetBool("all")
	numRows := cfg.Sampling.NumRows
	if cmd.Flags().Changed("num-rows") {
		numRows, _ = cmd.Flags().GetInt("num-rows")
	}

	var sampled map[string]*frame.Frame
	if all || tableName == "" {
		sampled, err = model.SampleAll(numRows)
	} else {
		noChildren, _ := cmd.Flags().GetBool("no-children")
		resetKeys, _ := cmd.Flags().GetBool("reset-primary-keys")
		sampled, err = model.Sample(tableName, sdv.SampleParams{
			NumRows:          numRows,
			SkipChildren:     noChildren,
			ResetPrimaryKeys: resetKeys,
		})
	}
	if err != nil {
		return fmt.Errorf("sampling failed: %w", err)
	}
	printRowCounts(cmd.OutOrStdout(), src.tables, sampled)

	outDir := cfg.Sampling.OutDir
	if cmd.Flags().Changed("out-dir") {
		outDir, _ = cmd.Flags().GetString("out-dir")
	}
	if outDir != "" {
		paths, err := writeCSVTables(outDir, sampled)
		if err != nil {
			return err
		}
		zap.L().Info("wrote synthetic tables", zap.String("dir", outDir), zap.Int("files", len(paths)))
	}

	outputFile, _ := cmd.Flags().GetString("out_file")
	if outputFile == "" {
		if src.db == nil {
			return nil
		}
		outputFile = utils.GetDefaultOutputFilePath(cfg.Database.DBName, "sample")
	}
	return writeAndApplyInserts(cmd, src, sampled, outputFile)
}

func writeAndApplyInserts(cmd *cobra.Command, src *source, sampled map[string]*frame.Frame, outputFile string) error {
	cfg := config.Current()
	if err := validateDialect(cfg.Database.Dialect); err != nil {
		return err
	}
	handler, err := database.GetDialectHandler(cfg.Database.Dialect)
	if err != nil {
		return err
	}
	sqlStatements, err := insertStatements(src.md, handler, sampled)
	if err != nil {
		return err
	}
	if err := utils.WriteSQLStatementsToFile(outputFile, sqlStatements); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "INSERT statements have been written to: %s\n", outputFile)

	if dryRun {
		zap.L().Info("sample operation completed in dry-run mode, no changes were made to the database")
		return nil
	}
	if len(sqlStatements) == 0 {
		zap.L().Info("no rows to insert")
		return nil
	}
	if !utils.ConfirmAction("INSERT statements for synthetic rows") {
		zap.L().Info("insert aborted by user")
		return nil
	}

	db := src.db
	if db == nil {
		if db, err = setupDatabase(); err != nil {
			return err
		}
		defer db.Close()
	}
	// Re-read the file, which may have been edited before confirming.
	sqlStatements, err = utils.ReadSQLStatementsFromFile(outputFile)
	if err != nil {
		return fmt.Errorf("failed to read SQL statements from output file: %w", err)
	}
	if err := db.ExecuteSQLStatements(cmd.Context(), sqlStatements); err != nil {
		return fmt.Errorf("failed to insert synthetic rows: %w", err)
	}
	color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "Successfully inserted synthetic rows into the database.")
	return nil
}

func init() {
	addSourceFlags(sampleCmd)
	sampleCmd.Flags().String("table", "", "Table to sample; every root table is sampled when empty")
	sampleCmd.Flags().Int("num-rows", 0, "Rows to sample (0 samples as many rows as the training table had)")
	sampleCmd.Flags().Bool("no-children", false, "Do not sample the child tables of --table")
	sampleCmd.Flags().Bool("reset-primary-keys", false, "Restart generated keys of --table and its descendants")
	sampleCmd.Flags().Bool("all", false, "Sample every root table with its descendants")
	sampleCmd.Flags().String("out-dir", "", "Directory to write the sampled tables to as CSV files (defaults to sampling.out_dir)")
	sampleCmd.Flags().StringP("out_file", "o", "", "File path to output INSERT statements (defaults to <database>_synthetic.sql when reading from a database)")
}
