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
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/synthesizer"
)

var distributionsCmd = &cobra.Command{
	Use:     "distributions",
	Short:   "Print the marginal distributions learned for a table",
	Long:    `Fits the synthesizer and prints, for every modeled column of --table, the distribution family and its learned parameters.`,
	Example: `./db_synthesizer distributions --metadata ./metadata.json --data-dir ./data --table users --format table`,
	RunE:    runDistributions,
}

func runDistributions(cmd *cobra.Command, args []string) error {
	tableName, _ := cmd.Flags().GetString("table")
	if tableName == "" {
		return fmt.Errorf("--table is required")
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "table" {
		return fmt.Errorf("unsupported format: %s (only json, table are supported)", format)
	}

	src, err := loadSource(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer src.Close()

	model, err := fitSDV(cmd, src.md, src.tables)
	if err != nil {
		return err
	}
	dists, err := model.GetLearnedDistributions(tableName)
	if err != nil {
		return err
	}
	if format == "json" {
		return printDistributionsJSON(cmd.OutOrStdout(), dists)
	}
	return printDistributionsTable(cmd.OutOrStdout(), dists)
}

func printDistributionsJSON(w io.Writer, dists map[string]synthesizer.Distribution) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(dists)
}

func printDistributionsTable(w io.Writer, dists map[string]synthesizer.Distribution) error {
	columns := make([]string, 0, len(dists))
	for c := range dists {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Column", "Distribution", "Learned parameters"})
	for _, c := range columns {
		params, err := json.Marshal(dists[c].LearnedParameters)
		if err != nil {
			return fmt.Errorf("encoding parameters of %s: %w", c, err)
		}
		t.AppendRow(table.Row{c, dists[c].Distribution, string(params)})
	}
	t.Render()
	return nil
}

func init() {
	addSourceFlags(distributionsCmd)
	distributionsCmd.Flags().String("table", "", "Table whose distributions are printed - MANDATORY")
	distributionsCmd.Flags().String("format", "json", "Output format (json or table)")
}
