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

// Package introspect builds table metadata from a live database and loads
// the training tables it describes.
package introspect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/database"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/genai"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
)

// DefaultExampleCount is the number of values sent to the LLM per column.
const DefaultExampleCount = 10

// DefaultConcurrency bounds the number of tables read at once.
const DefaultConcurrency = 4

type Service struct {
	dbAdapter database.DBAdapter
	llmClient genai.LLMClient
	cfg       Config
}

type Config struct {
	Retry        RetryOptions
	ExampleCount int
	Concurrency  int
}

func NewService(db database.DBAdapter, llm genai.LLMClient, cfg Config) *Service {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryOptions
	}
	if cfg.ExampleCount <= 0 {
		cfg.ExampleCount = DefaultExampleCount
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Service{
		dbAdapter: db,
		llmClient: llm,
		cfg:       cfg,
	}
}

type DetectParams struct {
	TableFilters map[string][]string
}

// DetectMetadata lists the (filtered) tables and derives column sdtypes,
// primary keys and single-column foreign key relationships.
func (s *Service) DetectMetadata(ctx context.Context, params DetectParams) (*metadata.Metadata, error) {
	startTime := time.Now()
	zap.L().Info("starting metadata detection")

	if _, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		if err := s.dbAdapter.Ping(ctx); err != nil {
			return struct{}{}, &ErrDatabaseConnection{Msg: "ping failed", Err: err}
		}
		return struct{}{}, nil
	}); err != nil {
		return nil, err
	}

	tables, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) ([]string, error) {
		names, err := s.dbAdapter.ListTables(ctx)
		if err != nil {
			return nil, queryError(ctx, "failed to list tables", err)
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}

	filteredTables := filterTables(tables, params.TableFilters)
	if missing := missingTables(tables, params.TableFilters); len(missing) > 0 {
		return nil, &ErrInvalidInput{Msg: fmt.Sprintf("tables not found: %s", strings.Join(missing, ", "))}
	}
	if len(filteredTables) == 0 {
		zap.L().Info("no tables match the provided filters")
		return &metadata.Metadata{}, nil
	}

	md := &metadata.Metadata{}
	included := make(map[string]bool, len(filteredTables))
	for _, t := range filteredTables {
		included[t] = true
	}

	var foreignKeys []detectedForeignKey
	for _, tableName := range filteredTables {
		table, fks, err := s.detectTable(ctx, tableName, params.TableFilters)
		if err != nil {
			return nil, err
		}
		md.Tables = append(md.Tables, table)
		for _, fk := range fks {
			foreignKeys = append(foreignKeys, detectedForeignKey{Table: tableName, ForeignKeyInfo: fk})
		}
	}

	for _, fk := range foreignKeys {
		child := fk.Table
		if !included[fk.ReferencedTable] {
			zap.L().Warn("skipping foreign key to a table outside the selection",
				zap.String("table", child), zap.String("column", fk.Column), zap.String("references", fk.ReferencedTable))
			continue
		}
		parent, _ := md.Table(fk.ReferencedTable)
		if parent.PrimaryKey != fk.ReferencedColumn {
			zap.L().Warn("skipping foreign key that does not reference a primary key",
				zap.String("table", child), zap.String("column", fk.Column),
				zap.String("references", fk.ReferencedTable+"."+fk.ReferencedColumn))
			continue
		}
		md.Relationships = append(md.Relationships, metadata.Relationship{
			ParentTable:      fk.ReferencedTable,
			ParentPrimaryKey: fk.ReferencedColumn,
			ChildTable:       child,
			ChildForeignKey:  fk.Column,
		})
	}

	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("detected metadata is invalid: %w", err)
	}
	zap.L().Info("metadata detection completed",
		zap.Int("tables", len(md.Tables)), zap.Int("relationships", len(md.Relationships)),
		zap.Duration("elapsed", time.Since(startTime)))
	return md, nil
}

func (s *Service) detectTable(ctx context.Context, tableName string, tableFilters map[string][]string) (*metadata.Table, []database.ForeignKeyInfo, error) {
	columnInfos, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) ([]database.ColumnInfo, error) {
		cols, err := s.dbAdapter.ListColumns(ctx, tableName)
		if err != nil {
			return nil, queryError(ctx, fmt.Sprintf("failed to list columns of %s", tableName), err)
		}
		return cols, nil
	})
	if err != nil {
		return nil, nil, err
	}

	primaryKey, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (string, error) {
		pk, err := s.dbAdapter.GetPrimaryKey(ctx, tableName)
		if err != nil {
			return "", queryError(ctx, fmt.Sprintf("failed to get primary key of %s", tableName), err)
		}
		return pk, nil
	})
	if err != nil {
		return nil, nil, err
	}

	rawFKs, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) ([]database.ForeignKeyInfo, error) {
		fks, err := s.dbAdapter.GetForeignKeys(ctx, tableName)
		if err != nil {
			return nil, queryError(ctx, fmt.Sprintf("failed to get foreign keys of %s", tableName), err)
		}
		return fks, nil
	})
	if err != nil {
		return nil, nil, err
	}
	fks := singleColumnForeignKeys(tableName, rawFKs)

	keyColumns := map[string]bool{}
	if primaryKey != "" {
		keyColumns[primaryKey] = true
	}
	for _, fk := range fks {
		keyColumns[fk.Column] = true
	}

	table := &metadata.Table{Name: tableName, PrimaryKey: primaryKey}
	for _, ci := range filterColumns(tableName, columnInfos, tableFilters, keyColumns) {
		column := ColumnFromSQLType(ci.Name, ci.DataType, keyColumns[ci.Name])
		if s.llmClient != nil && column.SDType == metadata.Categorical && isTextType(ci.DataType) {
			column = s.classifyColumn(ctx, tableName, ci, column)
		}
		table.Columns = append(table.Columns, column)
	}
	return table, fks, nil
}

// classifyColumn asks the LLM whether a text column is categorical. Any
// failure keeps the heuristic answer.
func (s *Service) classifyColumn(ctx context.Context, tableName string, ci database.ColumnInfo, heuristic metadata.Column) metadata.Column {
	logger := zap.L().With(zap.String("table", tableName), zap.String("column", ci.Name))

	sample, err := s.dbAdapter.ReadTable(ctx, tableName, []string{ci.Name}, s.cfg.ExampleCount)
	if err != nil {
		logger.Warn("failed to read example values, keeping heuristic sdtype", zap.Error(err))
		return heuristic
	}
	values, _ := sample.Column(ci.Name)
	examples := make([]string, 0, len(values))
	for _, v := range values {
		if v != nil {
			examples = append(examples, frame.FormatValue(v))
		}
	}
	if len(examples) == 0 {
		return heuristic
	}

	sdtype, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (string, error) {
		answer, err := s.llmClient.ClassifyColumn(ctx, tableName, ci.Name, ci.DataType, examples)
		if err != nil {
			return "", &ErrClassification{Msg: fmt.Sprintf("classifying %s.%s", tableName, ci.Name), Err: err}
		}
		return answer, nil
	})
	if err != nil {
		logger.Warn("LLM classification failed, keeping heuristic sdtype", zap.Error(err))
		return heuristic
	}
	if metadata.SDType(sdtype) == metadata.ID {
		return metadata.Column{Name: ci.Name, SDType: metadata.ID, Subtype: "string"}
	}
	return heuristic
}

// LoadTables reads every table of md concurrently and coerces its values to
// the declared sdtypes. A positive rowLimit caps the rows read per table.
func (s *Service) LoadTables(ctx context.Context, md *metadata.Metadata, rowLimit int) (map[string]*frame.Frame, error) {
	var mu sync.Mutex
	tables := make(map[string]*frame.Frame, len(md.Tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, table := range md.Tables {
		table := table
		g.Go(func() error {
			data, err := withRetry(gctx, s.cfg.Retry, func(ctx context.Context) (*frame.Frame, error) {
				f, err := s.dbAdapter.ReadTable(ctx, table.Name, table.ColumnNames(), rowLimit)
				if err != nil {
					return nil, queryError(ctx, fmt.Sprintf("failed to read table %s", table.Name), err)
				}
				return f, nil
			})
			if err != nil {
				return err
			}
			typed, err := table.Coerce(data)
			if err != nil {
				return fmt.Errorf("table %s: %w", table.Name, err)
			}
			zap.L().Debug("loaded table", zap.String("table", table.Name), zap.Int("rows", typed.Len()))

			mu.Lock()
			tables[table.Name] = typed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// singleColumnForeignKeys drops composite constraints, which cannot be
// expressed as a relationship.
func singleColumnForeignKeys(tableName string, fks []database.ForeignKeyInfo) []database.ForeignKeyInfo {
	counts := make(map[string]int, len(fks))
	for _, fk := range fks {
		counts[fk.ConstraintName]++
	}
	out := make([]database.ForeignKeyInfo, 0, len(fks))
	for _, fk := range fks {
		if counts[fk.ConstraintName] > 1 {
			zap.L().Warn("ignoring composite foreign key",
				zap.String("table", tableName), zap.String("constraint", fk.ConstraintName))
			continue
		}
		out = append(out, fk)
	}
	return out
}

func filterTables(allTables []string, tableFilters map[string][]string) []string {
	if len(tableFilters) == 0 {
		return allTables
	}
	filtered := make([]string, 0, len(tableFilters))
	for _, table := range allTables {
		if _, ok := tableFilters[table]; ok {
			filtered = append(filtered, table)
		}
	}
	sort.Strings(filtered)
	return filtered
}

func missingTables(allTables []string, tableFilters map[string][]string) []string {
	present := make(map[string]bool, len(allTables))
	for _, t := range allTables {
		present[t] = true
	}
	var missing []string
	for t := range tableFilters {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return missing
}

// filterColumns keeps the requested columns in database order. Key columns
// are always kept so relationships survive the filter.
func filterColumns(tableName string, allColumns []database.ColumnInfo, tableFilters map[string][]string, keep map[string]bool) []database.ColumnInfo {
	specificColumnFilters := tableFilters[tableName]
	if len(specificColumnFilters) == 0 {
		return allColumns
	}
	allowed := make(map[string]bool, len(specificColumnFilters))
	for _, colName := range specificColumnFilters {
		allowed[colName] = true
	}
	filtered := make([]database.ColumnInfo, 0, len(specificColumnFilters))
	for _, colInfo := range allColumns {
		if allowed[colInfo.Name] || keep[colInfo.Name] {
			filtered = append(filtered, colInfo)
		}
	}
	return filtered
}
