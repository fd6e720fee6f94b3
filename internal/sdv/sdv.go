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

// Package sdv fits one synthesizer per table of a relational dataset and
// samples tables together with their children.
package sdv

import (
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/keygen"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/synthesizer"
)

// Options configures the per-table synthesizers.
type Options struct {
	// Synthesizer applies to every table without an entry in TableOptions.
	Synthesizer  synthesizer.Options
	TableOptions map[string]synthesizer.Options
	Seed         int64
}

// DefaultOptions returns the options used by New when none are given.
func DefaultOptions() Options {
	return Options{Synthesizer: synthesizer.DefaultOptions()}
}

// SampleParams controls a single Sample call. Zero NumRows samples as many
// rows as the table had when fitted.
type SampleParams struct {
	NumRows          int
	SkipChildren     bool
	ResetPrimaryKeys bool
}

// SDV is the multi-table orchestrator.
type SDV struct {
	opts Options

	metadata    *metadata.Metadata
	models      map[string]*synthesizer.GaussianCopula
	columns     map[string][]string
	rowCounts   map[string]int
	primaryKeys map[string][]interface{}
	// maxChildren is the largest fitted value of each extension column.
	maxChildren map[string]int
	keys        *keygen.Context
	rng         *rand.Rand
	fitted      bool
}

// New returns an unfitted orchestrator.
func New(opts Options) *SDV {
	return &SDV{opts: opts}
}

// ExtensionColumn names the column holding, for each parent row, how many
// rows of the child reference it through foreignKey.
func ExtensionColumn(child, foreignKey string) string {
	return fmt.Sprintf("__%s__%s__num_rows", child, foreignKey)
}

// Fitted reports whether Fit has succeeded.
func (s *SDV) Fitted() bool { return s.fitted }

// Metadata returns the fitted metadata.
func (s *SDV) Metadata() *metadata.Metadata { return s.metadata }

func (s *SDV) tableOptions(name string, index int) synthesizer.Options {
	opts := s.opts.Synthesizer
	if o, ok := s.opts.TableOptions[name]; ok {
		opts = o
	}
	if opts.Seed == 0 {
		opts.Seed = s.opts.Seed + int64(index)
	}
	return opts
}

// Fit fits one synthesizer per table. Each parent table is modeled together
// with the child row counts of its rows.
func (s *SDV) Fit(md *metadata.Metadata, tables map[string]*frame.Frame) error {
	s.fitted = false
	if md == nil {
		return &synthesizer.ErrInvalidInput{Msg: "metadata is required"}
	}
	if err := md.Validate(); err != nil {
		return &synthesizer.ErrInvalidInput{Msg: "invalid metadata", Err: err}
	}
	for _, table := range md.Tables {
		data, ok := tables[table.Name]
		if !ok {
			return &synthesizer.ErrInvalidInput{Msg: fmt.Sprintf("no data for table %s", table.Name)}
		}
		if err := table.ValidateData(data); err != nil {
			return &synthesizer.ErrInvalidInput{Msg: "data does not match metadata", Err: err}
		}
	}

	models := make(map[string]*synthesizer.GaussianCopula, len(md.Tables))
	columns := make(map[string][]string, len(md.Tables))
	rowCounts := make(map[string]int, len(md.Tables))
	primaryKeys := make(map[string][]interface{}, len(md.Tables))
	maxChildren := make(map[string]int)
	keys := keygen.NewContext(uint64(s.opts.Seed))

	for i, table := range md.Tables {
		data := tables[table.Name]
		zap.L().Info("fitting table", zap.String("table", table.Name), zap.Int("rows", data.Len()))

		extended, extendedTable, err := extend(md, table, data, tables)
		if err != nil {
			return fmt.Errorf("fitting table %s: %w", table.Name, err)
		}
		model, err := synthesizer.NewGaussianCopula(extendedTable, s.tableOptions(table.Name, i))
		if err != nil {
			return fmt.Errorf("fitting table %s: %w", table.Name, err)
		}
		if err := model.Fit(extended); err != nil {
			return fmt.Errorf("fitting table %s: %w", table.Name, err)
		}
		for _, rel := range md.Children(table.Name) {
			name := ExtensionColumn(rel.ChildTable, rel.ChildForeignKey)
			counts, _ := extended.Column(name)
			maxChildren[name] = maxCount(counts)
		}
		for _, col := range table.Columns {
			if col.SDType != metadata.ID {
				continue
			}
			if err := keys.Register(table.Name, col); err != nil {
				return fmt.Errorf("fitting table %s: %w", table.Name, err)
			}
		}

		models[table.Name] = model
		columns[table.Name] = data.Columns()
		rowCounts[table.Name] = data.Len()
		if table.PrimaryKey != "" {
			pks, _ := data.Column(table.PrimaryKey)
			primaryKeys[table.Name] = append([]interface{}(nil), pks...)
		}
	}

	s.metadata = md
	s.models = models
	s.columns = columns
	s.rowCounts = rowCounts
	s.primaryKeys = primaryKeys
	s.maxChildren = maxChildren
	s.keys = keys
	s.rng = rand.New(rand.NewPCG(uint64(s.opts.Seed), uint64(s.opts.Seed)+1))
	s.fitted = true
	zap.L().Info("fitted all tables", zap.Int("tables", len(models)))
	return nil
}

// extend adds one extension column per child relationship of table.
func extend(md *metadata.Metadata, table *metadata.Table, data *frame.Frame, tables map[string]*frame.Frame) (*frame.Frame, *metadata.Table, error) {
	extended := data.Clone()
	extendedTable := table.Clone()
	for _, rel := range md.Children(table.Name) {
		childData := tables[rel.ChildTable]
		fks, _ := childData.Column(rel.ChildForeignKey)
		counts := make(map[interface{}]int64, len(fks))
		for _, fk := range fks {
			if fk == nil {
				continue
			}
			counts[frame.Key(fk)]++
		}
		pks, _ := data.Column(rel.ParentPrimaryKey)
		values := make([]interface{}, len(pks))
		for i, pk := range pks {
			values[i] = counts[frame.Key(pk)]
		}
		name := ExtensionColumn(rel.ChildTable, rel.ChildForeignKey)
		if err := extended.SetColumn(name, values); err != nil {
			return nil, nil, err
		}
		extendedTable.Columns = append(extendedTable.Columns, metadata.Column{
			Name:    name,
			SDType:  metadata.Numerical,
			Subtype: "integer",
		})
	}
	return extended, extendedTable, nil
}

// Sample samples a table and, unless SkipChildren is set, all of its
// descendants. Keys continue from previous calls unless ResetPrimaryKeys is
// set, in which case the keys of the table and its descendants restart.
func (s *SDV) Sample(tableName string, params SampleParams) (map[string]*frame.Frame, error) {
	if !s.fitted {
		return nil, &synthesizer.ErrNotFitted{Msg: "this SDV instance has not been fitted, please fit it before sampling"}
	}
	if _, ok := s.models[tableName]; !ok {
		return nil, &synthesizer.ErrInvalidInput{Msg: fmt.Sprintf("unknown table %s", tableName)}
	}
	if params.NumRows < 0 {
		return nil, &synthesizer.ErrInvalidInput{Msg: fmt.Sprintf("num_rows cannot be negative, got %d", params.NumRows)}
	}
	numRows := params.NumRows
	if numRows == 0 {
		numRows = s.rowCounts[tableName]
	}
	if params.ResetPrimaryKeys {
		s.keys.Reset(append([]string{tableName}, s.metadata.Descendants(tableName)...)...)
	}

	result, err := s.sampleTables([]string{tableName}, func(string) int { return numRows }, params.SkipChildren)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("sampled table", zap.String("table", tableName), zap.Int("rows", numRows),
		zap.Int("tables", len(result)))
	return result, nil
}

// SampleAll samples every root table and every descendant once. Foreign keys
// of tables with several parents reference the parent rows sampled in the
// same call.
func (s *SDV) SampleAll(numRows int) (map[string]*frame.Frame, error) {
	if !s.fitted {
		return nil, &synthesizer.ErrNotFitted{Msg: "this SDV instance has not been fitted, please fit it before sampling"}
	}
	if numRows < 0 {
		return nil, &synthesizer.ErrInvalidInput{Msg: fmt.Sprintf("num_rows cannot be negative, got %d", numRows)}
	}
	rowsFor := func(name string) int {
		if numRows > 0 {
			return numRows
		}
		return s.rowCounts[name]
	}
	return s.sampleTables(s.metadata.RootTables(), rowsFor, false)
}

// GetLearnedDistributions returns the learned distributions of one table.
func (s *SDV) GetLearnedDistributions(tableName string) (map[string]synthesizer.Distribution, error) {
	if !s.fitted {
		return nil, &synthesizer.ErrNotFitted{Msg: "this SDV instance has not been fitted"}
	}
	model, ok := s.models[tableName]
	if !ok {
		return nil, &synthesizer.ErrInvalidInput{Msg: fmt.Sprintf("unknown table %s", tableName)}
	}
	return model.GetLearnedDistributions()
}

// sampleRows draws n rows including extension columns and fills the
// non-foreign-key id columns from the shared key context. Foreign keys are
// left for the caller.
func (s *SDV) sampleRows(tableName string, n int) (*frame.Frame, error) {
	model := s.models[tableName]
	var rows *frame.Frame
	if n == 0 {
		rows = frame.New(model.Processor().Columns()...)
	} else {
		var err error
		rows, err = model.SampleWithoutKeys(n, nil)
		if err != nil {
			return nil, fmt.Errorf("sampling table %s: %w", tableName, err)
		}
	}
	foreignKeys := make(map[string]bool)
	for _, fk := range s.metadata.ForeignKeys(tableName) {
		foreignKeys[fk] = true
	}
	table, _ := s.metadata.Table(tableName)
	for _, col := range table.Columns {
		if col.SDType != metadata.ID || foreignKeys[col.Name] {
			continue
		}
		ids, err := s.keys.Generate(tableName, col.Name, n)
		if err != nil {
			return nil, err
		}
		if err := rows.SetColumn(col.Name, ids); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// sampleTables samples the start tables and, unless skipChildren is set,
// each of their descendants exactly once, parents before children.
func (s *SDV) sampleTables(start []string, numRows func(string) int, skipChildren bool) (map[string]*frame.Frame, error) {
	order, err := s.metadata.InsertionOrder()
	if err != nil {
		return nil, err
	}
	starts := make(map[string]bool, len(start))
	include := make(map[string]bool)
	for _, name := range start {
		starts[name] = true
		include[name] = true
		if skipChildren {
			continue
		}
		for _, d := range s.metadata.Descendants(name) {
			include[d] = true
		}
	}

	sampled := make(map[string]*frame.Frame, len(include))
	for _, name := range order {
		if !include[name] {
			continue
		}
		var rows *frame.Frame
		if starts[name] {
			rows, err = s.sampleRows(name, numRows(name))
			if err == nil {
				err = s.fillForeignKeys(rows, name, nil, sampled)
			}
		} else {
			rows, err = s.sampleChild(name, sampled)
		}
		if err != nil {
			return nil, err
		}
		sampled[name] = rows
	}

	result := make(map[string]*frame.Frame, len(sampled))
	for name, rows := range sampled {
		if err := s.collect(result, name, rows); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// sampleChild samples a table below an already sampled parent. The first
// sampled parent decides the row count: each of its rows yields as many
// child rows as its extension column says, all referencing its primary key.
func (s *SDV) sampleChild(name string, sampled map[string]*frame.Frame) (*frame.Frame, error) {
	var driver *metadata.Relationship
	for _, rel := range s.metadata.Parents(name) {
		if _, ok := sampled[rel.ParentTable]; ok {
			driver = &rel
			break
		}
	}
	if driver == nil {
		return nil, fmt.Errorf("table %s has no sampled parent", name)
	}
	parentRows := sampled[driver.ParentTable]
	ext := ExtensionColumn(name, driver.ChildForeignKey)
	extValues, ok := parentRows.Column(ext)
	if !ok {
		return nil, fmt.Errorf("table %s is missing extension column for child %s", driver.ParentTable, name)
	}
	parentKeys, _ := parentRows.Column(driver.ParentPrimaryKey)

	var foreignKeys []interface{}
	for i, v := range extValues {
		for j := 0; j < childCount(v, s.maxChildren[ext]); j++ {
			foreignKeys = append(foreignKeys, parentKeys[i])
		}
	}

	rows, err := s.sampleRows(name, len(foreignKeys))
	if err != nil {
		return nil, err
	}
	if err := rows.SetColumn(driver.ChildForeignKey, foreignKeys); err != nil {
		return nil, err
	}
	if err := s.fillForeignKeys(rows, name, driver, sampled); err != nil {
		return nil, err
	}
	zap.L().Debug("sampled child table", zap.String("parent", driver.ParentTable),
		zap.String("child", name), zap.Int("rows", rows.Len()))
	return rows, nil
}

// fillForeignKeys fills every foreign key of rows except the one of skip.
func (s *SDV) fillForeignKeys(rows *frame.Frame, name string, skip *metadata.Relationship, sampled map[string]*frame.Frame) error {
	for _, rel := range s.metadata.Parents(name) {
		if skip != nil && rel == *skip {
			continue
		}
		if err := s.fillFromParent(rows, rel, sampled); err != nil {
			return err
		}
	}
	return nil
}

// fillFromParent sets a foreign key column to primary keys of the parent:
// the rows sampled in this call when the parent is part of it, else the
// parent's original keys. Keys are nil when the pool is empty.
func (s *SDV) fillFromParent(rows *frame.Frame, rel metadata.Relationship, sampled map[string]*frame.Frame) error {
	pool := s.primaryKeys[rel.ParentTable]
	if parentRows, ok := sampled[rel.ParentTable]; ok {
		pool, _ = parentRows.Column(rel.ParentPrimaryKey)
	}
	values := make([]interface{}, rows.Len())
	if len(pool) > 0 {
		for i := range values {
			values[i] = pool[s.rng.IntN(len(pool))]
		}
	}
	return rows.SetColumn(rel.ChildForeignKey, values)
}

// childCount rounds a sampled extension value to a row count in [0, limit].
func childCount(v interface{}, limit int) int {
	f, ok := frame.ToFloat64(v)
	if !ok || math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= float64(limit) {
		return limit
	}
	return int(math.Round(f))
}

func maxCount(counts []interface{}) int {
	var out int
	for _, v := range counts {
		if f, ok := frame.ToFloat64(v); ok && f > float64(out) {
			out = int(f)
		}
	}
	return out
}

// collect drops extension columns, restores the original column order and
// stores the rows in result.
func (s *SDV) collect(result map[string]*frame.Frame, tableName string, rows *frame.Frame) error {
	if rows.Len() == 0 {
		// A zero-row frame may lack columns that were never set.
		result[tableName] = frame.New(s.columns[tableName]...)
		return nil
	}
	out, err := rows.Select(s.columns[tableName]...)
	if err != nil {
		return fmt.Errorf("collecting table %s: %w", tableName, err)
	}
	result[tableName] = out
	return nil
}
