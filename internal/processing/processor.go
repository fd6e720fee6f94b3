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

// Package processing turns raw table columns into the numeric representation
// modeled by the copula, and back.
package processing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
)

// Options configures the default transformers.
type Options struct {
	EnforceMinMaxValues bool
	EnforceRounding     bool
	Seed                uint64
}

// DataProcessor holds one transformer per modeled column of a table.
type DataProcessor struct {
	table *metadata.Table
	opts  Options

	overrides     map[string]Transformer
	transformers  map[string]Transformer
	columns       []string
	idColumns     []string
	outputColumns []string
	fitted        bool
}

// NewDataProcessor returns an unfitted processor for table.
func NewDataProcessor(table *metadata.Table, opts Options) *DataProcessor {
	return &DataProcessor{
		table:     table,
		opts:      opts,
		overrides: make(map[string]Transformer),
	}
}

// DefaultTransformer returns the transformer used for a column's sdtype, or
// nil for id columns, which are not modeled.
func (p *DataProcessor) DefaultTransformer(col metadata.Column) Transformer {
	switch col.SDType {
	case metadata.Numerical:
		return &FloatFormatter{
			EnforceMinMaxValues: p.opts.EnforceMinMaxValues,
			LearnRoundingScheme: p.opts.EnforceRounding,
		}
	case metadata.Datetime:
		return &UnixTimestampEncoder{EnforceMinMaxValues: p.opts.EnforceMinMaxValues}
	case metadata.Categorical, metadata.Boolean:
		return &LabelEncoder{AddNoise: true, Seed: p.opts.Seed ^ uint64(len(col.Name))<<32}
	}
	return nil
}

// Transformers returns the transformer assignment that the next Fit uses.
func (p *DataProcessor) Transformers() map[string]Transformer {
	out := make(map[string]Transformer)
	for _, col := range p.table.Columns {
		if t, ok := p.overrides[col.Name]; ok {
			out[col.Name] = t
			continue
		}
		if t := p.DefaultTransformer(col); t != nil {
			out[col.Name] = t
		}
	}
	return out
}

// UpdateTransformers assigns transformers to columns. They take effect on the
// next Fit.
func (p *DataProcessor) UpdateTransformers(assignments map[string]Transformer) error {
	for name, t := range assignments {
		col, ok := p.table.Column(name)
		if !ok {
			return fmt.Errorf("column %s is not in table %s", name, p.table.Name)
		}
		if col.SDType == metadata.ID {
			return fmt.Errorf("column %s is an id column and cannot be transformed", name)
		}
		if t == nil {
			return fmt.Errorf("column %s: transformer cannot be nil", name)
		}
	}
	for name, t := range assignments {
		p.overrides[name] = t
	}
	return nil
}

// Fit learns every transformer from data. data may only contain columns of
// the table; its column order is kept for ReverseTransform.
func (p *DataProcessor) Fit(data *frame.Frame) error {
	p.fitted = false
	assignment := p.Transformers()
	var columns, idColumns, outputs []string
	for _, name := range data.Columns() {
		col, ok := p.table.Column(name)
		if !ok {
			return fmt.Errorf("column %s is not in the metadata of table %s", name, p.table.Name)
		}
		columns = append(columns, name)
		if col.SDType == metadata.ID {
			idColumns = append(idColumns, name)
			continue
		}
		values, _ := data.Column(name)
		t, ok := assignment[name]
		if !ok {
			return fmt.Errorf("no transformer for column %s with sdtype %s", name, col.SDType)
		}
		if err := t.Fit(name, values); err != nil {
			return fmt.Errorf("fitting %s for column %s: %w", t.Name(), name, err)
		}
		outputs = append(outputs, t.OutputColumns()...)
	}
	p.transformers = assignment
	p.columns = columns
	p.idColumns = idColumns
	p.outputColumns = outputs
	p.fitted = true
	zap.L().Debug("fitted data processor",
		zap.String("table", p.table.Name),
		zap.Int("columns", len(columns)),
		zap.Int("processed_columns", len(outputs)))
	return nil
}

// Fitted reports whether Fit has succeeded.
func (p *DataProcessor) Fitted() bool { return p.fitted }

// Columns returns the raw columns seen by Fit, in order.
func (p *DataProcessor) Columns() []string { return append([]string(nil), p.columns...) }

// IDColumns returns the id columns seen by Fit.
func (p *DataProcessor) IDColumns() []string { return append([]string(nil), p.idColumns...) }

// OutputColumns returns the processed columns in order.
func (p *DataProcessor) OutputColumns() []string { return append([]string(nil), p.outputColumns...) }

// Transform converts raw data to the processed representation.
func (p *DataProcessor) Transform(data *frame.Frame) (*frame.Frame, error) {
	if !p.fitted {
		return nil, fmt.Errorf("data processor has not been fitted")
	}
	out := frame.New()
	for _, name := range p.columns {
		t, ok := p.transformers[name]
		if !ok {
			continue
		}
		values, ok := data.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %s missing from data", name)
		}
		transformed, err := t.Transform(values)
		if err != nil {
			return nil, err
		}
		for i, outName := range t.OutputColumns() {
			if err := out.SetFloat64s(outName, transformed[i]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// FitTransform fits on data and transforms it.
func (p *DataProcessor) FitTransform(data *frame.Frame) (*frame.Frame, error) {
	if err := p.Fit(data); err != nil {
		return nil, err
	}
	return p.Transform(data)
}

// ReverseTransform converts processed data back to raw columns in the fit
// order. Id columns come back empty for the caller to fill.
func (p *DataProcessor) ReverseTransform(processed *frame.Frame) (*frame.Frame, error) {
	if !p.fitted {
		return nil, fmt.Errorf("data processor has not been fitted")
	}
	n := processed.Len()
	out := frame.New()
	for _, name := range p.columns {
		t, ok := p.transformers[name]
		if !ok {
			if err := out.SetColumn(name, make([]interface{}, n)); err != nil {
				return nil, err
			}
			continue
		}
		var inputs [][]float64
		for _, outName := range t.OutputColumns() {
			x, err := processed.Float64s(outName)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, x)
		}
		values, err := t.ReverseTransform(inputs)
		if err != nil {
			return nil, err
		}
		if err := out.SetColumn(name, values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TransformConditions maps raw column conditions to processed column values.
// Conditions on id columns are left to the caller.
func (p *DataProcessor) TransformConditions(conditions map[string]interface{}) (map[string]float64, error) {
	if !p.fitted {
		return nil, fmt.Errorf("data processor has not been fitted")
	}
	out := make(map[string]float64)
	for name, raw := range conditions {
		col, ok := p.table.Column(name)
		if !ok {
			return nil, fmt.Errorf("condition column %s is not in table %s", name, p.table.Name)
		}
		if col.SDType == metadata.ID {
			continue
		}
		t, ok := p.transformers[name]
		if !ok {
			return nil, fmt.Errorf("condition column %s was not fitted", name)
		}
		v, err := col.CoerceValue(raw)
		if err != nil {
			return nil, fmt.Errorf("condition column %s: %w", name, err)
		}
		transformed, err := t.Transform([]interface{}{v})
		if err != nil {
			return nil, fmt.Errorf("condition column %s: %w", name, err)
		}
		for i, outName := range t.OutputColumns() {
			out[outName] = transformed[i][0]
		}
	}
	return out, nil
}
