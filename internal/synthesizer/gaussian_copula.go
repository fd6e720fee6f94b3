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

// Package synthesizer provides the single-table Gaussian copula synthesizer.
package synthesizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/copystructure"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/copula"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/keygen"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/processing"
)

// DefaultDistribution is used for columns without an override.
const DefaultDistribution = "beta"

// Options configures a GaussianCopula.
type Options struct {
	EnforceMinMaxValues    bool
	EnforceRounding        bool
	NumericalDistributions map[string]string
	DefaultDistribution    string
	// Transformers maps a column to a transformer name, see
	// processing.NewTransformer. Columns absent from the table are ignored.
	Transformers map[string]string
	Seed         int64
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		EnforceMinMaxValues: true,
		EnforceRounding:     true,
		DefaultDistribution: DefaultDistribution,
	}
}

// Distribution is the learned marginal of one modeled column.
type Distribution struct {
	Distribution      string                 `json:"distribution"`
	LearnedParameters map[string]interface{} `json:"learned_parameters"`
}

// GaussianCopula models a single table with a Gaussian copula over its
// processed columns.
type GaussianCopula struct {
	table         *metadata.Table
	opts          Options
	defaultFamily copula.Family
	distributions map[string]copula.Family

	processor *processing.DataProcessor
	keys      *keygen.Context
	model     *copula.GaussianMultivariate
	fitted    bool
}

// NewGaussianCopula validates the configuration and returns an unfitted
// synthesizer for table.
func NewGaussianCopula(table *metadata.Table, opts Options) (*GaussianCopula, error) {
	if table == nil {
		return nil, &ErrInvalidConfig{Msg: "table metadata is required"}
	}
	table = table.Clone()
	if err := table.Validate(); err != nil {
		return nil, &ErrInvalidConfig{Msg: "invalid table metadata", Err: err}
	}
	if opts.DefaultDistribution == "" {
		opts.DefaultDistribution = DefaultDistribution
	}
	defaultFamily, err := copula.ParseFamily(opts.DefaultDistribution)
	if err != nil {
		return nil, &ErrInvalidConfig{Msg: "invalid default_distribution", Err: err}
	}
	distributions := make(map[string]copula.Family, len(opts.NumericalDistributions))
	for _, column := range sortedKeys(opts.NumericalDistributions) {
		f, err := copula.ParseFamily(opts.NumericalDistributions[column])
		if err != nil {
			return nil, &ErrInvalidConfig{Msg: fmt.Sprintf("invalid numerical_distributions entry for column %s", column), Err: err}
		}
		distributions[column] = f
	}

	keys := keygen.NewContext(uint64(opts.Seed))
	for _, col := range table.Columns {
		if col.SDType != metadata.ID {
			continue
		}
		if err := keys.Register(table.Name, col); err != nil {
			return nil, &ErrInvalidConfig{Msg: "invalid id column", Err: err}
		}
	}

	g := &GaussianCopula{
		table:         table,
		opts:          opts,
		defaultFamily: defaultFamily,
		distributions: distributions,
		processor: processing.NewDataProcessor(table, processing.Options{
			EnforceMinMaxValues: opts.EnforceMinMaxValues,
			EnforceRounding:     opts.EnforceRounding,
			Seed:                uint64(opts.Seed),
		}),
		keys: keys,
	}
	if err := g.applyTransformerNames(opts.Transformers); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GaussianCopula) applyTransformerNames(names map[string]string) error {
	assignments := make(map[string]processing.Transformer)
	for _, column := range sortedKeys(names) {
		if _, ok := g.table.Column(column); !ok {
			continue
		}
		t, err := processing.NewTransformer(names[column])
		if err != nil {
			return &ErrInvalidConfig{Msg: fmt.Sprintf("invalid transformers entry for column %s", column), Err: err}
		}
		assignments[column] = t
	}
	if len(assignments) == 0 {
		return nil
	}
	g.warnForUpdateTransformers(assignments)
	if err := g.processor.UpdateTransformers(assignments); err != nil {
		return &ErrInvalidConfig{Msg: "invalid transformers", Err: err}
	}
	return nil
}

// ParseNumericalDistributions converts loosely typed configuration into a
// column to family map. nil yields an empty map.
func ParseNumericalDistributions(raw interface{}) (map[string]string, error) {
	out := make(map[string]string)
	switch m := raw.(type) {
	case nil:
		return out, nil
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	case map[string]interface{}:
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, &ErrInvalidConfig{Msg: fmt.Sprintf("numerical_distributions[%s] must be a string, got %T", k, v)}
			}
			out[k] = s
		}
		return out, nil
	case map[interface{}]interface{}:
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, &ErrInvalidConfig{Msg: fmt.Sprintf("numerical_distributions key %v must be a string", k)}
			}
			s, ok := v.(string)
			if !ok {
				return nil, &ErrInvalidConfig{Msg: fmt.Sprintf("numerical_distributions[%s] must be a string, got %T", key, v)}
			}
			out[key] = s
		}
		return out, nil
	}
	return nil, &ErrInvalidConfig{Msg: fmt.Sprintf("numerical_distributions can only be a mapping, got %T", raw)}
}

// Table returns the table metadata the synthesizer was built for.
func (g *GaussianCopula) Table() *metadata.Table { return g.table }

// Fitted reports whether the synthesizer holds a fitted model.
func (g *GaussianCopula) Fitted() bool { return g.fitted }

// Processor returns the data processor.
func (g *GaussianCopula) Processor() *processing.DataProcessor { return g.processor }

// Fit preprocesses raw data and fits the model on the result.
func (g *GaussianCopula) Fit(data *frame.Frame) error {
	g.fitted = false
	g.model = nil
	if err := g.table.ValidateData(data); err != nil {
		return &ErrInvalidInput{Msg: "data does not match table metadata", Err: err}
	}
	processed, err := g.processor.FitTransform(data)
	if err != nil {
		return fmt.Errorf("preprocessing table %s: %w", g.table.Name, err)
	}
	return g.FitProcessed(processed)
}

// FitProcessed fits the copula on already processed numeric data. The family
// of a column is its own override, else the override of the column name
// without the ".value" suffix, else the default.
func (g *GaussianCopula) FitProcessed(processed *frame.Frame) error {
	g.fitted = false
	g.model = nil

	assignment := make(map[string]copula.Family)
	for _, column := range processed.Columns() {
		if f, ok := g.distributions[column]; ok {
			assignment[column] = f
			continue
		}
		if base := strings.TrimSuffix(column, ".value"); base != column {
			if f, ok := g.distributions[base]; ok {
				assignment[column] = f
			}
		}
	}

	if len(processed.Columns()) == 0 {
		// Nothing to model, e.g. a table of keys only.
		g.fitted = true
		return nil
	}

	model, err := copula.NewGaussianMultivariate(assignment, g.defaultFamily, uint64(g.opts.Seed))
	if err != nil {
		return &ErrInvalidConfig{Msg: "building copula", Err: err}
	}
	if err := model.Fit(processed); err != nil {
		return fmt.Errorf("fitting gaussian copula for table %s: %w", g.table.Name, err)
	}
	zap.L().Debug("fitted gaussian copula",
		zap.String("table", g.table.Name),
		zap.Int("rows", processed.Len()),
		zap.Strings("columns", model.Columns()))
	g.model = model
	g.fitted = true
	return nil
}

// SampleProcessed draws numRows rows in the processed space, conditioned on
// the given processed column values.
func (g *GaussianCopula) SampleProcessed(numRows int, conditions map[string]float64) (*frame.Frame, error) {
	if !g.fitted {
		return nil, &ErrNotFitted{Msg: "this synthesizer has not been fitted, please fit it before sampling"}
	}
	if numRows <= 0 {
		return nil, &ErrInvalidInput{Msg: fmt.Sprintf("num_rows must be a positive integer, got %d", numRows)}
	}
	if g.model == nil {
		if len(conditions) > 0 {
			return nil, &ErrInvalidInput{Msg: "table has no modeled columns to condition on"}
		}
		return frame.New(), nil
	}
	known := make(map[string]bool)
	for _, c := range g.model.Columns() {
		known[c] = true
	}
	for c := range conditions {
		if !known[c] {
			return nil, &ErrInvalidInput{Msg: fmt.Sprintf("unknown condition column %s", c)}
		}
	}
	sampled, err := g.model.Sample(numRows, conditions)
	if err != nil {
		return nil, fmt.Errorf("sampling gaussian copula for table %s: %w", g.table.Name, err)
	}
	return sampled, nil
}

// Sample draws numRows rows in the raw space. Conditioned columns hold exactly
// the requested values and id columns are filled from the key generators.
func (g *GaussianCopula) Sample(numRows int, conditions map[string]interface{}) (*frame.Frame, error) {
	raw, err := g.SampleWithoutKeys(numRows, conditions)
	if err != nil {
		return nil, err
	}
	for _, column := range g.processor.IDColumns() {
		if _, ok := conditions[column]; ok {
			continue
		}
		ids, err := g.keys.Generate(g.table.Name, column, numRows)
		if err != nil {
			return nil, err
		}
		if err := raw.SetColumn(column, ids); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// SampleWithoutKeys is Sample with unconditioned id columns left nil. It does
// not advance the key generators, so callers that own the keys of the table
// can fill them.
func (g *GaussianCopula) SampleWithoutKeys(numRows int, conditions map[string]interface{}) (*frame.Frame, error) {
	if !g.fitted || !g.processor.Fitted() {
		return nil, &ErrNotFitted{Msg: "this synthesizer has not been fitted, please fit it before sampling"}
	}
	if numRows <= 0 {
		return nil, &ErrInvalidInput{Msg: fmt.Sprintf("num_rows must be a positive integer, got %d", numRows)}
	}
	if pk := g.table.PrimaryKey; pk != "" && numRows > 1 {
		if _, ok := conditions[pk]; ok {
			return nil, &ErrInvalidInput{Msg: fmt.Sprintf(
				"cannot sample %d rows with a fixed value for primary key %s", numRows, pk)}
		}
	}
	processedConditions, err := g.processor.TransformConditions(conditions)
	if err != nil {
		return nil, &ErrInvalidInput{Msg: "invalid conditions", Err: err}
	}
	processed, err := g.SampleProcessed(numRows, processedConditions)
	if err != nil {
		return nil, err
	}

	var raw *frame.Frame
	if g.model == nil {
		raw = frame.New(g.processor.Columns()...)
		for _, c := range g.processor.Columns() {
			if err := raw.SetColumn(c, make([]interface{}, numRows)); err != nil {
				return nil, err
			}
		}
	} else {
		raw, err = g.processor.ReverseTransform(processed)
		if err != nil {
			return nil, fmt.Errorf("reverse transforming table %s: %w", g.table.Name, err)
		}
	}

	for column, value := range conditions {
		col, _ := g.table.Column(column)
		v, err := col.CoerceValue(value)
		if err != nil {
			return nil, &ErrInvalidInput{Msg: fmt.Sprintf("condition on column %s", column), Err: err}
		}
		fixed := make([]interface{}, numRows)
		for i := range fixed {
			fixed[i] = v
		}
		if err := raw.SetColumn(column, fixed); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// GetLearnedDistributions reports, for every modeled column, the family name
// and a copy of the fitted parameters. The family is looked up by the exact
// column name only.
func (g *GaussianCopula) GetLearnedDistributions() (map[string]Distribution, error) {
	if !g.fitted {
		return nil, &ErrNotFitted{Msg: "distributions have not been learned yet, please fit your model first"}
	}
	out := make(map[string]Distribution)
	if g.model == nil {
		return out, nil
	}
	dict, err := copystructure.Copy(g.model.ToDict())
	if err != nil {
		return nil, fmt.Errorf("copying parameters of table %s: %w", g.table.Name, err)
	}
	parameters := dict.(map[string]interface{})
	columns := parameters["columns"].([]string)
	univariates := parameters["univariates"].([]map[string]interface{})
	for i, column := range columns {
		learned := univariates[i]
		delete(learned, "type")
		family := g.defaultFamily
		if f, ok := g.distributions[column]; ok {
			family = f
		}
		out[column] = Distribution{
			Distribution:      string(family),
			LearnedParameters: learned,
		}
	}
	return out, nil
}

// UpdateTransformers replaces the transformers of the given columns. It must
// be followed by Fit to take effect.
func (g *GaussianCopula) UpdateTransformers(assignments map[string]processing.Transformer) error {
	g.warnForUpdateTransformers(assignments)
	if err := g.processor.UpdateTransformers(assignments); err != nil {
		return &ErrInvalidInput{Msg: "cannot update transformers", Err: err}
	}
	if g.fitted {
		zap.L().Warn("For this change to take effect, please refit the synthesizer using `Fit`.")
	}
	return nil
}

func (g *GaussianCopula) warnForUpdateTransformers(assignments map[string]processing.Transformer) {
	for _, column := range sortedKeys(assignments) {
		col, ok := g.table.Column(column)
		if !ok || col.SDType != metadata.Categorical {
			continue
		}
		if _, isOneHot := assignments[column].(*processing.OneHotEncoder); isOneHot {
			zap.L().Warn(fmt.Sprintf(
				"Using a OneHotEncoder transformer for column '%s' may slow down the preprocessing and modeling times.",
				column), zap.String("table", g.table.Name))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
