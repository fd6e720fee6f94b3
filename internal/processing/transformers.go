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
package processing

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
)

// Transformer converts one raw column into numeric columns and back.
type Transformer interface {
	Name() string
	Fit(column string, values []interface{}) error
	// OutputColumns lists the produced columns in order.
	OutputColumns() []string
	Transform(values []interface{}) ([][]float64, error)
	ReverseTransform(data [][]float64) ([]interface{}, error)
}

// NewTransformer returns an unfitted transformer by name.
func NewTransformer(name string) (Transformer, error) {
	switch name {
	case "FloatFormatter":
		return &FloatFormatter{LearnRoundingScheme: true, EnforceMinMaxValues: true}, nil
	case "LabelEncoder":
		return &LabelEncoder{AddNoise: true}, nil
	case "OneHotEncoder":
		return &OneHotEncoder{}, nil
	case "UnixTimestampEncoder":
		return &UnixTimestampEncoder{}, nil
	}
	return nil, fmt.Errorf("unknown transformer %q", name)
}

func valueColumn(column string) string  { return column + ".value" }
func isNullColumn(column string) string { return column + ".is_null" }

// numericSummary is shared by the transformers that model missing values
// with an is_null column and replace them with the mean.
type numericSummary struct {
	column       string
	mean         float64
	min, max     float64
	modelMissing bool
}

func (s *numericSummary) fit(column string, x []float64) {
	s.column = column
	s.modelMissing = false
	s.min, s.max = math.Inf(1), math.Inf(-1)
	var sum float64
	var n int
	for _, v := range x {
		if math.IsNaN(v) {
			s.modelMissing = true
			continue
		}
		sum += v
		n++
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
	}
	if n == 0 {
		s.mean, s.min, s.max = 0, 0, 0
		return
	}
	s.mean = sum / float64(n)
}

func (s *numericSummary) outputColumns() []string {
	if s.modelMissing {
		return []string{valueColumn(s.column), isNullColumn(s.column)}
	}
	return []string{valueColumn(s.column)}
}

func (s *numericSummary) transform(x []float64) [][]float64 {
	values := make([]float64, len(x))
	nulls := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			values[i] = s.mean
			nulls[i] = 1
			continue
		}
		values[i] = v
	}
	if s.modelMissing {
		return [][]float64{values, nulls}
	}
	return [][]float64{values}
}

// reverse returns the value column and a missing mask.
func (s *numericSummary) reverse(data [][]float64, clip bool) ([]float64, []bool, error) {
	if len(data) != len(s.outputColumns()) {
		return nil, nil, fmt.Errorf("column %s: expected %d input columns, got %d", s.column, len(s.outputColumns()), len(data))
	}
	values := make([]float64, len(data[0]))
	missing := make([]bool, len(data[0]))
	for i, v := range data[0] {
		if clip {
			v = math.Max(s.min, math.Min(s.max, v))
		}
		values[i] = v
		if s.modelMissing && data[1][i] > 0.5 {
			missing[i] = true
		}
	}
	return values, missing, nil
}

// FloatFormatter models numerical columns. Missing values are replaced by the
// mean and flagged in an is_null column when the fit data had any.
type FloatFormatter struct {
	EnforceMinMaxValues bool
	LearnRoundingScheme bool

	summary numericSummary
	digits  int
	integer bool
}

func (f *FloatFormatter) Name() string { return "FloatFormatter" }

func (f *FloatFormatter) Fit(column string, values []interface{}) error {
	x, err := toFloats(column, values)
	if err != nil {
		return err
	}
	f.summary.fit(column, x)
	f.integer = true
	for _, v := range values {
		switch v.(type) {
		case nil, int64, int, int32:
		default:
			f.integer = false
		}
	}
	f.digits = -1
	if f.LearnRoundingScheme {
		f.digits = learnRounding(x)
	}
	return nil
}

// learnRounding returns the smallest number of decimal digits that
// represents every value exactly, or -1 if more than 14 are needed.
func learnRounding(x []float64) int {
	for digits := 0; digits <= 14; digits++ {
		scale := math.Pow(10, float64(digits))
		ok := true
		for _, v := range x {
			if math.IsNaN(v) {
				continue
			}
			if math.Round(v*scale)/scale != v {
				ok = false
				break
			}
		}
		if ok {
			return digits
		}
	}
	return -1
}

func (f *FloatFormatter) OutputColumns() []string { return f.summary.outputColumns() }

func (f *FloatFormatter) Transform(values []interface{}) ([][]float64, error) {
	x, err := toFloats(f.summary.column, values)
	if err != nil {
		return nil, err
	}
	return f.summary.transform(x), nil
}

func (f *FloatFormatter) ReverseTransform(data [][]float64) ([]interface{}, error) {
	values, missing, err := f.summary.reverse(data, f.EnforceMinMaxValues)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		if missing[i] {
			continue
		}
		if f.digits >= 0 {
			scale := math.Pow(10, float64(f.digits))
			v = math.Round(v*scale) / scale
		}
		if f.integer {
			out[i] = int64(math.Round(v))
			continue
		}
		out[i] = v
	}
	return out, nil
}

// nilCategory stands in for missing values as a category key.
type nilCategory struct{}

func categoryKey(v interface{}) interface{} {
	if v == nil {
		return nilCategory{}
	}
	return frame.Key(v)
}

type categories struct {
	column string
	values []interface{}
	index  map[interface{}]int
}

func (c *categories) fit(column string, values []interface{}) {
	c.column = column
	c.values = nil
	c.index = make(map[interface{}]int)
	for _, v := range values {
		k := categoryKey(v)
		if _, ok := c.index[k]; ok {
			continue
		}
		c.index[k] = len(c.values)
		c.values = append(c.values, v)
	}
}

func (c *categories) lookup(v interface{}) (int, error) {
	i, ok := c.index[categoryKey(v)]
	if !ok {
		return 0, fmt.Errorf("column %s: unknown category %v", c.column, v)
	}
	return i, nil
}

// LabelEncoder maps each category to an integer. With AddNoise the value is
// spread uniformly over [i, i+1).
type LabelEncoder struct {
	AddNoise bool
	Seed     uint64

	cats categories
	rng  *rand.Rand
}

func (l *LabelEncoder) Name() string { return "LabelEncoder" }

func (l *LabelEncoder) Fit(column string, values []interface{}) error {
	l.cats.fit(column, values)
	l.rng = rand.New(rand.NewPCG(l.Seed, l.Seed+7))
	return nil
}

func (l *LabelEncoder) OutputColumns() []string { return []string{valueColumn(l.cats.column)} }

func (l *LabelEncoder) Transform(values []interface{}) ([][]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		idx, err := l.cats.lookup(v)
		if err != nil {
			return nil, err
		}
		out[i] = float64(idx)
		if l.AddNoise {
			out[i] += l.rng.Float64()
		}
	}
	return [][]float64{out}, nil
}

func (l *LabelEncoder) ReverseTransform(data [][]float64) ([]interface{}, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("column %s: expected 1 input column, got %d", l.cats.column, len(data))
	}
	k := len(l.cats.values)
	if k == 0 {
		return nil, fmt.Errorf("column %s: encoder has no categories", l.cats.column)
	}
	out := make([]interface{}, len(data[0]))
	for i, v := range data[0] {
		if l.AddNoise {
			v = math.Floor(v)
		} else {
			v = math.Round(v)
		}
		idx := int(math.Max(0, math.Min(float64(k-1), v)))
		out[i] = l.cats.values[idx]
	}
	return out, nil
}

// OneHotEncoder produces one indicator column per category.
type OneHotEncoder struct {
	cats categories
}

func (o *OneHotEncoder) Name() string { return "OneHotEncoder" }

func (o *OneHotEncoder) Fit(column string, values []interface{}) error {
	o.cats.fit(column, values)
	return nil
}

func (o *OneHotEncoder) OutputColumns() []string {
	out := make([]string, len(o.cats.values))
	for i := range out {
		out[i] = fmt.Sprintf("%s.value%d", o.cats.column, i)
	}
	return out
}

func (o *OneHotEncoder) Transform(values []interface{}) ([][]float64, error) {
	out := make([][]float64, len(o.cats.values))
	for j := range out {
		out[j] = make([]float64, len(values))
	}
	for i, v := range values {
		idx, err := o.cats.lookup(v)
		if err != nil {
			return nil, err
		}
		out[idx][i] = 1
	}
	return out, nil
}

func (o *OneHotEncoder) ReverseTransform(data [][]float64) ([]interface{}, error) {
	if len(data) != len(o.cats.values) || len(data) == 0 {
		return nil, fmt.Errorf("column %s: expected %d input columns, got %d", o.cats.column, len(o.cats.values), len(data))
	}
	out := make([]interface{}, len(data[0]))
	for i := range out {
		best := 0
		for j := 1; j < len(data); j++ {
			if data[j][i] > data[best][i] {
				best = j
			}
		}
		out[i] = o.cats.values[best]
	}
	return out, nil
}

// UnixTimestampEncoder models datetimes as seconds since the epoch.
type UnixTimestampEncoder struct {
	EnforceMinMaxValues bool

	summary      numericSummary
	wholeSeconds bool
}

func (u *UnixTimestampEncoder) Name() string { return "UnixTimestampEncoder" }

func (u *UnixTimestampEncoder) Fit(column string, values []interface{}) error {
	x, err := toSeconds(column, values)
	if err != nil {
		return err
	}
	u.summary.fit(column, x)
	u.wholeSeconds = true
	for _, v := range x {
		if !math.IsNaN(v) && v != math.Trunc(v) {
			u.wholeSeconds = false
			break
		}
	}
	return nil
}

func (u *UnixTimestampEncoder) OutputColumns() []string { return u.summary.outputColumns() }

func (u *UnixTimestampEncoder) Transform(values []interface{}) ([][]float64, error) {
	x, err := toSeconds(u.summary.column, values)
	if err != nil {
		return nil, err
	}
	return u.summary.transform(x), nil
}

func (u *UnixTimestampEncoder) ReverseTransform(data [][]float64) ([]interface{}, error) {
	values, missing, err := u.summary.reverse(data, u.EnforceMinMaxValues)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		if missing[i] {
			continue
		}
		if u.wholeSeconds {
			v = math.Round(v)
		}
		sec, frac := math.Modf(v)
		out[i] = time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	}
	return out, nil
}

func toFloats(column string, values []interface{}) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		x, ok := frame.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("column %s row %d: value %v (%T) is not numeric", column, i, v, v)
		}
		out[i] = x
	}
	return out, nil
}

func toSeconds(column string, values []interface{}) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
			out[i] = math.NaN()
		case time.Time:
			out[i] = float64(x.UnixNano()) / 1e9
		default:
			return nil, fmt.Errorf("column %s row %d: value %v (%T) is not a datetime", column, i, v, v)
		}
	}
	return out, nil
}
