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

// Package frame holds the in-memory rectangular table used by every layer:
// an ordered set of named columns of equal length.
package frame

import (
	"fmt"
	"math"
	"time"
)

// Frame is a column-oriented table. Values are nil (missing), float64, int64,
// string, bool or time.Time.
type Frame struct {
	names  []string
	values map[string][]interface{}
	length int
}

// New returns an empty frame with the given columns.
func New(columns ...string) *Frame {
	f := &Frame{values: make(map[string][]interface{}, len(columns))}
	for _, name := range columns {
		if _, exists := f.values[name]; exists {
			continue
		}
		f.names = append(f.names, name)
		f.values[name] = []interface{}{}
	}
	return f
}

// FromRows builds a frame from row-major values.
func FromRows(columns []string, rows [][]interface{}) (*Frame, error) {
	f := New(columns...)
	if len(f.names) != len(columns) {
		return nil, fmt.Errorf("duplicate column names in %v", columns)
	}
	for i, row := range rows {
		if err := f.AppendRow(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return f, nil
}

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return f.length
}

// Shape returns (rows, columns).
func (f *Frame) Shape() (int, int) {
	return f.length, len(f.names)
}

// Has reports whether the frame has the named column.
func (f *Frame) Has(name string) bool {
	_, ok := f.values[name]
	return ok
}

// Column returns the values of a column. The slice is shared with the frame.
func (f *Frame) Column(name string) ([]interface{}, bool) {
	v, ok := f.values[name]
	return v, ok
}

// SetColumn replaces or appends a column. Setting a non-empty column on a
// frame without rows fixes its length and fills the other columns with nil.
func (f *Frame) SetColumn(name string, values []interface{}) error {
	switch {
	case f.length == 0 && len(values) > 0:
		for _, n := range f.names {
			if n != name {
				f.values[n] = make([]interface{}, len(values))
			}
		}
	case len(values) != f.length && !(len(f.names) == 1 && f.names[0] == name):
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), f.length)
	}
	if _, exists := f.values[name]; !exists {
		f.names = append(f.names, name)
	}
	f.values[name] = values
	f.length = len(values)
	return nil
}

// Float64s returns a column converted to float64. Missing values become NaN.
func (f *Frame) Float64s(name string) ([]float64, error) {
	col, ok := f.values[name]
	if !ok {
		return nil, fmt.Errorf("column %s not found", name)
	}
	out := make([]float64, len(col))
	for i, v := range col {
		x, ok := ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("column %s row %d: value %v (%T) is not numeric", name, i, v, v)
		}
		out[i] = x
	}
	return out, nil
}

// SetFloat64s stores a numeric column.
func (f *Frame) SetFloat64s(name string, values []float64) error {
	col := make([]interface{}, len(values))
	for i, v := range values {
		col[i] = v
	}
	return f.SetColumn(name, col)
}

// Row returns a copy of row i in column order.
func (f *Frame) Row(i int) []interface{} {
	row := make([]interface{}, len(f.names))
	for j, name := range f.names {
		row[j] = f.values[name][i]
	}
	return row
}

// Rows returns all rows in column order.
func (f *Frame) Rows() [][]interface{} {
	rows := make([][]interface{}, f.length)
	for i := range rows {
		rows[i] = f.Row(i)
	}
	return rows
}

// AppendRow appends one row given in column order.
func (f *Frame) AppendRow(row []interface{}) error {
	if len(row) != len(f.names) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(row), len(f.names))
	}
	for j, name := range f.names {
		f.values[name] = append(f.values[name], row[j])
	}
	f.length++
	return nil
}

// Append adds the rows of other, matching columns by name.
func (f *Frame) Append(other *Frame) error {
	for _, name := range f.names {
		if !other.Has(name) {
			return fmt.Errorf("column %s missing from appended frame", name)
		}
	}
	for _, name := range f.names {
		f.values[name] = append(f.values[name], other.values[name]...)
	}
	f.length += other.length
	return nil
}

// Select returns a new frame with the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := New()
	out.length = f.length
	for _, name := range names {
		col, ok := f.values[name]
		if !ok {
			return nil, fmt.Errorf("column %s not found", name)
		}
		dup := make([]interface{}, len(col))
		copy(dup, col)
		out.names = append(out.names, name)
		out.values[name] = dup
	}
	return out, nil
}

// Drop returns a new frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	var keep []string
	for _, n := range f.names {
		if !skip[n] {
			keep = append(keep, n)
		}
	}
	out, _ := f.Select(keep...)
	out.length = f.length
	return out
}

// Clone returns a copy of the frame. Values themselves are immutable and shared.
func (f *Frame) Clone() *Frame {
	out, _ := f.Select(f.names...)
	out.length = f.length
	return out
}

// IsUnique reports whether the non-missing values of a column are distinct.
func (f *Frame) IsUnique(name string) bool {
	seen := make(map[interface{}]bool, f.length)
	for _, v := range f.values[name] {
		if v == nil {
			continue
		}
		k := Key(v)
		if seen[k] {
			return false
		}
		seen[k] = true
	}
	return true
}

// Key returns a comparable representation of v suitable for map keys.
// Integral floats and ints collapse to the same key.
func Key(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UnixNano()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []byte:
		return string(x)
	}
	return v
}

// ToFloat64 converts numeric-like values. nil maps to NaN.
func ToFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case time.Time:
		return float64(x.UnixNano()) / 1e9, true
	}
	return 0, false
}
