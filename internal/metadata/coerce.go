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
package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
)

// datetimeLayouts are tried in order when a column has no datetime_format.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ValidateData checks that data matches the table: every column is present
// and the primary key is unique and not null.
func (t *Table) ValidateData(data *frame.Frame) error {
	for _, c := range t.Columns {
		if !data.Has(c.Name) {
			return fmt.Errorf("table %s: column %s missing from data", t.Name, c.Name)
		}
	}
	if t.PrimaryKey != "" {
		values, _ := data.Column(t.PrimaryKey)
		for i, v := range values {
			if v == nil {
				return fmt.Errorf("table %s: primary key %s is null at row %d", t.Name, t.PrimaryKey, i)
			}
		}
		if !data.IsUnique(t.PrimaryKey) {
			return fmt.Errorf("table %s: primary key %s has duplicate values", t.Name, t.PrimaryKey)
		}
	}
	return nil
}

// Coerce converts raw cell values (strings from CSV, driver values from SQL)
// into the Go types each column's sdtype expects. Columns not described by the
// table are kept unchanged.
func (t *Table) Coerce(data *frame.Frame) (*frame.Frame, error) {
	out := data.Clone()
	for _, c := range t.Columns {
		values, ok := data.Column(c.Name)
		if !ok {
			continue
		}
		coerced := make([]interface{}, len(values))
		for i, v := range values {
			cv, err := c.CoerceValue(v)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s row %d: %w", t.Name, c.Name, i, err)
			}
			coerced[i] = cv
		}
		if err := out.SetColumn(c.Name, coerced); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CoerceValue converts a single value for the column.
func (c Column) CoerceValue(v interface{}) (interface{}, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" && c.SDType != Categorical {
		return nil, nil
	}
	if v == nil {
		return nil, nil
	}
	switch c.SDType {
	case Numerical:
		return coerceNumber(v, c.Subtype == "integer")
	case Boolean:
		return coerceBool(v)
	case Datetime:
		return c.coerceTime(v)
	case ID:
		if c.Subtype == "string" || c.Subtype == "uuid" {
			return fmt.Sprint(v), nil
		}
		n, err := coerceNumber(v, true)
		if err != nil {
			// Non-numeric ids without a subtype are kept as strings.
			return fmt.Sprint(v), nil
		}
		return n, nil
	default:
		switch x := v.(type) {
		case string, bool:
			return x, nil
		}
		return frame.FormatValue(v), nil
	}
}

func coerceNumber(v interface{}, integer bool) (interface{}, error) {
	var f float64
	switch x := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as number", x)
		}
		f = parsed
	default:
		parsed, ok := frame.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v (%T) to number", v, v)
		}
		f = parsed
	}
	if math.IsNaN(f) {
		return nil, nil
	}
	if integer {
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("value %v is not an integer", f)
		}
		return int64(f), nil
	}
	return f, nil
}

func coerceBool(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(x)))
		if err != nil {
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "yes", "y":
				return true, nil
			case "no", "n":
				return false, nil
			}
			return nil, fmt.Errorf("cannot parse %q as boolean", x)
		}
		return b, nil
	default:
		f, ok := frame.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v (%T) to boolean", v, v)
		}
		return f != 0, nil
	}
}

func (c Column) coerceTime(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if c.DatetimeFormat != "" {
			ts, err := time.Parse(GoLayout(c.DatetimeFormat), s)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q with format %s: %w", s, c.DatetimeFormat, err)
			}
			return ts, nil
		}
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as datetime", s)
	default:
		f, ok := frame.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v (%T) to datetime", v, v)
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
}

// strftimeDirectives maps the common strftime directives to Go layout tokens.
var strftimeDirectives = strings.NewReplacer(
	"%Y", "2006", "%m", "01", "%d", "02", "%H", "15", "%M", "04",
	"%S", "05", "%f", "000000", "%y", "06", "%b", "Jan", "%B", "January",
	"%z", "-0700", "%Z", "MST", "%p", "PM", "%I", "03",
)

// GoLayout converts a strftime-like format to a Go time layout. Go layouts
// pass through unchanged.
func GoLayout(format string) string {
	if !strings.Contains(format, "%") {
		return format
	}
	return strftimeDirectives.Replace(format)
}
